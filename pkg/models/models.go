package models

import "time"

type OrderStatus string

const (
	ORDER_STATUS_PENDING    OrderStatus = "PENDING"
	ORDER_STATUS_CONFIRMED  OrderStatus = "CONFIRMED"
	ORDER_STATUS_PREPARING  OrderStatus = "PREPARING"
	ORDER_STATUS_READY      OrderStatus = "READY"
	ORDER_STATUS_PICKED_UP  OrderStatus = "PICKED_UP"
	ORDER_STATUS_IN_TRANSIT OrderStatus = "IN_TRANSIT"
	ORDER_STATUS_DELIVERED  OrderStatus = "DELIVERED"
	ORDER_STATUS_CANCELLED  OrderStatus = "CANCELLED"
)

var statusRank = map[OrderStatus]int{
	ORDER_STATUS_PENDING:    0,
	ORDER_STATUS_CONFIRMED:  1,
	ORDER_STATUS_PREPARING:  2,
	ORDER_STATUS_READY:      3,
	ORDER_STATUS_PICKED_UP:  4,
	ORDER_STATUS_IN_TRANSIT: 5,
	ORDER_STATUS_DELIVERED:  6,
}

func (s OrderStatus) IsTerminal() bool {
	return s == ORDER_STATUS_DELIVERED || s == ORDER_STATUS_CANCELLED
}

// Forward-only through the delivery pipeline; CANCELLED is reachable
// from any non-terminal state.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == ORDER_STATUS_CANCELLED {
		return true
	}
	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]
	return okFrom && okTo && to > from
}

// AwaitingPickup reports whether the rider's current waypoint is still
// the restaurant rather than the delivery address.
func (s OrderStatus) AwaitingPickup() bool {
	return statusRank[s] < statusRank[ORDER_STATUS_PICKED_UP]
}

type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// LocationPing is a rider-originated GPS sample.
type LocationPing struct {
	Latitude       float64   `json:"lat"`
	Longitude      float64   `json:"lon"`
	AccuracyMeters float64   `json:"accuracy_m"`
	Timestamp      time.Time `json:"timestamp"`
}

func (p LocationPing) Point() Location {
	return Location{Latitude: p.Latitude, Longitude: p.Longitude}
}

type Order struct {
	OrderId            string      `json:"order_id"`
	OrderNumber        string      `json:"order_number"`
	CustomerId         string      `json:"customer_id"`
	RestaurantId       string      `json:"restaurant_id"`
	Status             OrderStatus `json:"status"`
	Priority           int         `json:"priority"`
	AssignedRiderId    string      `json:"assigned_rider_id,omitempty"`
	RestaurantLocation Location    `json:"restaurant_location"`
	DeliveryLocation   Location    `json:"delivery_location"`
	CreatedAt          time.Time   `json:"created_at"`
	SlaDeadline        time.Time   `json:"sla_deadline"`
	SlaBreached        bool        `json:"sla_breached"`
}

// Waypoint is the location the assigned rider is currently heading to.
func (o Order) Waypoint() Location {
	if o.Status.AwaitingPickup() {
		return o.RestaurantLocation
	}
	return o.DeliveryLocation
}

type RiderStatus string

const (
	RIDER_STATUS_AVAILABLE RiderStatus = "AVAILABLE"
	RIDER_STATUS_BUSY      RiderStatus = "BUSY"
	RIDER_STATUS_OFFLINE   RiderStatus = "OFFLINE"
)

type Rider struct {
	RiderId         string       `json:"rider_id"`
	Name            string       `json:"name"`
	IsOnline        bool         `json:"is_online"`
	Status          RiderStatus  `json:"status"`
	Rating          float64      `json:"rating"`
	MaxActiveOrders int          `json:"max_active_orders"`
	ActiveOrderIds  []string     `json:"active_order_ids"`
	CurrentLocation LocationPing `json:"current_location"`
}

func (r Rider) Load() int { return len(r.ActiveOrderIds) }

func (r Rider) HasCapacity() bool {
	return r.Load() < r.MaxActiveOrders
}

func (r Rider) HoldsOrder(orderId string) bool {
	for _, id := range r.ActiveOrderIds {
		if id == orderId {
			return true
		}
	}
	return false
}

type AssignmentState string

const (
	ASSIGNMENT_STATE_PROPOSED    AssignmentState = "PROPOSED"
	ASSIGNMENT_STATE_ACCEPTED    AssignmentState = "ACCEPTED"
	ASSIGNMENT_STATE_IN_PROGRESS AssignmentState = "IN_PROGRESS"
	ASSIGNMENT_STATE_COMPLETED   AssignmentState = "COMPLETED"
	ASSIGNMENT_STATE_RELEASED    AssignmentState = "RELEASED"
)

func (s AssignmentState) IsActive() bool {
	return s == ASSIGNMENT_STATE_PROPOSED ||
		s == ASSIGNMENT_STATE_ACCEPTED ||
		s == ASSIGNMENT_STATE_IN_PROGRESS
}

// Assignment binds one order to one rider for the duration of a delivery
// attempt. At most one non-released assignment exists per order.
type Assignment struct {
	AssignmentId string          `json:"assignment_id"`
	OrderId      string          `json:"order_id"`
	RiderId      string          `json:"rider_id"`
	State        AssignmentState `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
	ReleasedAt   time.Time       `json:"released_at,omitempty"`
}

type AlertType string

const (
	ALERT_TYPE_SLA_BREACH    AlertType = "SLA_BREACH"
	ALERT_TYPE_RIDER_OFFLINE AlertType = "RIDER_OFFLINE"
	ALERT_TYPE_HIGH_DEMAND   AlertType = "HIGH_DEMAND"
	ALERT_TYPE_PAYMENT_ISSUE AlertType = "PAYMENT_ISSUE"
)

type AlertSeverity string

const (
	ALERT_SEVERITY_LOW      AlertSeverity = "LOW"
	ALERT_SEVERITY_MEDIUM   AlertSeverity = "MEDIUM"
	ALERT_SEVERITY_HIGH     AlertSeverity = "HIGH"
	ALERT_SEVERITY_CRITICAL AlertSeverity = "CRITICAL"
)

var severityRank = map[AlertSeverity]int{
	ALERT_SEVERITY_LOW:      0,
	ALERT_SEVERITY_MEDIUM:   1,
	ALERT_SEVERITY_HIGH:     2,
	ALERT_SEVERITY_CRITICAL: 3,
}

func (s AlertSeverity) Rank() int { return severityRank[s] }

func (s AlertSeverity) AtLeast(other AlertSeverity) bool {
	return s.Rank() >= other.Rank()
}

type SystemAlert struct {
	AlertId string    `json:"alert_id"`
	Type    AlertType `json:"type"`
	// SubjectId is the entity the alert is about: an order for
	// SLA_BREACH, a rider for RIDER_OFFLINE, a restaurant zone for
	// HIGH_DEMAND. Deduplication is keyed on (SubjectId, Type).
	SubjectId      string        `json:"subject_id"`
	Severity       AlertSeverity `json:"severity"`
	Message        string        `json:"message"`
	AffectedOrders []string      `json:"affected_orders"`
	AffectedRiders []string      `json:"affected_riders,omitempty"`
	Acknowledged   bool          `json:"acknowledged"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type GeofenceEventKind string

const (
	GEOFENCE_RIDER_APPROACHING GeofenceEventKind = "RIDER_APPROACHING"
	GEOFENCE_RIDER_ARRIVED     GeofenceEventKind = "RIDER_ARRIVED"
)

// GeofenceEvent is ephemeral: emitted through the broadcaster, never stored.
type GeofenceEvent struct {
	OrderId        string            `json:"order_id"`
	RiderId        string            `json:"rider_id"`
	Kind           GeofenceEventKind `json:"kind"`
	DistanceMeters float64           `json:"distance_m"`
	Timestamp      time.Time         `json:"timestamp"`
}
