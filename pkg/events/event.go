package events

import (
	"time"

	"delivery-dispatch/pkg/models"

	"github.com/google/uuid"
)

type EventType string

const (
	EvtTypeOrderPlaced        EventType = "ORDER_PLACED"
	EvtTypeOrderAssigned      EventType = "ORDER_ASSIGNED"
	EvtTypeOrderStatusChanged EventType = "ORDER_STATUS_CHANGED"
	EvtTypeSlaBreachRaised    EventType = "SLA_BREACH_RAISED"
	EvtTypeSlaBreachEscalated EventType = "SLA_BREACH_ESCALATED"
	EvtTypeRiderApproaching   EventType = "RIDER_APPROACHING"
	EvtTypeRiderArrived       EventType = "RIDER_ARRIVED"
	EvtTypeAlertRaised        EventType = "ALERT_RAISED"
	EvtTypeAlertAcknowledged  EventType = "ALERT_ACKNOWLEDGED"
	EvtTypeUnassignedBacklog  EventType = "UNASSIGNED_BACKLOG"
	EvtTypeRiderLocationPing  EventType = "RIDER_LOCATION_PING"
	EvtTypeDeadLetterQueue    EventType = "DEAD_LETTER_QUEUE"
)

const (
	ProducerDispatchAPI      = "dispatch-api"
	ProducerAssignmentEngine = "assignment-engine"
	ProducerSlaMonitor       = "sla-monitor"
	ProducerGeofenceDetector = "geofence-detector"
	ProducerAlertStore       = "alert-store"
)

type Metadata struct {
	MessageId string    `json:"message_id"`
	Type      EventType `json:"type"`
	OrderId   string    `json:"order_id,omitempty"`
	RiderId   string    `json:"rider_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Producer  string    `json:"producer"`
}

func NewMetadata(evtType EventType, orderId, riderId, producer string) Metadata {
	return Metadata{
		MessageId: uuid.NewString(),
		Type:      evtType,
		OrderId:   orderId,
		RiderId:   riderId,
		Timestamp: time.Now().UTC(),
		Producer:  producer,
	}
}

type DomainEvent interface {
	GetMetadata() Metadata
}

// order-assigned (assign and reassign)
type EventOrderAssigned struct {
	Metadata     Metadata `json:"mtdt"`
	AssignmentId string   `json:"assignment_id"`
	CustomerId   string   `json:"customer_id"`
	RestaurantId string   `json:"restaurant_id"`
	Reassigned   bool     `json:"reassigned"`
}

func (e EventOrderAssigned) GetMetadata() Metadata { return e.Metadata }

type EventOrderStatusChanged struct {
	Metadata     Metadata           `json:"mtdt"`
	CustomerId   string             `json:"customer_id"`
	RestaurantId string             `json:"restaurant_id"`
	OldStatus    models.OrderStatus `json:"old_status"`
	NewStatus    models.OrderStatus `json:"new_status"`
}

func (e EventOrderStatusChanged) GetMetadata() Metadata { return e.Metadata }

// sla-breach raised/escalated
type EventSlaBreach struct {
	Metadata       Metadata             `json:"mtdt"`
	CustomerId     string               `json:"customer_id"`
	RestaurantId   string               `json:"restaurant_id"`
	Severity       models.AlertSeverity `json:"severity"`
	OverrunSeconds int64                `json:"overrun_seconds"`
}

func (e EventSlaBreach) GetMetadata() Metadata { return e.Metadata }

// rider-approaching/rider-arrived
type EventGeofence struct {
	Metadata       Metadata                 `json:"mtdt"`
	CustomerId     string                   `json:"customer_id"`
	RestaurantId   string                   `json:"restaurant_id"`
	Kind           models.GeofenceEventKind `json:"kind"`
	DistanceMeters float64                  `json:"distance_m"`
	// PickupPhase marks a restaurant-waypoint event; those go to the
	// vendor, drop-off events go to the customer.
	PickupPhase bool `json:"pickup_phase"`
}

func (e EventGeofence) GetMetadata() Metadata { return e.Metadata }

// alert-raised/alert-acknowledged
type EventAlert struct {
	Metadata Metadata           `json:"mtdt"`
	Alert    models.SystemAlert `json:"alert"`
}

func (e EventAlert) GetMetadata() Metadata { return e.Metadata }

// unassigned-backlog signal, consumed by the SLA monitor
type EventUnassignedBacklog struct {
	Metadata     Metadata  `json:"mtdt"`
	RestaurantId string    `json:"restaurant_id"`
	Priority     int       `json:"priority"`
	WaitingSince time.Time `json:"waiting_since"`
}

func (e EventUnassignedBacklog) GetMetadata() Metadata { return e.Metadata }

// inbound over the command topic
type EventRiderLocationPing struct {
	Metadata Metadata            `json:"mtdt"`
	Ping     models.LocationPing `json:"ping"`
}

func (e EventRiderLocationPing) GetMetadata() Metadata { return e.Metadata }

type EventOrderPlaced struct {
	Metadata Metadata            `json:"mtdt"`
	Request  models.OrderRequest `json:"request"`
}

func (e EventOrderPlaced) GetMetadata() Metadata { return e.Metadata }

type EventDLQ struct {
	Metadata     Metadata `json:"mtdt"`
	ErrorDetails error    `json:"error_details"`
	Payload      []byte   `json:"payload"`
}

func (e EventDLQ) GetMetadata() Metadata { return e.Metadata }
