package broadcast

import (
	"context"
	"log"
	"sync"
	"time"

	"delivery-dispatch/pkg/events"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleRider    Role = "rider"
	RoleAdmin    Role = "admin"
)

// Scope binds an observer to the slice of the event stream it may see:
// customers their own orders, vendors their restaurant's orders, riders
// their own assignments, admins everything.
type Scope struct {
	Role        Role
	PrincipalId string
}

type Subscriber struct {
	ObserverId string
	Scope      Scope
	Events     chan events.DomainEvent
}

// Notifier is the external push/messaging collaborator. Fire-and-forget:
// failures are logged here and never retried.
type Notifier interface {
	Notify(ctx context.Context, evt events.DomainEvent) error
}

// Hub fans out state-change events to connected observers. Delivery is
// at-most-once per subscriber: a full buffer drops the event, and a
// reconnecting observer re-fetches current state instead of replaying.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]*Subscriber
	notifier Notifier
	bufSize  int
}

func NewHub(notifier Notifier, bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Hub{
		subs:     make(map[string]*Subscriber),
		notifier: notifier,
		bufSize:  bufSize,
	}
}

func (h *Hub) Subscribe(observerId string, scope Scope) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.subs[observerId]; ok {
		close(old.Events)
	}

	sub := &Subscriber{
		ObserverId: observerId,
		Scope:      scope,
		Events:     make(chan events.DomainEvent, h.bufSize),
	}
	h.subs[observerId] = sub
	return sub
}

func (h *Hub) Unsubscribe(observerId string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[observerId]; ok {
		close(sub.Events)
		delete(h.subs, observerId)
	}
}

func (h *Hub) Publish(evt events.DomainEvent) {
	aud := audienceFor(evt)

	h.mu.RLock()
	for _, sub := range h.subs {
		if !aud.covers(sub.Scope) {
			continue
		}
		select {
		case sub.Events <- evt:
		default:
			// Slow consumer: drop, the observer re-snapshots on reconnect.
			log.Printf("[BROADCAST] Dropped %s for observer %s (buffer full)",
				evt.GetMetadata().Type, sub.ObserverId)
		}
	}
	h.mu.RUnlock()

	if h.notifier != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := h.notifier.Notify(ctx, evt); err != nil {
			log.Printf("[BROADCAST] Failed to notify external sink for %s: %v",
				evt.GetMetadata().Type, err)
		}
	}
}

// audience names who may see one event.
type audience struct {
	customerId   string
	restaurantId string
	riderId      string
}

func (a audience) covers(scope Scope) bool {
	switch scope.Role {
	case RoleAdmin:
		return true
	case RoleCustomer:
		return a.customerId != "" && a.customerId == scope.PrincipalId
	case RoleVendor:
		return a.restaurantId != "" && a.restaurantId == scope.PrincipalId
	case RoleRider:
		return a.riderId != "" && a.riderId == scope.PrincipalId
	default:
		return false
	}
}

// audienceFor is the one place event payloads are interpreted for
// scoping; the switch is exhaustive over the broadcast variants.
func audienceFor(evt events.DomainEvent) audience {
	md := evt.GetMetadata()

	switch e := evt.(type) {
	case events.EventOrderAssigned:
		return audience{customerId: e.CustomerId, restaurantId: e.RestaurantId, riderId: md.RiderId}
	case events.EventOrderStatusChanged:
		return audience{customerId: e.CustomerId, restaurantId: e.RestaurantId, riderId: md.RiderId}
	case events.EventSlaBreach:
		return audience{customerId: e.CustomerId, restaurantId: e.RestaurantId, riderId: md.RiderId}
	case events.EventGeofence:
		// Restaurant-waypoint arrivals notify the vendor, who acts
		// explicitly; they never reach the customer.
		if e.PickupPhase {
			return audience{restaurantId: e.RestaurantId, riderId: md.RiderId}
		}
		return audience{customerId: e.CustomerId, riderId: md.RiderId}
	case events.EventAlert:
		// Operator-facing only.
		return audience{}
	case events.EventUnassignedBacklog:
		return audience{restaurantId: e.RestaurantId}
	default:
		return audience{}
	}
}
