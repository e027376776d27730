package geofence

import (
	"context"
	"log"
	"sync"
	"time"

	"delivery-dispatch/pkg/events"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/routing"
	"delivery-dispatch/pkg/state"
	"delivery-dispatch/pkg/utils"
)

type band int

const (
	bandOutside band = iota
	bandApproach
	bandArrival
)

type Config struct {
	ApproachRadiusMeters float64
	ArrivalRadiusMeters  float64
}

func ConfigFromEnv() Config {
	return Config{
		ApproachRadiusMeters: utils.GetEnvFloat("GEOFENCE_APPROACH_RADIUS_M", 500),
		ArrivalRadiusMeters:  utils.GetEnvFloat("GEOFENCE_ARRIVAL_RADIUS_M", 50),
	}
}

type Publisher interface {
	Publish(evt events.DomainEvent)
}

// Detector computes rider proximity to the active waypoint of each order
// the rider holds. Band transitions are debounced per (rider, order,
// waypoint): staying inside a band never re-emits, leaving and coming
// back does.
type Detector struct {
	store     *state.Store
	router    routing.Router
	publisher Publisher
	conf      Config

	mu       sync.Mutex
	lastBand map[string]band
}

func NewDetector(store *state.Store, router routing.Router, publisher Publisher, conf Config) *Detector {
	return &Detector{
		store:     store,
		router:    router,
		publisher: publisher,
		conf:      conf,
		lastBand:  make(map[string]band),
	}
}

// OnRiderLocationUpdate records the rider-originated ping in the state
// store and evaluates proximity for every active order the rider holds.
func (d *Detector) OnRiderLocationUpdate(ctx context.Context, riderId string, ping models.LocationPing) ([]models.GeofenceEvent, error) {
	if ping.Timestamp.IsZero() {
		ping.Timestamp = time.Now().UTC()
	}

	rider, err := d.store.UpdateRider(ctx, riderId, func(r *models.Rider) error {
		r.CurrentLocation = ping
		return nil
	})
	if err != nil {
		return nil, err
	}

	var emitted []models.GeofenceEvent
	for _, orderId := range rider.ActiveOrderIds {
		order, err := d.store.GetOrder(ctx, orderId)
		if err != nil {
			log.Printf("[GEOFENCE] Failed to load order %s for rider %s: %v", orderId, riderId, err)
			continue
		}
		if order.Status.IsTerminal() {
			d.forget(riderId, orderId)
			continue
		}

		evt, ok := d.evaluate(riderId, order, ping)
		if !ok {
			continue
		}
		emitted = append(emitted, evt)
		if d.publisher != nil {
			d.publisher.Publish(d.toBroadcast(order, evt))
		}
	}

	return emitted, nil
}

func (d *Detector) evaluate(riderId string, order models.Order, ping models.LocationPing) (models.GeofenceEvent, bool) {
	waypoint := order.Waypoint()
	distance := d.router.Distance(ping.Point(), waypoint)
	current := d.classify(distance)

	key := debounceKey(riderId, order)

	d.mu.Lock()
	previous := d.lastBand[key]
	d.lastBand[key] = current
	d.mu.Unlock()

	if current == previous || current == bandOutside {
		return models.GeofenceEvent{}, false
	}

	kind := models.GEOFENCE_RIDER_APPROACHING
	if current == bandArrival {
		kind = models.GEOFENCE_RIDER_ARRIVED
	}

	return models.GeofenceEvent{
		OrderId:        order.OrderId,
		RiderId:        riderId,
		Kind:           kind,
		DistanceMeters: distance,
		Timestamp:      ping.Timestamp,
	}, true
}

func (d *Detector) classify(distance float64) band {
	switch {
	case distance <= d.conf.ArrivalRadiusMeters:
		return bandArrival
	case distance <= d.conf.ApproachRadiusMeters:
		return bandApproach
	default:
		return bandOutside
	}
}

func (d *Detector) toBroadcast(order models.Order, evt models.GeofenceEvent) events.EventGeofence {
	evtType := events.EvtTypeRiderApproaching
	if evt.Kind == models.GEOFENCE_RIDER_ARRIVED {
		evtType = events.EvtTypeRiderArrived
	}
	return events.EventGeofence{
		Metadata:       events.NewMetadata(evtType, order.OrderId, evt.RiderId, events.ProducerGeofenceDetector),
		CustomerId:     order.CustomerId,
		RestaurantId:   order.RestaurantId,
		Kind:           evt.Kind,
		DistanceMeters: evt.DistanceMeters,
		PickupPhase:    order.Status.AwaitingPickup(),
	}
}

func (d *Detector) forget(riderId, orderId string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastBand, riderId+"|"+orderId+"|pickup")
	delete(d.lastBand, riderId+"|"+orderId+"|dropoff")
}

// The waypoint flips at PICKED_UP, so each leg debounces independently.
func debounceKey(riderId string, order models.Order) string {
	phase := "dropoff"
	if order.Status.AwaitingPickup() {
		phase = "pickup"
	}
	return riderId + "|" + order.OrderId + "|" + phase
}
