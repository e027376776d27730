package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"delivery-dispatch/pkg/alerts"
	"delivery-dispatch/pkg/assignment"
	svcerror "delivery-dispatch/pkg/error"
	"delivery-dispatch/pkg/events"
	"delivery-dispatch/pkg/geofence"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/routing"
	"delivery-dispatch/pkg/state"
	"delivery-dispatch/pkg/utils"

	"github.com/google/uuid"
)

type Sink interface {
	SaveOrder(order models.Order)
	SaveRider(rider models.Rider)
}

// Service orchestrates order intake, status transitions and rider
// lifecycle around the dispatch components. HTTP handlers and the
// command-topic consumer both land here.
type Service struct {
	Store      *state.Store
	Engine     *assignment.Engine
	Detector   *geofence.Detector
	Alerts     *alerts.Store
	Router     routing.Router
	Hub        assignment.Publisher
	Sink       Sink
	Dispatcher *events.Dispatcher

	DefaultPrepTime time.Duration
	SlaBuffer       time.Duration
	MaxActiveOrders int
}

func NewService(store *state.Store, engine *assignment.Engine, detector *geofence.Detector, alertStore *alerts.Store, router routing.Router, hub assignment.Publisher, sink Sink) *Service {
	svc := &Service{
		Store:           store,
		Engine:          engine,
		Detector:        detector,
		Alerts:          alertStore,
		Router:          router,
		Hub:             hub,
		Sink:            sink,
		Dispatcher:      events.NewDispatcher(),
		DefaultPrepTime: utils.GetEnvDuration("ORDER_DEFAULT_PREP_TIME", 15*time.Minute),
		SlaBuffer:       utils.GetEnvDuration("ORDER_SLA_BUFFER", 10*time.Minute),
		MaxActiveOrders: utils.GetEnvInt("RIDER_MAX_ACTIVE_ORDERS", 2),
	}

	events.Register(svc.Dispatcher, events.EvtTypeOrderPlaced, svc.onOrderPlaced)
	events.Register(svc.Dispatcher, events.EvtTypeRiderLocationPing, svc.onLocationPing)

	return svc
}

// CreateOrder confirms the order, derives its SLA deadline from prep
// time, estimated travel time and the buffer policy, and runs a first
// assignment attempt. No eligible rider is not a failure here: the
// order enters the backlog.
func (s *Service) CreateOrder(ctx context.Context, req *models.OrderRequest) (models.Order, error) {
	now := time.Now().UTC()

	prep := s.DefaultPrepTime
	if req.PrepTimeMinutes > 0 {
		prep = time.Duration(req.PrepTimeMinutes) * time.Minute
	}
	travel := s.Router.EstimateTravelTime(req.RestaurantLocation, req.DeliveryLocation)

	order := models.Order{
		OrderId:            uuid.NewString(),
		OrderNumber:        req.OrderNumber,
		CustomerId:         req.CustomerId,
		RestaurantId:       req.RestaurantId,
		Status:             models.ORDER_STATUS_CONFIRMED,
		Priority:           req.Priority,
		RestaurantLocation: req.RestaurantLocation,
		DeliveryLocation:   req.DeliveryLocation,
		CreatedAt:          now,
		SlaDeadline:        now.Add(prep + travel + s.SlaBuffer),
	}
	if order.OrderNumber == "" {
		order.OrderNumber = fmt.Sprintf("ORD-%s", order.OrderId[:8])
	}

	if err := s.Store.PutOrder(ctx, order); err != nil {
		return models.Order{}, svcerror.AddOp(err, "Service.CreateOrder")
	}
	if s.Sink != nil {
		s.Sink.SaveOrder(order)
	}

	if _, err := s.Engine.Assign(ctx, order.OrderId, ""); err != nil {
		if !errors.Is(err, svcerror.ErrNoRiderAvailable) {
			return models.Order{}, svcerror.AddOp(err, "Service.CreateOrder")
		}
		log.Printf("[DISPATCH] Order %s entered the unassigned backlog", order.OrderId)
	}

	return s.Store.GetOrder(ctx, order.OrderId)
}

// UpdateOrderStatus applies a vendor/rider-driven transition and keeps
// the assignment lifecycle in step.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderId string, next models.OrderStatus) (models.Order, error) {
	var previous models.OrderStatus
	updated, err := s.Store.UpdateOrder(ctx, orderId, func(o *models.Order) error {
		if !o.Status.CanTransitionTo(next) {
			return svcerror.New(
				svcerror.ErrInvalidTransition,
				svcerror.WithOp("Service.UpdateOrderStatus"),
				svcerror.WithMsg(fmt.Sprintf("cannot transition order %s from %s to %s", orderId, o.Status, next)),
			)
		}
		previous = o.Status
		o.Status = next
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}

	s.Engine.HandleStatusChange(ctx, updated)

	if s.Sink != nil {
		s.Sink.SaveOrder(updated)
	}
	if s.Hub != nil {
		s.Hub.Publish(events.EventOrderStatusChanged{
			Metadata:     events.NewMetadata(events.EvtTypeOrderStatusChanged, updated.OrderId, updated.AssignedRiderId, events.ProducerDispatchAPI),
			CustomerId:   updated.CustomerId,
			RestaurantId: updated.RestaurantId,
			OldStatus:    previous,
			NewStatus:    next,
		})
	}

	return updated, nil
}

func (s *Service) RegisterRider(ctx context.Context, req *models.RiderRequest) (models.Rider, error) {
	rider := models.Rider{
		RiderId:         uuid.NewString(),
		Name:            req.Name,
		IsOnline:        true,
		Status:          models.RIDER_STATUS_AVAILABLE,
		Rating:          req.Rating,
		MaxActiveOrders: req.MaxActiveOrders,
		CurrentLocation: req.Location,
	}
	if rider.Rating <= 0 {
		rider.Rating = 4.5
	}
	if rider.MaxActiveOrders <= 0 {
		rider.MaxActiveOrders = s.MaxActiveOrders
	}
	if rider.CurrentLocation.Timestamp.IsZero() {
		rider.CurrentLocation.Timestamp = time.Now().UTC()
	}

	if err := s.Store.PutRider(ctx, rider); err != nil {
		return models.Rider{}, svcerror.AddOp(err, "Service.RegisterRider")
	}
	if s.Sink != nil {
		s.Sink.SaveRider(rider)
	}
	return rider, nil
}

// SetRiderOnline flips rider presence. Going offline keeps the active
// order set intact; the SLA scan raises the alert and reassigns.
func (s *Service) SetRiderOnline(ctx context.Context, riderId string, online bool) (models.Rider, error) {
	rider, err := s.Store.UpdateRider(ctx, riderId, func(r *models.Rider) error {
		r.IsOnline = online
		switch {
		case !online:
			r.Status = models.RIDER_STATUS_OFFLINE
		case len(r.ActiveOrderIds) == 0:
			r.Status = models.RIDER_STATUS_AVAILABLE
		default:
			r.Status = models.RIDER_STATUS_BUSY
		}
		return nil
	})
	if err != nil {
		return models.Rider{}, err
	}
	if s.Sink != nil {
		s.Sink.SaveRider(rider)
	}
	return rider, nil
}

func (s *Service) HandleLocationPing(ctx context.Context, riderId string, ping models.LocationPing) ([]models.GeofenceEvent, error) {
	return s.Detector.OnRiderLocationUpdate(ctx, riderId, ping)
}

// Command-topic handlers: the same operations arriving over kafka at
// fleet scale instead of HTTP.
func (s *Service) onOrderPlaced(evt events.EventOrderPlaced) error {
	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	if _, err := s.CreateOrder(ctx, &evt.Request); err != nil {
		return svcerror.AddOp(err, "Service.onOrderPlaced")
	}
	return nil
}

func (s *Service) onLocationPing(evt events.EventRiderLocationPing) error {
	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	if _, err := s.HandleLocationPing(ctx, evt.Metadata.RiderId, evt.Ping); err != nil {
		return svcerror.AddOp(err, "Service.onLocationPing")
	}
	return nil
}
