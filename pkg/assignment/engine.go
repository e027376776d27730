package assignment

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	svcerror "delivery-dispatch/pkg/error"
	"delivery-dispatch/pkg/events"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/routing"
	"delivery-dispatch/pkg/scheduler"
	"delivery-dispatch/pkg/state"
	"delivery-dispatch/pkg/utils"

	"github.com/google/uuid"
)

type Publisher interface {
	Publish(evt events.DomainEvent)
}

// Sink is the write-behind persistence collaborator. Calls never block
// dispatch and never fail it; the in-memory store stays authoritative.
type Sink interface {
	SaveOrder(order models.Order)
	SaveRider(rider models.Rider)
	SaveAssignment(assignment models.Assignment)
}

type Config struct {
	// Base delay before the backlog retries a failed assignment.
	RetryDelay time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		RetryDelay: utils.GetEnvDuration("ASSIGN_RETRY_DELAY", 15*time.Second),
	}
}

// Engine matches unassigned orders to riders and owns every assignment
// transition. The selection-and-claim step is serialized so a rider can
// never be proposed for two orders at once.
type Engine struct {
	store   *state.Store
	router  routing.Router
	hub     Publisher
	sink    Sink
	backlog *scheduler.DelayQueue[string]
	conf    Config

	commitMU sync.Mutex
}

func NewEngine(store *state.Store, router routing.Router, hub Publisher, sink Sink, backlog *scheduler.DelayQueue[string], conf Config) *Engine {
	return &Engine{
		store:   store,
		router:  router,
		hub:     hub,
		sink:    sink,
		backlog: backlog,
		conf:    conf,
	}
}

// Assign selects a rider for the order. An empty riderId means
// auto-select; a concrete riderId is an operator override that must
// name an eligible rider.
func (e *Engine) Assign(ctx context.Context, orderId, riderId string) (string, error) {
	order, err := e.store.GetOrder(ctx, orderId)
	if err != nil {
		return "", svcerror.New(
			svcerror.ErrNotFound,
			svcerror.WithOp("Assignment.Assign"),
			svcerror.WithMsg(fmt.Sprintf("order %s not found", orderId)),
			svcerror.WithCause(err),
		)
	}
	if order.Status.IsTerminal() {
		return "", svcerror.New(
			svcerror.ErrBusinessError,
			svcerror.WithOp("Assignment.Assign"),
			svcerror.WithMsg(fmt.Sprintf("order %s is %s", orderId, order.Status)),
		)
	}
	if _, active, err := e.store.ActiveAssignment(ctx, orderId); err != nil {
		return "", svcerror.AddOp(err, "Assignment.Assign")
	} else if active {
		return "", svcerror.New(
			svcerror.ErrBusinessError,
			svcerror.WithOp("Assignment.Assign"),
			svcerror.WithMsg(fmt.Sprintf("order %s already has an active assignment; use reassign", orderId)),
		)
	}

	return e.selectAndCommit(ctx, order, riderId, false)
}

// Reassign releases the current assignment, even mid-delivery, and
// re-enters the selection path.
func (e *Engine) Reassign(ctx context.Context, orderId string) (string, error) {
	order, err := e.store.GetOrder(ctx, orderId)
	if err != nil {
		return "", svcerror.New(
			svcerror.ErrNotFound,
			svcerror.WithOp("Assignment.Reassign"),
			svcerror.WithMsg(fmt.Sprintf("order %s not found", orderId)),
			svcerror.WithCause(err),
		)
	}

	if current, active, err := e.store.ActiveAssignment(ctx, orderId); err != nil {
		return "", svcerror.AddOp(err, "Assignment.Reassign")
	} else if active {
		if err := e.Release(ctx, orderId, current.RiderId); err != nil {
			return "", svcerror.AddOp(err, "Assignment.Reassign")
		}
		order.AssignedRiderId = ""
	}

	return e.selectAndCommit(ctx, order, "", true)
}

func (e *Engine) selectAndCommit(ctx context.Context, order models.Order, targetRiderId string, reassigned bool) (string, error) {
	e.commitMU.Lock()
	defer e.commitMU.Unlock()

	var claimed models.Rider
	var ok bool
	if targetRiderId != "" {
		claimed, ok = e.tryClaim(ctx, order.OrderId, targetRiderId, true)
		if !ok {
			return "", svcerror.New(
				svcerror.ErrNoRiderAvailable,
				svcerror.WithOp("Assignment.selectAndCommit"),
				svcerror.WithMsg(fmt.Sprintf("rider %s is not eligible for order %s", targetRiderId, order.OrderId)),
			)
		}
	} else {
		riders, err := e.store.ListRiders(ctx)
		if err != nil {
			return "", svcerror.AddOp(err, "Assignment.selectAndCommit")
		}
		// Losers of a claim race fall through to the next candidate.
		for _, cand := range rankCandidates(e.router, order, riders) {
			if claimed, ok = e.tryClaim(ctx, order.OrderId, cand.rider.RiderId, false); ok {
				break
			}
		}
		if !ok {
			return "", e.handleNoRider(ctx, order)
		}
	}

	return e.commit(ctx, order, claimed, reassigned)
}

// tryClaim re-validates eligibility under the rider's entity lock and
// appends the order to the rider's active set. Manual targeting accepts
// a busy rider with spare capacity; auto-select never does.
func (e *Engine) tryClaim(ctx context.Context, orderId, riderId string, manual bool) (models.Rider, bool) {
	rider, err := e.store.UpdateRider(ctx, riderId, func(r *models.Rider) error {
		if !r.IsOnline || !r.HasCapacity() || r.HoldsOrder(orderId) {
			return svcerror.Newf(svcerror.ErrBusinessError, "rider %s not claimable", riderId)
		}
		if !manual && r.Status != models.RIDER_STATUS_AVAILABLE {
			return svcerror.Newf(svcerror.ErrBusinessError, "rider %s not available", riderId)
		}
		r.ActiveOrderIds = append(r.ActiveOrderIds, orderId)
		r.Status = models.RIDER_STATUS_BUSY
		return nil
	})
	if err != nil {
		return models.Rider{}, false
	}
	return rider, true
}

func (e *Engine) commit(ctx context.Context, order models.Order, rider models.Rider, reassigned bool) (string, error) {
	assignment := models.Assignment{
		AssignmentId: uuid.NewString(),
		OrderId:      order.OrderId,
		RiderId:      rider.RiderId,
		State:        models.ASSIGNMENT_STATE_PROPOSED,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.SaveAssignment(ctx, assignment); err != nil {
		e.unclaim(ctx, order.OrderId, rider.RiderId)
		return "", svcerror.AddOp(err, "Assignment.commit")
	}

	updated, err := e.store.UpdateOrder(ctx, order.OrderId, func(o *models.Order) error {
		o.AssignedRiderId = rider.RiderId
		return nil
	})
	if err != nil {
		return "", svcerror.AddOp(err, "Assignment.commit")
	}

	if e.backlog != nil {
		e.backlog.Remove(order.OrderId)
	}

	// An order cancelled while the claim was in flight: the assignment
	// is completed as written, then released immediately.
	if updated.Status == models.ORDER_STATUS_CANCELLED {
		log.Printf("[ASSIGNMENT] Order %s cancelled mid-assign; releasing rider %s", order.OrderId, rider.RiderId)
		if err := e.Release(ctx, order.OrderId, rider.RiderId); err != nil {
			return "", svcerror.AddOp(err, "Assignment.commit")
		}
		return rider.RiderId, nil
	}

	if e.sink != nil {
		e.sink.SaveAssignment(assignment)
		e.sink.SaveOrder(updated)
		e.sink.SaveRider(rider)
	}
	if e.hub != nil {
		e.hub.Publish(events.EventOrderAssigned{
			Metadata:     events.NewMetadata(events.EvtTypeOrderAssigned, order.OrderId, rider.RiderId, events.ProducerAssignmentEngine),
			AssignmentId: assignment.AssignmentId,
			CustomerId:   updated.CustomerId,
			RestaurantId: updated.RestaurantId,
			Reassigned:   reassigned,
		})
	}

	log.Printf("[ASSIGNMENT] Order %s assigned to rider %s (reassigned=%v)", order.OrderId, rider.RiderId, reassigned)
	return rider.RiderId, nil
}

func (e *Engine) handleNoRider(ctx context.Context, order models.Order) error {
	updated, err := e.store.UpdateOrder(ctx, order.OrderId, func(o *models.Order) error {
		o.Priority++
		return nil
	})
	if err != nil {
		return svcerror.AddOp(err, "Assignment.handleNoRider")
	}

	if e.hub != nil {
		e.hub.Publish(events.EventUnassignedBacklog{
			Metadata:     events.NewMetadata(events.EvtTypeUnassignedBacklog, order.OrderId, "", events.ProducerAssignmentEngine),
			RestaurantId: updated.RestaurantId,
			Priority:     updated.Priority,
			WaitingSince: updated.CreatedAt,
		})
	}
	if e.backlog != nil {
		if err := e.backlog.Push(order.OrderId, order.OrderId, e.conf.RetryDelay); err != nil {
			log.Printf("[ASSIGNMENT] Failed to queue retry for order %s: %v", order.OrderId, err)
		}
	}

	return svcerror.New(
		svcerror.ErrNoRiderAvailable,
		svcerror.WithOp("Assignment.handleNoRider"),
		svcerror.WithMsg(fmt.Sprintf("no eligible rider for order %s", order.OrderId)),
	)
}

// Release marks the order's active assignment released and gives the
// rider its capacity back.
func (e *Engine) Release(ctx context.Context, orderId, riderId string) error {
	assignment, active, err := e.store.ActiveAssignment(ctx, orderId)
	if err != nil {
		return svcerror.AddOp(err, "Assignment.Release")
	}
	if !active || assignment.RiderId != riderId {
		return svcerror.New(
			svcerror.ErrBusinessError,
			svcerror.WithOp("Assignment.Release"),
			svcerror.WithMsg(fmt.Sprintf("no active assignment binding order %s to rider %s", orderId, riderId)),
		)
	}

	assignment.State = models.ASSIGNMENT_STATE_RELEASED
	assignment.ReleasedAt = time.Now().UTC()
	if err := e.store.SaveAssignment(ctx, assignment); err != nil {
		return svcerror.AddOp(err, "Assignment.Release")
	}

	e.unclaim(ctx, orderId, riderId)

	if _, err := e.store.UpdateOrder(ctx, orderId, func(o *models.Order) error {
		o.AssignedRiderId = ""
		return nil
	}); err != nil {
		return svcerror.AddOp(err, "Assignment.Release")
	}

	if e.sink != nil {
		e.sink.SaveAssignment(assignment)
	}
	return nil
}

func (e *Engine) unclaim(ctx context.Context, orderId, riderId string) {
	rider, err := e.store.UpdateRider(ctx, riderId, func(r *models.Rider) error {
		kept := r.ActiveOrderIds[:0]
		for _, id := range r.ActiveOrderIds {
			if id != orderId {
				kept = append(kept, id)
			}
		}
		r.ActiveOrderIds = kept
		switch {
		case !r.IsOnline:
			r.Status = models.RIDER_STATUS_OFFLINE
		case len(r.ActiveOrderIds) == 0:
			r.Status = models.RIDER_STATUS_AVAILABLE
		default:
			r.Status = models.RIDER_STATUS_BUSY
		}
		return nil
	})
	if err != nil {
		log.Printf("[ASSIGNMENT] Failed to unclaim rider %s for order %s: %v", riderId, orderId, err)
		return
	}
	if e.sink != nil {
		e.sink.SaveRider(rider)
	}
}

// Accept moves the rider's proposed assignment to accepted.
func (e *Engine) Accept(ctx context.Context, orderId, riderId string) error {
	return e.transition(ctx, orderId, riderId, models.ASSIGNMENT_STATE_PROPOSED, models.ASSIGNMENT_STATE_ACCEPTED)
}

// Reject releases the proposed assignment and retries selection without
// the rejecting rider holding the order.
func (e *Engine) Reject(ctx context.Context, orderId, riderId string) (string, error) {
	if err := e.Release(ctx, orderId, riderId); err != nil {
		return "", svcerror.AddOp(err, "Assignment.Reject")
	}
	order, err := e.store.GetOrder(ctx, orderId)
	if err != nil {
		return "", svcerror.AddOp(err, "Assignment.Reject")
	}
	return e.selectAndCommit(ctx, order, "", true)
}

func (e *Engine) transition(ctx context.Context, orderId, riderId string, from, to models.AssignmentState) error {
	assignment, active, err := e.store.ActiveAssignment(ctx, orderId)
	if err != nil {
		return svcerror.AddOp(err, "Assignment.transition")
	}
	if !active || assignment.RiderId != riderId || assignment.State != from {
		return svcerror.New(
			svcerror.ErrInvalidTransition,
			svcerror.WithOp("Assignment.transition"),
			svcerror.WithMsg(fmt.Sprintf("order %s has no %s assignment for rider %s", orderId, from, riderId)),
		)
	}
	assignment.State = to
	if err := e.store.SaveAssignment(ctx, assignment); err != nil {
		return svcerror.AddOp(err, "Assignment.transition")
	}
	if e.sink != nil {
		e.sink.SaveAssignment(assignment)
	}
	return nil
}

// HandleStatusChange keeps the assignment lifecycle in step with order
// status: pickup starts the delivery leg, delivery completes it,
// cancellation releases the rider.
func (e *Engine) HandleStatusChange(ctx context.Context, order models.Order) {
	// A cancelled order may still be waiting in the retry backlog
	// without ever having held an assignment.
	if order.Status == models.ORDER_STATUS_CANCELLED && e.backlog != nil {
		e.backlog.Remove(order.OrderId)
	}

	assignment, active, err := e.store.ActiveAssignment(ctx, order.OrderId)
	if err != nil || !active {
		return
	}

	switch order.Status {
	case models.ORDER_STATUS_PICKED_UP:
		assignment.State = models.ASSIGNMENT_STATE_IN_PROGRESS
	case models.ORDER_STATUS_DELIVERED:
		assignment.State = models.ASSIGNMENT_STATE_COMPLETED
	case models.ORDER_STATUS_CANCELLED:
		if err := e.Release(ctx, order.OrderId, assignment.RiderId); err != nil {
			log.Printf("[ASSIGNMENT] Failed to release cancelled order %s: %v", order.OrderId, err)
		}
		return
	default:
		return
	}

	if err := e.store.SaveAssignment(ctx, assignment); err != nil {
		log.Printf("[ASSIGNMENT] Failed to persist %s for order %s: %v", assignment.State, order.OrderId, err)
		return
	}
	if assignment.State == models.ASSIGNMENT_STATE_COMPLETED {
		e.unclaim(ctx, order.OrderId, assignment.RiderId)
	}
	if e.sink != nil {
		e.sink.SaveAssignment(assignment)
	}
}

// ReassignRiderOrders reassigns each order an offline rider still holds,
// one at a time; failures stay in the backlog for the next retry.
func (e *Engine) ReassignRiderOrders(ctx context.Context, riderId string) {
	rider, err := e.store.GetRider(ctx, riderId)
	if err != nil {
		log.Printf("[ASSIGNMENT] Failed to load rider %s for bulk reassign: %v", riderId, err)
		return
	}

	held := make([]string, len(rider.ActiveOrderIds))
	copy(held, rider.ActiveOrderIds)
	for _, orderId := range held {
		if _, err := e.Reassign(ctx, orderId); err != nil {
			log.Printf("[ASSIGNMENT] Reassign of order %s from offline rider %s failed: %v", orderId, riderId, err)
		}
	}
}
