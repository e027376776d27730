package assignment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"delivery-dispatch/pkg/assignment"
	svcerror "delivery-dispatch/pkg/error"
	"delivery-dispatch/pkg/events"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/routing"
	"delivery-dispatch/pkg/scheduler"
	"delivery-dispatch/pkg/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	restaurantLoc = models.Location{Latitude: 37.9838, Longitude: 23.7275}
	deliveryLoc   = models.Location{Latitude: 37.9990, Longitude: 23.7450}
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *capturePublisher) Publish(evt events.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *capturePublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.GetMetadata().Type)
	}
	return out
}

type fixture struct {
	store   *state.Store
	engine  *assignment.Engine
	backlog *scheduler.DelayQueue[string]
	pub     *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := state.NewStore(context.Background())
	require.NoError(t, err)

	pub := &capturePublisher{}
	backlog := scheduler.NewQueue[string](8)
	t.Cleanup(backlog.Close)

	engine := assignment.NewEngine(store, routing.NewHaversineRouter(), pub, nil, backlog, assignment.Config{
		RetryDelay: time.Minute,
	})
	return &fixture{store: store, engine: engine, backlog: backlog, pub: pub}
}

func (f *fixture) seedOrder(t *testing.T, orderId string) {
	t.Helper()
	require.NoError(t, f.store.PutOrder(context.Background(), models.Order{
		OrderId:            orderId,
		OrderNumber:        "ORD-" + orderId,
		CustomerId:         "cust-1",
		RestaurantId:       "resto-1",
		Status:             models.ORDER_STATUS_CONFIRMED,
		RestaurantLocation: restaurantLoc,
		DeliveryLocation:   deliveryLoc,
		CreatedAt:          time.Now().UTC(),
		SlaDeadline:        time.Now().UTC().Add(30 * time.Minute),
	}))
}

func (f *fixture) seedRider(t *testing.T, riderId string, maxActive int) {
	t.Helper()
	require.NoError(t, f.store.PutRider(context.Background(), models.Rider{
		RiderId:         riderId,
		Name:            riderId,
		IsOnline:        true,
		Status:          models.RIDER_STATUS_AVAILABLE,
		Rating:          4.5,
		MaxActiveOrders: maxActive,
		CurrentLocation: models.LocationPing{Latitude: restaurantLoc.Latitude, Longitude: restaurantLoc.Longitude},
	}))
}

func TestEngine_AssignAutoSelects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "order-1")
	f.seedRider(t, "rider-1", 2)

	riderId, err := f.engine.Assign(ctx, "order-1", "")
	require.NoError(t, err)
	assert.Equal(t, "rider-1", riderId)

	order, err := f.store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "rider-1", order.AssignedRiderId)

	rider, err := f.store.GetRider(ctx, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, models.RIDER_STATUS_BUSY, rider.Status)
	assert.True(t, rider.HoldsOrder("order-1"))

	active, ok, err := f.store.ActiveAssignment(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ASSIGNMENT_STATE_PROPOSED, active.State)

	assert.Contains(t, f.pub.types(), events.EvtTypeOrderAssigned)
}

func TestEngine_TwoOrdersOneRider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "order-1")
	f.seedOrder(t, "order-2")
	f.seedRider(t, "rider-1", 1)

	_, err := f.engine.Assign(ctx, "order-1", "")
	require.NoError(t, err)

	_, err = f.engine.Assign(ctx, "order-2", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, svcerror.ErrNoRiderAvailable))

	// the loser is queued for retry with its priority bumped
	loser, err := f.store.GetOrder(ctx, "order-2")
	require.NoError(t, err)
	assert.Equal(t, 1, loser.Priority)
	assert.Empty(t, loser.AssignedRiderId)
	assert.True(t, f.backlog.Remove("order-2"), "loser must sit in the retry queue")

	assert.Contains(t, f.pub.types(), events.EvtTypeUnassignedBacklog)
}

func TestEngine_AssignErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "order-1")
	f.seedRider(t, "rider-1", 2)

	_, err := f.engine.Assign(ctx, "ghost", "")
	assert.True(t, errors.Is(err, svcerror.ErrNotFound))

	_, err = f.engine.Assign(ctx, "order-1", "")
	require.NoError(t, err)

	// a second assign on an actively assigned order is a conflict
	_, err = f.engine.Assign(ctx, "order-1", "")
	assert.True(t, errors.Is(err, svcerror.ErrBusinessError))

	_, err = f.store.UpdateOrder(ctx, "order-1", func(o *models.Order) error {
		o.Status = models.ORDER_STATUS_DELIVERED
		return nil
	})
	require.NoError(t, err)
	f.seedOrder(t, "order-2")
	_, err = f.engine.Assign(ctx, "order-2", "rider-ghost")
	assert.True(t, errors.Is(err, svcerror.ErrNoRiderAvailable))
}

func TestEngine_ManualTargetAcceptsBusyRiderWithCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "order-1")
	f.seedOrder(t, "order-2")
	f.seedOrder(t, "order-3")
	f.seedRider(t, "rider-1", 2)

	_, err := f.engine.Assign(ctx, "order-1", "")
	require.NoError(t, err)

	// auto-select skips the busy rider even though capacity remains
	_, err = f.engine.Assign(ctx, "order-2", "")
	assert.True(t, errors.Is(err, svcerror.ErrNoRiderAvailable))

	// an operator override takes the spare slot
	riderId, err := f.engine.Assign(ctx, "order-2", "rider-1")
	require.NoError(t, err)
	assert.Equal(t, "rider-1", riderId)

	// but never past capacity
	_, err = f.engine.Assign(ctx, "order-3", "rider-1")
	assert.True(t, errors.Is(err, svcerror.ErrNoRiderAvailable))
}

func TestEngine_ReleaseRestoresRider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "order-1")
	f.seedRider(t, "rider-1", 1)

	_, err := f.engine.Assign(ctx, "order-1", "")
	require.NoError(t, err)

	require.NoError(t, f.engine.Release(ctx, "order-1", "rider-1"))

	rider, err := f.store.GetRider(ctx, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, models.RIDER_STATUS_AVAILABLE, rider.Status)
	assert.Zero(t, rider.Load())

	order, err := f.store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, order.AssignedRiderId)

	_, ok, err := f.store.ActiveAssignment(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_ReassignMovesOrderToAnotherRider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "order-1")
	f.seedRider(t, "rider-1", 1)

	_, err := f.engine.Assign(ctx, "order-1", "")
	require.NoError(t, err)

	// rider-1 drops offline mid-delivery, rider-2 comes online
	_, err = f.store.UpdateRider(ctx, "rider-1", func(r *models.Rider) error {
		r.IsOnline = false
		r.Status = models.RIDER_STATUS_OFFLINE
		return nil
	})
	require.NoError(t, err)
	f.seedRider(t, "rider-2", 1)

	riderId, err := f.engine.Reassign(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "rider-2", riderId)

	active, ok, err := f.store.ActiveAssignment(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rider-2", active.RiderId)

	old, err := f.store.GetRider(ctx, "rider-1")
	require.NoError(t, err)
	assert.Zero(t, old.Load())
}

func TestEngine_AcceptAndStatusDrivenLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "order-1")
	f.seedRider(t, "rider-1", 1)

	_, err := f.engine.Assign(ctx, "order-1", "")
	require.NoError(t, err)
	require.NoError(t, f.engine.Accept(ctx, "order-1", "rider-1"))

	// accepting twice is an invalid transition
	err = f.engine.Accept(ctx, "order-1", "rider-1")
	assert.True(t, errors.Is(err, svcerror.ErrInvalidTransition))

	order, err := f.store.UpdateOrder(ctx, "order-1", func(o *models.Order) error {
		o.Status = models.ORDER_STATUS_PICKED_UP
		return nil
	})
	require.NoError(t, err)
	f.engine.HandleStatusChange(ctx, order)

	active, ok, err := f.store.ActiveAssignment(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ASSIGNMENT_STATE_IN_PROGRESS, active.State)

	order, err = f.store.UpdateOrder(ctx, "order-1", func(o *models.Order) error {
		o.Status = models.ORDER_STATUS_DELIVERED
		return nil
	})
	require.NoError(t, err)
	f.engine.HandleStatusChange(ctx, order)

	_, ok, err = f.store.ActiveAssignment(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, ok, "completed assignment is no longer active")

	rider, err := f.store.GetRider(ctx, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, models.RIDER_STATUS_AVAILABLE, rider.Status)
	assert.Zero(t, rider.Load())
}

func TestEngine_CancellationReleasesRider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "order-1")
	f.seedRider(t, "rider-1", 1)

	_, err := f.engine.Assign(ctx, "order-1", "")
	require.NoError(t, err)

	order, err := f.store.UpdateOrder(ctx, "order-1", func(o *models.Order) error {
		o.Status = models.ORDER_STATUS_CANCELLED
		return nil
	})
	require.NoError(t, err)
	f.engine.HandleStatusChange(ctx, order)

	rider, err := f.store.GetRider(ctx, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, models.RIDER_STATUS_AVAILABLE, rider.Status)
	assert.Zero(t, rider.Load())
}

func TestEngine_CancellationDropsBacklogEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "order-1")

	// No riders: the order lands in the retry backlog without ever
	// having held an assignment.
	_, err := f.engine.Assign(ctx, "order-1", "")
	require.ErrorIs(t, err, svcerror.ErrNoRiderAvailable)

	order, err := f.store.UpdateOrder(ctx, "order-1", func(o *models.Order) error {
		o.Status = models.ORDER_STATUS_CANCELLED
		return nil
	})
	require.NoError(t, err)
	f.engine.HandleStatusChange(ctx, order)

	assert.False(t, f.backlog.Remove("order-1"), "cancelled order must leave the retry backlog")
}

func TestEngine_ConcurrentAssignsNeverDoubleBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRider(t, "rider-1", 1)

	const orders = 8
	for i := 0; i < orders; i++ {
		f.seedOrder(t, orderId(i))
	}

	var wg sync.WaitGroup
	wins := make(chan string, orders)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if riderId, err := f.engine.Assign(ctx, id, ""); err == nil {
				wins <- riderId
			}
		}(orderId(i))
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	assert.Equal(t, 1, winners, "a rider with capacity one serves exactly one order")

	rider, err := f.store.GetRider(ctx, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rider.Load())
}

func TestEngine_ReassignRiderOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "order-1")
	f.seedRider(t, "rider-1", 1)

	_, err := f.engine.Assign(ctx, "order-1", "")
	require.NoError(t, err)

	// rider drops offline holding the order
	_, err = f.store.UpdateRider(ctx, "rider-1", func(r *models.Rider) error {
		r.IsOnline = false
		r.Status = models.RIDER_STATUS_OFFLINE
		return nil
	})
	require.NoError(t, err)
	f.seedRider(t, "rider-2", 1)

	f.engine.ReassignRiderOrders(ctx, "rider-1")

	active, ok, err := f.store.ActiveAssignment(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rider-2", active.RiderId)
}

func orderId(i int) string {
	return "order-" + string(rune('a'+i))
}
