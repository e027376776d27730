package server

import (
	"context"
	"testing"
	"time"

	"delivery-dispatch/pkg/assignment"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/routing"
	"delivery-dispatch/pkg/scheduler"
	"delivery-dispatch/pkg/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBacklogServer(t *testing.T) (*Server, *state.Store) {
	t.Helper()
	store, err := state.NewStore(context.Background())
	require.NoError(t, err)

	backlog := scheduler.NewQueue[string](8)
	t.Cleanup(backlog.Close)

	engine := assignment.NewEngine(store, routing.NewHaversineRouter(), nil, nil, backlog, assignment.Config{
		RetryDelay: time.Minute,
	})
	return &Server{
		engine:     engine,
		backlog:    backlog,
		retryDelay: time.Minute,
	}, store
}

func seedBacklogOrder(t *testing.T, store *state.Store, status models.OrderStatus) {
	t.Helper()
	require.NoError(t, store.PutOrder(context.Background(), models.Order{
		OrderId:            "order-1",
		OrderNumber:        "ORD-order-1",
		CustomerId:         "cust-1",
		RestaurantId:       "resto-1",
		Status:             status,
		RestaurantLocation: models.Location{Latitude: 37.9838, Longitude: 23.7275},
		DeliveryLocation:   models.Location{Latitude: 37.9990, Longitude: 23.7450},
		CreatedAt:          time.Now().UTC(),
		SlaDeadline:        time.Now().UTC().Add(30 * time.Minute),
	}))
}

func TestDrainBacklog_DropsCancelledOrder(t *testing.T) {
	s, store := newBacklogServer(t)
	seedBacklogOrder(t, store, models.ORDER_STATUS_CANCELLED)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.drainBacklog(ctx)

	require.NoError(t, s.backlog.Push("order-1", "order-1", time.Millisecond))
	time.Sleep(200 * time.Millisecond)

	assert.False(t, s.backlog.Remove("order-1"),
		"terminal order must not be rescheduled after a failed retry")
}

func TestDrainBacklog_KeepsRetryingRiderShortage(t *testing.T) {
	s, store := newBacklogServer(t)
	seedBacklogOrder(t, store, models.ORDER_STATUS_CONFIRMED)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.drainBacklog(ctx)

	require.NoError(t, s.backlog.Push("order-1", "order-1", time.Millisecond))

	// The retry attempt shows up as a priority bump on the order.
	require.Eventually(t, func() bool {
		order, err := store.GetOrder(ctx, "order-1")
		return err == nil && order.Priority >= 1
	}, time.Second, 10*time.Millisecond)

	// The reschedule trails the priority bump by a hair.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, s.backlog.Remove("order-1"),
		"rider shortage must stay scheduled for another retry")
}
