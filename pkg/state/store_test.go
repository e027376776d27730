package state_test

import (
	"context"
	"testing"
	"time"

	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.NewStore(context.Background())
	require.NoError(t, err)
	return store
}

func TestStore_UpdateOrderMutateErrorLeavesRecordUntouched(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.PutOrder(ctx, models.Order{
		OrderId: "order-1",
		Status:  models.ORDER_STATUS_CONFIRMED,
	}))

	_, err := store.UpdateOrder(ctx, "order-1", func(o *models.Order) error {
		o.Status = models.ORDER_STATUS_DELIVERED
		return assert.AnError
	})
	require.Error(t, err)

	order, err := store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.ORDER_STATUS_CONFIRMED, order.Status)
}

func TestStore_SaveAssignmentRejectsSecondActive(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	first := models.Assignment{
		AssignmentId: "asg-1",
		OrderId:      "order-1",
		RiderId:      "rider-1",
		State:        models.ASSIGNMENT_STATE_PROPOSED,
	}
	require.NoError(t, store.SaveAssignment(ctx, first))

	second := models.Assignment{
		AssignmentId: "asg-2",
		OrderId:      "order-1",
		RiderId:      "rider-2",
		State:        models.ASSIGNMENT_STATE_PROPOSED,
	}
	assert.Error(t, store.SaveAssignment(ctx, second))

	active, ok, err := store.ActiveAssignment(ctx, "order-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "asg-1", active.AssignmentId)
}

func TestStore_ReleasingAssignmentFreesTheOrder(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	assignment := models.Assignment{
		AssignmentId: "asg-1",
		OrderId:      "order-1",
		RiderId:      "rider-1",
		State:        models.ASSIGNMENT_STATE_ACCEPTED,
	}
	require.NoError(t, store.SaveAssignment(ctx, assignment))

	assignment.State = models.ASSIGNMENT_STATE_RELEASED
	require.NoError(t, store.SaveAssignment(ctx, assignment))

	_, ok, err := store.ActiveAssignment(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, ok)

	next := models.Assignment{
		AssignmentId: "asg-2",
		OrderId:      "order-1",
		RiderId:      "rider-2",
		State:        models.ASSIGNMENT_STATE_PROPOSED,
	}
	assert.NoError(t, store.SaveAssignment(ctx, next))
}

func TestStore_UnassignedOrdersOrdering(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	base := time.Now().UTC()

	orders := []models.Order{
		{OrderId: "old-low", Status: models.ORDER_STATUS_CONFIRMED, Priority: 1, CreatedAt: base.Add(-10 * time.Minute)},
		{OrderId: "new-high", Status: models.ORDER_STATUS_READY, Priority: 5, CreatedAt: base},
		{OrderId: "old-high", Status: models.ORDER_STATUS_CONFIRMED, Priority: 5, CreatedAt: base.Add(-5 * time.Minute)},
		{OrderId: "pending", Status: models.ORDER_STATUS_PENDING, Priority: 9, CreatedAt: base},
		{OrderId: "taken", Status: models.ORDER_STATUS_CONFIRMED, Priority: 9, AssignedRiderId: "rider-1", CreatedAt: base},
		{OrderId: "done", Status: models.ORDER_STATUS_DELIVERED, Priority: 9, CreatedAt: base},
	}
	for _, o := range orders {
		require.NoError(t, store.PutOrder(ctx, o))
	}

	backlog, err := store.UnassignedOrders(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(backlog))
	for _, o := range backlog {
		ids = append(ids, o.OrderId)
	}
	assert.Equal(t, []string{"old-high", "new-high", "old-low"}, ids)
}

func TestStore_AvailableRidersFiltersStatusAndPresence(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	riders := []models.Rider{
		{RiderId: "free", IsOnline: true, Status: models.RIDER_STATUS_AVAILABLE},
		{RiderId: "busy", IsOnline: true, Status: models.RIDER_STATUS_BUSY},
		{RiderId: "ghost", IsOnline: false, Status: models.RIDER_STATUS_AVAILABLE},
	}
	for _, r := range riders {
		require.NoError(t, store.PutRider(ctx, r))
	}

	available, err := store.AvailableRiders(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "free", available[0].RiderId)
}
