package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	svcerror "delivery-dispatch/pkg/error"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/utils"
)

// Store is the authoritative in-memory (or cache-backed) view of active
// orders, online riders and their assignments. It is the only shared
// mutable resource in the engine; every other component reads snapshots
// and mutates through it.
type Store struct {
	Orders      Repository[models.Order]
	Riders      Repository[models.Rider]
	Assignments Repository[models.Assignment]

	locks *KeyedMutex

	mu            sync.Mutex
	activeByOrder map[string]string // orderId -> active assignmentId
}

func NewStore(ctx context.Context) (*Store, error) {
	repoType := RepositoryType(utils.GetEnv("DISPATCH_REPOSITORY", string(RepositoryMemory)))

	orders, err := NewRepository(ctx, repoType, "dispatch:order", func(o models.Order) string { return o.OrderId })
	if err != nil {
		return nil, svcerror.AddOp(err, "State.NewStore")
	}
	riders, err := NewRepository(ctx, repoType, "dispatch:rider", func(r models.Rider) string { return r.RiderId })
	if err != nil {
		return nil, svcerror.AddOp(err, "State.NewStore")
	}
	assignments, err := NewRepository(ctx, repoType, "dispatch:assignment", func(a models.Assignment) string { return a.AssignmentId })
	if err != nil {
		return nil, svcerror.AddOp(err, "State.NewStore")
	}

	return &Store{
		Orders:        orders,
		Riders:        riders,
		Assignments:   assignments,
		locks:         NewKeyedMutex(),
		activeByOrder: make(map[string]string),
	}, nil
}

func (s *Store) PutOrder(ctx context.Context, order models.Order) error {
	s.locks.Lock("order:" + order.OrderId)
	defer s.locks.Unlock("order:" + order.OrderId)
	return s.Orders.Save(ctx, order)
}

func (s *Store) GetOrder(ctx context.Context, orderId string) (models.Order, error) {
	return s.Orders.Load(ctx, orderId)
}

// UpdateOrder applies mutate under the order's entity lock. The mutated
// copy is returned; a mutate error leaves the stored record untouched.
func (s *Store) UpdateOrder(ctx context.Context, orderId string, mutate func(*models.Order) error) (models.Order, error) {
	key := "order:" + orderId
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	order, err := s.Orders.Load(ctx, orderId)
	if err != nil {
		return models.Order{}, err
	}
	if err := mutate(&order); err != nil {
		return models.Order{}, err
	}
	if err := s.Orders.Update(ctx, order); err != nil {
		return models.Order{}, err
	}
	return order, nil
}

func (s *Store) PutRider(ctx context.Context, rider models.Rider) error {
	s.locks.Lock("rider:" + rider.RiderId)
	defer s.locks.Unlock("rider:" + rider.RiderId)
	return s.Riders.Save(ctx, rider)
}

func (s *Store) GetRider(ctx context.Context, riderId string) (models.Rider, error) {
	return s.Riders.Load(ctx, riderId)
}

func (s *Store) UpdateRider(ctx context.Context, riderId string, mutate func(*models.Rider) error) (models.Rider, error) {
	key := "rider:" + riderId
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	rider, err := s.Riders.Load(ctx, riderId)
	if err != nil {
		return models.Rider{}, err
	}
	if err := mutate(&rider); err != nil {
		return models.Rider{}, err
	}
	if err := s.Riders.Update(ctx, rider); err != nil {
		return models.Rider{}, err
	}
	return rider, nil
}

// SaveAssignment persists an assignment and maintains the single active
// assignment per order. Saving a second active assignment for an order
// that already has one is rejected.
func (s *Store) SaveAssignment(ctx context.Context, assignment models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if assignment.State.IsActive() {
		if activeId, ok := s.activeByOrder[assignment.OrderId]; ok && activeId != assignment.AssignmentId {
			return svcerror.New(
				svcerror.ErrBusinessError,
				svcerror.WithOp("State.SaveAssignment"),
				svcerror.WithMsg(fmt.Sprintf("order %s already has active assignment %s", assignment.OrderId, activeId)),
			)
		}
	}

	if err := s.Assignments.Save(ctx, assignment); err != nil {
		return svcerror.AddOp(err, "State.SaveAssignment")
	}

	if assignment.State.IsActive() {
		s.activeByOrder[assignment.OrderId] = assignment.AssignmentId
	} else if s.activeByOrder[assignment.OrderId] == assignment.AssignmentId {
		delete(s.activeByOrder, assignment.OrderId)
	}
	return nil
}

func (s *Store) ActiveAssignment(ctx context.Context, orderId string) (models.Assignment, bool, error) {
	s.mu.Lock()
	assignmentId, ok := s.activeByOrder[orderId]
	s.mu.Unlock()
	if !ok {
		return models.Assignment{}, false, nil
	}
	assignment, err := s.Assignments.Load(ctx, assignmentId)
	if err != nil {
		return models.Assignment{}, false, err
	}
	return assignment, true, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.Orders.List(ctx)
}

func (s *Store) ListRiders(ctx context.Context) ([]models.Rider, error) {
	return s.Riders.List(ctx)
}

func (s *Store) ActiveOrders(ctx context.Context) ([]models.Order, error) {
	orders, err := s.Orders.List(ctx)
	if err != nil {
		return nil, err
	}
	active := orders[:0]
	for _, o := range orders {
		if !o.Status.IsTerminal() {
			active = append(active, o)
		}
	}
	return active, nil
}

func (s *Store) OnlineRiders(ctx context.Context) ([]models.Rider, error) {
	riders, err := s.Riders.List(ctx)
	if err != nil {
		return nil, err
	}
	online := riders[:0]
	for _, r := range riders {
		if r.IsOnline {
			online = append(online, r)
		}
	}
	return online, nil
}

func (s *Store) AvailableRiders(ctx context.Context) ([]models.Rider, error) {
	riders, err := s.Riders.List(ctx)
	if err != nil {
		return nil, err
	}
	available := riders[:0]
	for _, r := range riders {
		if r.Status == models.RIDER_STATUS_AVAILABLE && r.IsOnline {
			available = append(available, r)
		}
	}
	return available, nil
}

// UnassignedOrders returns the backlog: confirmed-or-later non-terminal
// orders without a rider, highest priority first, oldest first on ties.
func (s *Store) UnassignedOrders(ctx context.Context) ([]models.Order, error) {
	orders, err := s.ActiveOrders(ctx)
	if err != nil {
		return nil, err
	}
	backlog := orders[:0]
	for _, o := range orders {
		if o.AssignedRiderId == "" && o.Status != models.ORDER_STATUS_PENDING {
			backlog = append(backlog, o)
		}
	}
	sort.Slice(backlog, func(i, j int) bool {
		if backlog[i].Priority != backlog[j].Priority {
			return backlog[i].Priority > backlog[j].Priority
		}
		return backlog[i].CreatedAt.Before(backlog[j].CreatedAt)
	})
	return backlog, nil
}

// Snapshot is a point-in-time copy of the fleet used by the SLA scan.
// Orders that reach a terminal state after the snapshot was taken are
// re-checked by the scan against the live store.
type Snapshot struct {
	Orders  []models.Order
	Riders  []models.Rider
	TakenAt time.Time
}

func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	orders, err := s.Orders.List(ctx)
	if err != nil {
		return Snapshot{}, svcerror.AddOp(err, "State.Snapshot")
	}
	riders, err := s.Riders.List(ctx)
	if err != nil {
		return Snapshot{}, svcerror.AddOp(err, "State.Snapshot")
	}
	return Snapshot{Orders: orders, Riders: riders, TakenAt: time.Now().UTC()}, nil
}
