package scheduler

import (
	"container/heap"
	"sync"
	"time"

	svcerror "delivery-dispatch/pkg/error"
)

// Entry is a scheduled item. Attempt counts how many times the same id
// has been pushed, which drives the caller's backoff policy.
type Entry[T any] struct {
	ID      string
	Value   T
	ReadyAt time.Time
	Attempt int

	index int
}

type entryHeap[T any] []*Entry[T]

func (h entryHeap[T]) Len() int           { return len(h) }
func (h entryHeap[T]) Less(i, j int) bool { return h[i].ReadyAt.Before(h[j].ReadyAt) }
func (h entryHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap[T]) Push(x any)        { e := x.(*Entry[T]); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// DelayQueue delivers entries on Out once their ReadyAt passes. Pushing
// an id that is already queued reschedules it instead of duplicating.
// The dispatcher uses it as the retry queue for the unassigned backlog.
type DelayQueue[T any] struct {
	mu     sync.Mutex
	heap   entryHeap[T]
	byID   map[string]*Entry[T]
	// attempts outlives delivery so a re-pushed id keeps counting up;
	// Remove is what resets an id's history.
	attempts map[string]int
	wakeUp   chan struct{}
	closed   bool

	Out chan Entry[T]
}

func NewQueue[T any](popBuf int) *DelayQueue[T] {
	dq := &DelayQueue[T]{
		byID:     make(map[string]*Entry[T]),
		attempts: make(map[string]int),
		wakeUp:   make(chan struct{}, 1),
		Out:      make(chan Entry[T], popBuf),
	}
	go dq.loop()
	return dq
}

func (dq *DelayQueue[T]) Push(id string, value T, delay time.Duration) error {
	dq.mu.Lock()
	defer dq.mu.Unlock()

	if dq.closed {
		return svcerror.New(
			svcerror.ErrInternalError,
			svcerror.WithOp("Scheduler.Push"),
			svcerror.WithMsg("delay queue is closed"),
			svcerror.WithTime(time.Now().UTC()),
		)
	}

	if old := dq.byID[id]; old != nil {
		heap.Remove(&dq.heap, old.index)
		delete(dq.byID, id)
	}
	attempt := dq.attempts[id] + 1
	dq.attempts[id] = attempt

	entry := &Entry[T]{
		ID:      id,
		Value:   value,
		ReadyAt: time.Now().Add(delay),
		Attempt: attempt,
	}
	heap.Push(&dq.heap, entry)
	dq.byID[id] = entry

	dq.notify()
	return nil
}

func (dq *DelayQueue[T]) Remove(id string) bool {
	dq.mu.Lock()
	defer dq.mu.Unlock()

	entry := dq.byID[id]
	if entry == nil {
		delete(dq.attempts, id)
		return false
	}
	heap.Remove(&dq.heap, entry.index)
	delete(dq.byID, id)
	delete(dq.attempts, id)

	dq.notify()
	return true
}

func (dq *DelayQueue[T]) Close() {
	dq.mu.Lock()
	dq.closed = true
	dq.mu.Unlock()
	dq.notify()
}

func (dq *DelayQueue[T]) notify() {
	select {
	case dq.wakeUp <- struct{}{}:
	default:
	}
}

func (dq *DelayQueue[T]) loop() {
	for {
		dq.mu.Lock()
		closed := dq.closed
		var next time.Time
		if dq.heap.Len() > 0 {
			next = dq.heap[0].ReadyAt
		}
		empty := dq.heap.Len() == 0
		dq.mu.Unlock()

		if closed && empty {
			close(dq.Out)
			return
		}

		if empty {
			<-dq.wakeUp
			continue
		}

		delay := time.Until(next)
		if delay <= 0 {
			dq.popReady()
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-dq.wakeUp:
			timer.Stop()
		}
	}
}

func (dq *DelayQueue[T]) popReady() {
	dq.mu.Lock()
	var ready []Entry[T]
	now := time.Now()
	for dq.heap.Len() > 0 && !dq.heap[0].ReadyAt.After(now) {
		entry := heap.Pop(&dq.heap).(*Entry[T])
		delete(dq.byID, entry.ID)
		ready = append(ready, *entry)
	}
	dq.mu.Unlock()

	for _, entry := range ready {
		dq.Out <- entry
	}
}
