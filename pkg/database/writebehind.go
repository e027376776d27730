package database

import (
	"context"
	"log"
	"time"

	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/utils"
)

type opKind int

const (
	opOrder opKind = iota
	opRider
	opAssignment
	opAlert
)

type writeOp struct {
	kind       opKind
	order      models.Order
	rider      models.Rider
	assignment models.Assignment
	alert      models.SystemAlert
}

// WriteBehind trails the in-memory state store into Postgres. Enqueue
// never blocks the dispatch path; a failed or dropped write is logged
// and the in-memory state stays authoritative. Retry belongs to a
// reconciliation pass, not the dispatch core.
type WriteBehind struct {
	db    *Database
	queue chan writeOp
}

func NewWriteBehind(db *Database) *WriteBehind {
	depth := utils.GetEnvInt("WRITE_BEHIND_QUEUE_DEPTH", 4096)
	return &WriteBehind{
		db:    db,
		queue: make(chan writeOp, depth),
	}
}

func (w *WriteBehind) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-w.queue:
			w.apply(ctx, op)
		}
	}
}

func (w *WriteBehind) apply(ctx context.Context, op writeOp) {
	opCtx, done := context.WithTimeout(ctx, 10*time.Second)
	defer done()

	var err error
	switch op.kind {
	case opOrder:
		err = w.db.SaveOrder(opCtx, op.order)
	case opRider:
		err = w.db.SaveRider(opCtx, op.rider)
	case opAssignment:
		err = w.db.SaveAssignment(opCtx, op.assignment)
	case opAlert:
		err = w.db.SaveAlert(opCtx, op.alert)
	}
	if err != nil {
		log.Printf("[WRITE-BEHIND] Persist failed (in-memory state remains authoritative): %v", err)
	}
}

func (w *WriteBehind) enqueue(op writeOp) {
	select {
	case w.queue <- op:
	default:
		log.Printf("[WRITE-BEHIND] Queue full, dropping write")
	}
}

func (w *WriteBehind) SaveOrder(order models.Order) {
	w.enqueue(writeOp{kind: opOrder, order: order})
}

func (w *WriteBehind) SaveRider(rider models.Rider) {
	w.enqueue(writeOp{kind: opRider, rider: rider})
}

func (w *WriteBehind) SaveAssignment(assignment models.Assignment) {
	w.enqueue(writeOp{kind: opAssignment, assignment: assignment})
}

func (w *WriteBehind) SaveAlert(alert models.SystemAlert) {
	w.enqueue(writeOp{kind: opAlert, alert: alert})
}
