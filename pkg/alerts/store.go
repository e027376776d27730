package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	svcerror "delivery-dispatch/pkg/error"
	"delivery-dispatch/pkg/events"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/state"

	"github.com/google/uuid"
)

type RaiseOutcome int

const (
	OutcomeCreated RaiseOutcome = iota
	OutcomeEscalated
	OutcomeUnchanged
)

type Publisher interface {
	Publish(evt events.DomainEvent)
}

// Sink mirrors alert writes into persistence without blocking.
type Sink interface {
	SaveAlert(alert models.SystemAlert)
}

type Filter struct {
	Type         models.AlertType
	Acknowledged *bool
}

// Store holds operator-visible alerts. An unacknowledged alert for the
// same (subject, type) is escalated in place; severity never drops.
// Acknowledged alerts are immutable, a fresh condition on the same
// subject opens a new alert.
type Store struct {
	repo      state.Repository[models.SystemAlert]
	publisher Publisher
	sink      Sink

	mu    sync.Mutex
	byKey map[string]string // subjectId|type -> unacknowledged alertId
}

func NewStore(repo state.Repository[models.SystemAlert], publisher Publisher, sink Sink) *Store {
	return &Store{
		repo:      repo,
		publisher: publisher,
		sink:      sink,
		byKey:     make(map[string]string),
	}
}

func dedupeKey(subjectId string, alertType models.AlertType) string {
	return subjectId + "|" + string(alertType)
}

// Raise creates the alert or escalates the existing unacknowledged one.
// A raise at lower-or-equal severity leaves the alert unchanged.
func (s *Store) Raise(ctx context.Context, alert models.SystemAlert) (models.SystemAlert, RaiseOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := dedupeKey(alert.SubjectId, alert.Type)

	if existingId, ok := s.byKey[key]; ok {
		existing, err := s.repo.Load(ctx, existingId)
		if err != nil {
			return models.SystemAlert{}, OutcomeUnchanged, svcerror.AddOp(err, "Alerts.Raise")
		}

		if existing.Severity.AtLeast(alert.Severity) {
			return existing, OutcomeUnchanged, nil
		}

		existing.Severity = alert.Severity
		existing.Message = alert.Message
		existing.AffectedOrders = mergeIds(existing.AffectedOrders, alert.AffectedOrders)
		existing.AffectedRiders = mergeIds(existing.AffectedRiders, alert.AffectedRiders)
		existing.UpdatedAt = now
		if err := s.repo.Update(ctx, existing); err != nil {
			return models.SystemAlert{}, OutcomeUnchanged, svcerror.AddOp(err, "Alerts.Raise")
		}
		if s.sink != nil {
			s.sink.SaveAlert(existing)
		}
		return existing, OutcomeEscalated, nil
	}

	alert.AlertId = uuid.NewString()
	alert.Acknowledged = false
	alert.CreatedAt = now
	alert.UpdatedAt = now
	if err := s.repo.Save(ctx, alert); err != nil {
		return models.SystemAlert{}, OutcomeUnchanged, svcerror.AddOp(err, "Alerts.Raise")
	}
	s.byKey[key] = alert.AlertId
	if s.sink != nil {
		s.sink.SaveAlert(alert)
	}
	return alert, OutcomeCreated, nil
}

// Acknowledge is idempotent: acknowledging an already-acknowledged
// alert is a no-op, not an error.
func (s *Store) Acknowledge(ctx context.Context, alertId string) (models.SystemAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, err := s.repo.Load(ctx, alertId)
	if err != nil {
		return models.SystemAlert{}, svcerror.New(
			svcerror.ErrNotFound,
			svcerror.WithOp("Alerts.Acknowledge"),
			svcerror.WithMsg(fmt.Sprintf("alert %s not found", alertId)),
			svcerror.WithCause(err),
		)
	}

	if alert.Acknowledged {
		return alert, nil
	}

	alert.Acknowledged = true
	alert.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, alert); err != nil {
		return models.SystemAlert{}, svcerror.AddOp(err, "Alerts.Acknowledge")
	}

	key := dedupeKey(alert.SubjectId, alert.Type)
	if s.byKey[key] == alert.AlertId {
		delete(s.byKey, key)
	}
	if s.sink != nil {
		s.sink.SaveAlert(alert)
	}

	if s.publisher != nil {
		s.publisher.Publish(events.EventAlert{
			Metadata: events.NewMetadata(events.EvtTypeAlertAcknowledged, firstId(alert.AffectedOrders), firstId(alert.AffectedRiders), events.ProducerAlertStore),
			Alert:    alert,
		})
	}

	return alert, nil
}

func (s *Store) List(ctx context.Context, filter Filter) ([]models.SystemAlert, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, svcerror.AddOp(err, "Alerts.List")
	}

	filtered := all[:0]
	for _, alert := range all {
		if filter.Type != "" && alert.Type != filter.Type {
			continue
		}
		if filter.Acknowledged != nil && alert.Acknowledged != *filter.Acknowledged {
			continue
		}
		filtered = append(filtered, alert)
	}
	return filtered, nil
}

func mergeIds(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range incoming {
		if !seen[id] {
			existing = append(existing, id)
			seen[id] = true
		}
	}
	return existing
}

func firstId(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
