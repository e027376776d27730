package alerts_test

import (
	"context"
	"sync"
	"testing"

	"delivery-dispatch/pkg/alerts"
	"delivery-dispatch/pkg/events"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func newAlertStore(publisher alerts.Publisher) *alerts.Store {
	repo := state.NewMemoryRepo(func(a models.SystemAlert) string { return a.AlertId })
	return alerts.NewStore(repo, publisher, nil)
}

func breachAlert(orderId string, severity models.AlertSeverity) models.SystemAlert {
	return models.SystemAlert{
		Type:           models.ALERT_TYPE_SLA_BREACH,
		SubjectId:      orderId,
		Severity:       severity,
		Message:        "order " + orderId + " past deadline",
		AffectedOrders: []string{orderId},
	}
}

func TestStore_RaiseDeduplicatesPerSubjectAndType(t *testing.T) {
	ctx := context.Background()
	store := newAlertStore(nil)

	first, outcome, err := store.Raise(ctx, breachAlert("order-1", models.ALERT_SEVERITY_MEDIUM))
	require.NoError(t, err)
	assert.Equal(t, alerts.OutcomeCreated, outcome)
	assert.NotEmpty(t, first.AlertId)

	again, outcome, err := store.Raise(ctx, breachAlert("order-1", models.ALERT_SEVERITY_MEDIUM))
	require.NoError(t, err)
	assert.Equal(t, alerts.OutcomeUnchanged, outcome)
	assert.Equal(t, first.AlertId, again.AlertId)

	other, outcome, err := store.Raise(ctx, breachAlert("order-2", models.ALERT_SEVERITY_MEDIUM))
	require.NoError(t, err)
	assert.Equal(t, alerts.OutcomeCreated, outcome)
	assert.NotEqual(t, first.AlertId, other.AlertId)
}

func TestStore_RaiseEscalatesButNeverDowngrades(t *testing.T) {
	ctx := context.Background()
	store := newAlertStore(nil)

	created, _, err := store.Raise(ctx, breachAlert("order-1", models.ALERT_SEVERITY_MEDIUM))
	require.NoError(t, err)

	escalated, outcome, err := store.Raise(ctx, breachAlert("order-1", models.ALERT_SEVERITY_CRITICAL))
	require.NoError(t, err)
	assert.Equal(t, alerts.OutcomeEscalated, outcome)
	assert.Equal(t, created.AlertId, escalated.AlertId)
	assert.Equal(t, models.ALERT_SEVERITY_CRITICAL, escalated.Severity)

	unchanged, outcome, err := store.Raise(ctx, breachAlert("order-1", models.ALERT_SEVERITY_LOW))
	require.NoError(t, err)
	assert.Equal(t, alerts.OutcomeUnchanged, outcome)
	assert.Equal(t, models.ALERT_SEVERITY_CRITICAL, unchanged.Severity)
}

func TestStore_EscalationMergesAffectedIds(t *testing.T) {
	ctx := context.Background()
	store := newAlertStore(nil)

	_, _, err := store.Raise(ctx, models.SystemAlert{
		Type:           models.ALERT_TYPE_HIGH_DEMAND,
		SubjectId:      "resto-1",
		Severity:       models.ALERT_SEVERITY_MEDIUM,
		AffectedOrders: []string{"order-1", "order-2"},
	})
	require.NoError(t, err)

	escalated, outcome, err := store.Raise(ctx, models.SystemAlert{
		Type:           models.ALERT_TYPE_HIGH_DEMAND,
		SubjectId:      "resto-1",
		Severity:       models.ALERT_SEVERITY_HIGH,
		AffectedOrders: []string{"order-2", "order-3"},
	})
	require.NoError(t, err)
	assert.Equal(t, alerts.OutcomeEscalated, outcome)
	assert.ElementsMatch(t, []string{"order-1", "order-2", "order-3"}, escalated.AffectedOrders)
}

func TestStore_AcknowledgeIsIdempotentAndReopensDedupe(t *testing.T) {
	ctx := context.Background()
	publisher := &capturePublisher{}
	store := newAlertStore(publisher)

	created, _, err := store.Raise(ctx, breachAlert("order-1", models.ALERT_SEVERITY_HIGH))
	require.NoError(t, err)

	acked, err := store.Acknowledge(ctx, created.AlertId)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.Contains(t, publisher.types(), events.EvtTypeAlertAcknowledged)

	// second ack is a no-op, not an error
	again, err := store.Acknowledge(ctx, created.AlertId)
	require.NoError(t, err)
	assert.True(t, again.Acknowledged)

	// the condition persisting opens a fresh alert
	fresh, outcome, err := store.Raise(ctx, breachAlert("order-1", models.ALERT_SEVERITY_MEDIUM))
	require.NoError(t, err)
	assert.Equal(t, alerts.OutcomeCreated, outcome)
	assert.NotEqual(t, created.AlertId, fresh.AlertId)
	assert.Equal(t, models.ALERT_SEVERITY_MEDIUM, fresh.Severity)
}

func TestStore_AcknowledgeUnknownAlert(t *testing.T) {
	store := newAlertStore(nil)
	_, err := store.Acknowledge(context.Background(), "nope")
	assert.Error(t, err)
}

func TestStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	store := newAlertStore(nil)

	breach, _, err := store.Raise(ctx, breachAlert("order-1", models.ALERT_SEVERITY_MEDIUM))
	require.NoError(t, err)
	_, _, err = store.Raise(ctx, models.SystemAlert{
		Type:      models.ALERT_TYPE_RIDER_OFFLINE,
		SubjectId: "rider-1",
		Severity:  models.ALERT_SEVERITY_HIGH,
	})
	require.NoError(t, err)
	_, err = store.Acknowledge(ctx, breach.AlertId)
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter alerts.Filter
		want   int
	}{
		{name: "all", filter: alerts.Filter{}, want: 2},
		{name: "by type", filter: alerts.Filter{Type: models.ALERT_TYPE_SLA_BREACH}, want: 1},
		{name: "unacknowledged", filter: alerts.Filter{Acknowledged: ptr(false)}, want: 1},
		{name: "acknowledged breaches", filter: alerts.Filter{Type: models.ALERT_TYPE_SLA_BREACH, Acknowledged: ptr(true)}, want: 1},
		{name: "no match", filter: alerts.Filter{Type: models.ALERT_TYPE_PAYMENT_ISSUE}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func ptr(b bool) *bool { return &b }
