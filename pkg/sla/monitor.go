package sla

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"delivery-dispatch/pkg/alerts"
	"delivery-dispatch/pkg/events"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/state"
	"delivery-dispatch/pkg/utils"
)

type Publisher interface {
	Publish(evt events.DomainEvent)
}

// Reassigner is the slice of the assignment engine the monitor drives
// when a rider drops offline while holding orders.
type Reassigner interface {
	ReassignRiderOrders(ctx context.Context, riderId string)
}

type Config struct {
	ScanInterval time.Duration
	// ScanTimeout is advisory: an overrunning scan logs a warning and
	// finishes in the background, it is never killed mid-write.
	ScanTimeout time.Duration

	// Overrun thresholds for breach severity. Below Medium the breach
	// is MEDIUM, below High it is HIGH, past that CRITICAL.
	MediumBelow time.Duration
	HighBelow   time.Duration

	// Unassigned orders waiting longer than BacklogWait count toward a
	// zone's demand; a zone past BacklogThreshold raises HIGH_DEMAND.
	BacklogWait      time.Duration
	BacklogThreshold int

	// AutoReassign controls whether a RIDER_OFFLINE alert also triggers
	// reassignment of the rider's orders, or leaves it to an operator.
	AutoReassign bool
}

func ConfigFromEnv() Config {
	return Config{
		ScanInterval:     utils.GetEnvDuration("SLA_SCAN_INTERVAL", time.Minute),
		ScanTimeout:      utils.GetEnvDuration("SLA_SCAN_TIMEOUT", 30*time.Second),
		MediumBelow:      utils.GetEnvDuration("SLA_SEVERITY_MEDIUM_BELOW", 5*time.Minute),
		HighBelow:        utils.GetEnvDuration("SLA_SEVERITY_HIGH_BELOW", 15*time.Minute),
		BacklogWait:      utils.GetEnvDuration("SLA_BACKLOG_WAIT", 2*time.Minute),
		BacklogThreshold: utils.GetEnvInt("SLA_BACKLOG_THRESHOLD", 3),
		AutoReassign:     utils.GetEnvBool("SLA_AUTO_REASSIGN", true),
	}
}

// Monitor runs the periodic deadline scan. Scans are single-flight: a
// tick that fires while the previous scan is still running is skipped.
type Monitor struct {
	store      *state.Store
	alerts     *alerts.Store
	hub        Publisher
	reassigner Reassigner
	conf       Config

	scanMU sync.Mutex
}

func NewMonitor(store *state.Store, alertStore *alerts.Store, hub Publisher, reassigner Reassigner, conf Config) *Monitor {
	return &Monitor{
		store:      store,
		alerts:     alertStore,
		hub:        hub,
		reassigner: reassigner,
		conf:       conf,
	}
}

func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.conf.ScanInterval)
	defer ticker.Stop()

	log.Printf("[SLA-MONITOR] Running with interval %s, advisory timeout %s", m.conf.ScanInterval, m.conf.ScanTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !m.scanMU.TryLock() {
				log.Printf("[SLA-MONITOR] Previous scan still running, skipping tick")
				continue
			}
			go func() {
				defer m.scanMU.Unlock()

				started := time.Now()
				watchdog := time.AfterFunc(m.conf.ScanTimeout, func() {
					log.Printf("[SLA-MONITOR] Scan exceeded budget of %s, letting it finish", m.conf.ScanTimeout)
				})
				defer watchdog.Stop()

				m.Scan(ctx)
				log.Printf("[SLA-MONITOR] Scan completed in %s", time.Since(started))
			}()
		}
	}
}

// Scan evaluates a point-in-time snapshot of the fleet: breach
// detection and escalation per order, demand backlog per zone,
// offline riders still holding orders.
func (m *Monitor) Scan(ctx context.Context) {
	snapshot, err := m.store.Snapshot(ctx)
	if err != nil {
		log.Printf("[SLA-MONITOR] Failed to take snapshot: %v", err)
		return
	}

	for _, order := range snapshot.Orders {
		m.evaluateOrder(ctx, order, snapshot.TakenAt)
	}

	m.evaluateBacklog(ctx, snapshot)
	m.evaluateOfflineRiders(ctx, snapshot)
}

// evaluateOrder is isolated: one malformed record logs and the scan
// moves on.
func (m *Monitor) evaluateOrder(ctx context.Context, order models.Order, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SLA-MONITOR] Evaluation of order %s panicked: %v", order.OrderId, r)
		}
	}()

	if order.Status.IsTerminal() {
		return
	}

	overrun := now.Sub(order.SlaDeadline)
	if overrun <= 0 {
		return
	}

	severity := m.severityFor(overrun)

	if !order.SlaBreached {
		// The snapshot may be stale: re-check terminal status under the
		// entity lock so a just-delivered order is left alone.
		updated, err := m.store.UpdateOrder(ctx, order.OrderId, func(o *models.Order) error {
			if o.Status.IsTerminal() {
				return errOrderTerminal
			}
			o.SlaBreached = true
			return nil
		})
		if err != nil {
			if err != errOrderTerminal {
				log.Printf("[SLA-MONITOR] Failed to flag breach on order %s: %v", order.OrderId, err)
			}
			return
		}
		order = updated
	}

	alert := models.SystemAlert{
		Type:           models.ALERT_TYPE_SLA_BREACH,
		SubjectId:      order.OrderId,
		Severity:       severity,
		Message:        fmt.Sprintf("Order %s is %s past its delivery deadline", order.OrderNumber, overrun.Round(time.Second)),
		AffectedOrders: []string{order.OrderId},
	}
	if order.AssignedRiderId != "" {
		alert.AffectedRiders = []string{order.AssignedRiderId}
	}

	raised, outcome, err := m.alerts.Raise(ctx, alert)
	if err != nil {
		log.Printf("[SLA-MONITOR] Failed to raise breach alert for order %s: %v", order.OrderId, err)
		return
	}
	if outcome == alerts.OutcomeUnchanged {
		return
	}

	evtType := events.EvtTypeSlaBreachRaised
	if outcome == alerts.OutcomeEscalated {
		evtType = events.EvtTypeSlaBreachEscalated
	}
	m.publish(events.EventSlaBreach{
		Metadata:       events.NewMetadata(evtType, order.OrderId, order.AssignedRiderId, events.ProducerSlaMonitor),
		CustomerId:     order.CustomerId,
		RestaurantId:   order.RestaurantId,
		Severity:       raised.Severity,
		OverrunSeconds: int64(overrun.Seconds()),
	})
	m.publishAlert(raised, outcome)

	log.Printf("[SLA-MONITOR] Order %s breach %s severity=%s overrun=%s",
		order.OrderId, evtType, raised.Severity, overrun.Round(time.Second))
}

func (m *Monitor) severityFor(overrun time.Duration) models.AlertSeverity {
	switch {
	case overrun < m.conf.MediumBelow:
		return models.ALERT_SEVERITY_MEDIUM
	case overrun < m.conf.HighBelow:
		return models.ALERT_SEVERITY_HIGH
	default:
		return models.ALERT_SEVERITY_CRITICAL
	}
}

// evaluateBacklog raises HIGH_DEMAND per restaurant zone when too many
// orders wait unassigned past the configured threshold.
func (m *Monitor) evaluateBacklog(ctx context.Context, snapshot state.Snapshot) {
	type zone struct {
		orderIds []string
	}
	zones := make(map[string]*zone)

	for _, order := range snapshot.Orders {
		if order.Status.IsTerminal() || order.AssignedRiderId != "" || order.Status == models.ORDER_STATUS_PENDING {
			continue
		}
		if snapshot.TakenAt.Sub(order.CreatedAt) < m.conf.BacklogWait {
			continue
		}
		z := zones[order.RestaurantId]
		if z == nil {
			z = &zone{}
			zones[order.RestaurantId] = z
		}
		z.orderIds = append(z.orderIds, order.OrderId)
	}

	for restaurantId, z := range zones {
		if len(z.orderIds) < m.conf.BacklogThreshold {
			continue
		}
		severity := models.ALERT_SEVERITY_MEDIUM
		if len(z.orderIds) >= 2*m.conf.BacklogThreshold {
			severity = models.ALERT_SEVERITY_HIGH
		}
		raised, outcome, err := m.alerts.Raise(ctx, models.SystemAlert{
			Type:           models.ALERT_TYPE_HIGH_DEMAND,
			SubjectId:      restaurantId,
			Severity:       severity,
			Message:        fmt.Sprintf("%d orders waiting for a rider in zone %s", len(z.orderIds), restaurantId),
			AffectedOrders: z.orderIds,
		})
		if err != nil {
			log.Printf("[SLA-MONITOR] Failed to raise high-demand alert for zone %s: %v", restaurantId, err)
			continue
		}
		m.publishAlert(raised, outcome)
	}
}

// evaluateOfflineRiders raises RIDER_OFFLINE for riders that dropped
// offline while holding orders, and optionally reassigns those orders.
func (m *Monitor) evaluateOfflineRiders(ctx context.Context, snapshot state.Snapshot) {
	for _, rider := range snapshot.Riders {
		if rider.IsOnline || rider.Load() == 0 {
			continue
		}

		raised, outcome, err := m.alerts.Raise(ctx, models.SystemAlert{
			Type:           models.ALERT_TYPE_RIDER_OFFLINE,
			SubjectId:      rider.RiderId,
			Severity:       models.ALERT_SEVERITY_HIGH,
			Message:        fmt.Sprintf("Rider %s went offline holding %d active order(s)", rider.RiderId, rider.Load()),
			AffectedOrders: append([]string(nil), rider.ActiveOrderIds...),
			AffectedRiders: []string{rider.RiderId},
		})
		if err != nil {
			log.Printf("[SLA-MONITOR] Failed to raise rider-offline alert for %s: %v", rider.RiderId, err)
			continue
		}
		m.publishAlert(raised, outcome)

		if m.conf.AutoReassign && m.reassigner != nil && outcome == alerts.OutcomeCreated {
			m.reassigner.ReassignRiderOrders(ctx, rider.RiderId)
		}
	}
}

func (m *Monitor) publishAlert(alert models.SystemAlert, outcome alerts.RaiseOutcome) {
	if outcome == alerts.OutcomeUnchanged {
		return
	}
	m.publish(events.EventAlert{
		Metadata: events.NewMetadata(events.EvtTypeAlertRaised, firstId(alert.AffectedOrders), firstId(alert.AffectedRiders), events.ProducerSlaMonitor),
		Alert:    alert,
	})
}

func (m *Monitor) publish(evt events.DomainEvent) {
	if m.hub != nil {
		m.hub.Publish(evt)
	}
}

func firstId(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

var errOrderTerminal = fmt.Errorf("order reached terminal status")
