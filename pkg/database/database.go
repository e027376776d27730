package database

import (
	"context"
	"fmt"
	"time"

	svcerror "delivery-dispatch/pkg/error"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/utils"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Database is the persistence collaborator. The dispatcher treats it as
// a write-behind sink: reads happen once at startup to warm the state
// store, writes trail the in-memory state and never gate it.
type Database struct {
	DB *pgxpool.Pool
}

func NewPGDatabase(ctx context.Context) (*Database, error) {
	dbConn, err := pgxpool.New(ctx, utils.GetEnv("PGSQL_URL", ""))
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to Postgres DB: %w", err)
	}

	return &Database{DB: dbConn}, nil
}

func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return svcerror.New(
		svcerror.ErrDatabaseError,
		svcerror.WithOp(op),
		svcerror.WithCause(err),
		svcerror.WithTime(time.Now().UTC()),
	)
}

// ORDERS
func (d *Database) LoadActiveOrders(ctx context.Context) ([]models.Order, error) {
	query := `SELECT id, order_number, customer_id, restaurant_id, status, priority,
				COALESCE(assigned_rider_id, ''),
				restaurant_lat, restaurant_lon, delivery_lat, delivery_lon,
				created_at, sla_deadline, sla_breached
			  FROM orders
			  WHERE status NOT IN ('DELIVERED', 'CANCELLED');`
	rows, err := d.DB.Query(ctx, query)
	if err != nil {
		return nil, dbErr("DB.LoadActiveOrders", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		err := rows.Scan(
			&o.OrderId, &o.OrderNumber, &o.CustomerId, &o.RestaurantId,
			&o.Status, &o.Priority, &o.AssignedRiderId,
			&o.RestaurantLocation.Latitude, &o.RestaurantLocation.Longitude,
			&o.DeliveryLocation.Latitude, &o.DeliveryLocation.Longitude,
			&o.CreatedAt, &o.SlaDeadline, &o.SlaBreached,
		)
		if err != nil {
			return nil, dbErr("DB.LoadActiveOrders", err)
		}
		orders = append(orders, o)
	}
	return orders, dbErr("DB.LoadActiveOrders", rows.Err())
}

func (d *Database) SaveOrder(ctx context.Context, order models.Order) error {
	query := `INSERT INTO orders(id, order_number, customer_id, restaurant_id, status, priority,
				assigned_rider_id, restaurant_lat, restaurant_lon, delivery_lat, delivery_lon,
				created_at, sla_deadline, sla_breached, updated_at)
			  VALUES($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13, $14, $15)
			  ON CONFLICT(id) DO UPDATE SET
				status = EXCLUDED.status,
				priority = EXCLUDED.priority,
				assigned_rider_id = EXCLUDED.assigned_rider_id,
				sla_breached = EXCLUDED.sla_breached,
				updated_at = EXCLUDED.updated_at;`
	_, err := d.DB.Exec(ctx, query,
		order.OrderId, order.OrderNumber, order.CustomerId, order.RestaurantId,
		string(order.Status), order.Priority, order.AssignedRiderId,
		order.RestaurantLocation.Latitude, order.RestaurantLocation.Longitude,
		order.DeliveryLocation.Latitude, order.DeliveryLocation.Longitude,
		order.CreatedAt, order.SlaDeadline, order.SlaBreached, time.Now().UTC(),
	)
	return dbErr("DB.SaveOrder", err)
}

// RIDERS
func (d *Database) LoadOnlineRiders(ctx context.Context) ([]models.Rider, error) {
	query := `SELECT id, name, is_online, status, rating, max_active_orders,
				last_lat, last_lon, last_accuracy_m, last_ping_at
			  FROM riders
			  WHERE is_online = TRUE;`
	rows, err := d.DB.Query(ctx, query)
	if err != nil {
		return nil, dbErr("DB.LoadOnlineRiders", err)
	}
	defer rows.Close()

	var riders []models.Rider
	for rows.Next() {
		var r models.Rider
		err := rows.Scan(
			&r.RiderId, &r.Name, &r.IsOnline, &r.Status, &r.Rating, &r.MaxActiveOrders,
			&r.CurrentLocation.Latitude, &r.CurrentLocation.Longitude,
			&r.CurrentLocation.AccuracyMeters, &r.CurrentLocation.Timestamp,
		)
		if err != nil {
			return nil, dbErr("DB.LoadOnlineRiders", err)
		}
		riders = append(riders, r)
	}
	return riders, dbErr("DB.LoadOnlineRiders", rows.Err())
}

func (d *Database) SaveRider(ctx context.Context, rider models.Rider) error {
	query := `INSERT INTO riders(id, name, is_online, status, rating, max_active_orders,
				last_lat, last_lon, last_accuracy_m, last_ping_at, updated_at)
			  VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			  ON CONFLICT(id) DO UPDATE SET
				is_online = EXCLUDED.is_online,
				status = EXCLUDED.status,
				last_lat = EXCLUDED.last_lat,
				last_lon = EXCLUDED.last_lon,
				last_accuracy_m = EXCLUDED.last_accuracy_m,
				last_ping_at = EXCLUDED.last_ping_at,
				updated_at = EXCLUDED.updated_at;`
	_, err := d.DB.Exec(ctx, query,
		rider.RiderId, rider.Name, rider.IsOnline, string(rider.Status),
		rider.Rating, rider.MaxActiveOrders,
		rider.CurrentLocation.Latitude, rider.CurrentLocation.Longitude,
		rider.CurrentLocation.AccuracyMeters, rider.CurrentLocation.Timestamp,
		time.Now().UTC(),
	)
	return dbErr("DB.SaveRider", err)
}

// ASSIGNMENTS
func (d *Database) SaveAssignment(ctx context.Context, assignment models.Assignment) error {
	query := `INSERT INTO assignments(id, order_id, rider_id, state, created_at, released_at)
			  VALUES($1, $2, $3, $4, $5, NULLIF($6, '0001-01-01 00:00:00'::timestamp))
			  ON CONFLICT(id) DO UPDATE SET
				state = EXCLUDED.state,
				released_at = EXCLUDED.released_at;`
	_, err := d.DB.Exec(ctx, query,
		assignment.AssignmentId, assignment.OrderId, assignment.RiderId,
		string(assignment.State), assignment.CreatedAt, assignment.ReleasedAt,
	)
	return dbErr("DB.SaveAssignment", err)
}

// ALERTS
func (d *Database) SaveAlert(ctx context.Context, alert models.SystemAlert) error {
	query := `INSERT INTO alerts(id, type, subject_id, severity, message,
				affected_orders, affected_riders, acknowledged, created_at, updated_at)
			  VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			  ON CONFLICT(id) DO UPDATE SET
				severity = EXCLUDED.severity,
				message = EXCLUDED.message,
				affected_orders = EXCLUDED.affected_orders,
				affected_riders = EXCLUDED.affected_riders,
				acknowledged = EXCLUDED.acknowledged,
				updated_at = EXCLUDED.updated_at;`
	_, err := d.DB.Exec(ctx, query,
		alert.AlertId, string(alert.Type), alert.SubjectId, string(alert.Severity),
		alert.Message, alert.AffectedOrders, alert.AffectedRiders,
		alert.Acknowledged, alert.CreatedAt, alert.UpdatedAt,
	)
	return dbErr("DB.SaveAlert", err)
}

func (d *Database) Close() {
	d.DB.Close()
}
