package models

import "time"

type OrderRequest struct {
	OrderNumber        string   `json:"order_number"`
	CustomerId         string   `json:"customer_id" binding:"required"`
	RestaurantId       string   `json:"restaurant_id" binding:"required"`
	RestaurantLocation Location `json:"restaurant_location" binding:"required"`
	DeliveryLocation   Location `json:"delivery_location" binding:"required"`
	PrepTimeMinutes    int      `json:"prep_time_minutes"`
	Priority           int      `json:"priority"`
}

type OrderResponse struct {
	OrderId     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
	RiderId     string    `json:"rider_id,omitempty"`
	SlaDeadline time.Time `json:"sla_deadline"`
	Message     string    `json:"message,omitempty"`
}

type RiderRequest struct {
	Name            string       `json:"name" binding:"required"`
	Rating          float64      `json:"rating"`
	MaxActiveOrders int          `json:"max_active_orders"`
	Location        LocationPing `json:"location"`
}

// Coordinates have no required tag: 0.0 is a legitimate latitude or
// longitude and a required float would reject it.
type LocationUpdateRequest struct {
	Latitude       float64 `json:"lat" binding:"gte=-90,lte=90"`
	Longitude      float64 `json:"lon" binding:"gte=-180,lte=180"`
	AccuracyMeters float64 `json:"accuracy_m"`
}

type AssignRequest struct {
	// Empty rider id means auto-select.
	RiderId string `json:"rider_id"`
}

type AssignResponse struct {
	OrderId string `json:"order_id"`
	RiderId string `json:"rider_id"`
	Message string `json:"message,omitempty"`
}

type StatusUpdateRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
}
