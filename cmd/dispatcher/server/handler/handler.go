package handler

import (
	"errors"
	"log"
	"net/http"

	"delivery-dispatch/cmd/dispatcher/server/service"
	"delivery-dispatch/pkg/alerts"
	"delivery-dispatch/pkg/assignment"
	svcerror "delivery-dispatch/pkg/error"
	"delivery-dispatch/pkg/models"
	"delivery-dispatch/pkg/state"
	"delivery-dispatch/pkg/utils"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Service *service.Service
	Store   *state.Store
	Engine  *assignment.Engine
	Alerts  *alerts.Store
}

func NewHandler(svc *service.Service, store *state.Store, engine *assignment.Engine, alertStore *alerts.Store) *Handler {
	return &Handler{
		Service: svc,
		Store:   store,
		Engine:  engine,
		Alerts:  alertStore,
	}
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req models.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("Invalid request format: %v", err)
		utils.SendValidationError(c, err)
		return
	}

	order, err := h.Service.CreateOrder(c, &req)
	if err != nil {
		log.Printf("Failed to create order: %v", err)
		utils.SendInternalError(c, "Failed to create order")
		return
	}

	response := models.OrderResponse{
		OrderId:     order.OrderId,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		RiderId:     order.AssignedRiderId,
		SlaDeadline: order.SlaDeadline,
		Message:     "Order received and entering dispatch",
	}
	utils.SendSuccess(c, http.StatusCreated, response.Message, response)
}

func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.Store.GetOrder(c, c.Param("id"))
	if err != nil {
		utils.SendNotFound(c, "Order not found")
		return
	}
	utils.SendSuccess(c, http.StatusOK, "Order retrieved", order)
}

// ListOrders returns active orders with status, assigned rider, breach
// flag and priority; ?backlog=true narrows to the unassigned backlog.
func (h *Handler) ListOrders(c *gin.Context) {
	var (
		orders []models.Order
		err    error
	)
	if c.Query("backlog") == "true" {
		orders, err = h.Store.UnassignedOrders(c)
	} else {
		orders, err = h.Store.ActiveOrders(c)
	}
	if err != nil {
		utils.SendInternalError(c, "Failed to list orders")
		return
	}
	utils.SendSuccess(c, http.StatusOK, "Orders retrieved", orders)
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req models.StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err)
		return
	}

	order, err := h.Service.UpdateOrderStatus(c, c.Param("id"), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, svcerror.ErrNotFound):
			utils.SendNotFound(c, "Order not found")
		case errors.Is(err, svcerror.ErrInvalidTransition):
			utils.SendError(c, http.StatusConflict, "INVALID_TRANSITION", "Invalid status transition", err.Error())
		default:
			utils.SendInternalError(c, "Failed to update order status")
		}
		return
	}
	utils.SendSuccess(c, http.StatusOK, "Order status updated", order)
}

// AssignOrder dispatches an order; an empty body or empty rider_id
// auto-selects, a concrete rider_id is an operator override.
func (h *Handler) AssignOrder(c *gin.Context) {
	var req models.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		utils.SendValidationError(c, err)
		return
	}

	riderId, err := h.Engine.Assign(c, c.Param("id"), req.RiderId)
	if err != nil {
		h.sendAssignError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, "Order assigned", models.AssignResponse{
		OrderId: c.Param("id"),
		RiderId: riderId,
	})
}

func (h *Handler) ReassignOrder(c *gin.Context) {
	riderId, err := h.Engine.Reassign(c, c.Param("id"))
	if err != nil {
		h.sendAssignError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, "Order reassigned", models.AssignResponse{
		OrderId: c.Param("id"),
		RiderId: riderId,
	})
}

// Explicit results for the operator surface: NoRiderAvailable and
// OrderNotFound are surfaced, never swallowed.
func (h *Handler) sendAssignError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, svcerror.ErrNotFound):
		utils.SendError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "Order not found", err.Error())
	case errors.Is(err, svcerror.ErrNoRiderAvailable):
		utils.SendError(c, http.StatusConflict, "NO_RIDER_AVAILABLE", "No eligible rider available", err.Error())
	case errors.Is(err, svcerror.ErrBusinessError):
		utils.SendError(c, http.StatusConflict, "DISPATCH_CONFLICT", "Dispatch conflict", err.Error())
	default:
		log.Printf("Assign command failed: %+v", err)
		utils.SendInternalError(c, "Failed to dispatch order")
	}
}

func (h *Handler) RegisterRider(c *gin.Context) {
	var req models.RiderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err)
		return
	}

	rider, err := h.Service.RegisterRider(c, &req)
	if err != nil {
		utils.SendInternalError(c, "Failed to register rider")
		return
	}
	utils.SendSuccess(c, http.StatusCreated, "Rider registered", rider)
}

// ListRiders returns online riders with status, location and load;
// ?all=true includes offline riders.
func (h *Handler) ListRiders(c *gin.Context) {
	var (
		riders []models.Rider
		err    error
	)
	if c.Query("all") == "true" {
		riders, err = h.Store.ListRiders(c)
	} else {
		riders, err = h.Store.OnlineRiders(c)
	}
	if err != nil {
		utils.SendInternalError(c, "Failed to list riders")
		return
	}
	utils.SendSuccess(c, http.StatusOK, "Riders retrieved", riders)
}

func (h *Handler) RiderLocation(c *gin.Context) {
	var req models.LocationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err)
		return
	}

	emitted, err := h.Service.HandleLocationPing(c, c.Param("id"), models.LocationPing{
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		AccuracyMeters: req.AccuracyMeters,
	})
	if err != nil {
		if errors.Is(err, svcerror.ErrNotFound) {
			utils.SendNotFound(c, "Rider not found")
			return
		}
		utils.SendInternalError(c, "Failed to process location ping")
		return
	}
	utils.SendSuccess(c, http.StatusOK, "Location recorded", emitted)
}

func (h *Handler) RiderOnline(c *gin.Context) {
	h.setRiderPresence(c, true)
}

func (h *Handler) RiderOffline(c *gin.Context) {
	h.setRiderPresence(c, false)
}

func (h *Handler) setRiderPresence(c *gin.Context, online bool) {
	rider, err := h.Service.SetRiderOnline(c, c.Param("id"), online)
	if err != nil {
		if errors.Is(err, svcerror.ErrNotFound) {
			utils.SendNotFound(c, "Rider not found")
			return
		}
		utils.SendInternalError(c, "Failed to update rider presence")
		return
	}
	utils.SendSuccess(c, http.StatusOK, "Rider presence updated", rider)
}

func (h *Handler) ListAlerts(c *gin.Context) {
	filter := alerts.Filter{Type: models.AlertType(c.Query("type"))}
	if raw := c.Query("acknowledged"); raw != "" {
		acked := raw == "true"
		filter.Acknowledged = &acked
	}

	list, err := h.Alerts.List(c, filter)
	if err != nil {
		utils.SendInternalError(c, "Failed to list alerts")
		return
	}
	utils.SendSuccess(c, http.StatusOK, "Alerts retrieved", list)
}

func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	alert, err := h.Alerts.Acknowledge(c, c.Param("id"))
	if err != nil {
		if errors.Is(err, svcerror.ErrNotFound) {
			utils.SendNotFound(c, "Alert not found")
			return
		}
		utils.SendInternalError(c, "Failed to acknowledge alert")
		return
	}
	utils.SendSuccess(c, http.StatusOK, "Alert acknowledged", alert)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	health := map[string]any{
		"status":  "healthy",
		"service": "dispatcher",
	}
	utils.SendSuccess(c, http.StatusOK, "Service is Healthy", health)
}
