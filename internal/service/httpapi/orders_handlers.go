package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/service/orders"
)

type orderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,min=1"`
}

type createOrderRequest struct {
	CustomerID    string             `json:"customer_id" binding:"required"`
	UserID        string             `json:"user_id"`
	PaymentMethod string             `json:"payment_method" binding:"required,max=20"`
	OrderDate     *time.Time         `json:"order_date"`
	Items         []orderItemRequest `json:"items" binding:"required,min=1,dive"`
}

type updateOrderStatusRequest struct {
	OrderStatus string `json:"order_status" binding:"required"`
}

type listOrdersQuery struct {
	CustomerID string `form:"customer_id"`
	Status     string `form:"status"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if !h.bindJSON(c, &req) {
		return
	}

	cmd := orders.CreateOrderCommand{
		CustomerID:    req.CustomerID,
		UserID:        req.UserID,
		PaymentMethod: req.PaymentMethod,
		Lines:         make([]orders.LineInput, 0, len(req.Items)),
	}
	if req.OrderDate != nil {
		cmd.OrderDate = req.OrderDate.UTC()
	}
	for _, item := range req.Items {
		cmd.Lines = append(cmd.Lines, orders.LineInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), cmd)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, "Order created successfully", toOrderView(order))
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "", toOrderView(order))
}

func (h *Handler) listOrders(c *gin.Context) {
	var query listOrdersQuery
	if !h.bindQuery(c, &query) {
		return
	}

	filter := domain.OrderFilter{CustomerID: query.CustomerID, Limit: query.Limit}
	if query.Status != "" {
		status, err := domain.ParseOrderStatus(query.Status)
		if err != nil {
			h.writeError(c, err)
			return
		}
		filter.Status = status
	}

	result, err := h.orders.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "", mapSlice(result, toOrderView))
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req updateOrderStatusRequest
	if !h.bindJSON(c, &req) {
		return
	}

	status, err := domain.ParseOrderStatus(req.OrderStatus)
	if err != nil {
		h.writeError(c, err)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "Order status updated successfully", toOrderView(order))
}
