package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/service/stock"
)

type stockRecordRequest struct {
	ProductID   string `json:"product_id" binding:"required"`
	WarehouseID string `json:"warehouse_id" binding:"required"`
	Quantity    *int64 `json:"quantity" binding:"required,min=0"`
	Reason      string `json:"reason" binding:"max=255"`
}

type adjustStockRequest struct {
	Quantity  *int64 `json:"quantity" binding:"required"`
	Operation string `json:"operation" binding:"required"`
	Reason    string `json:"reason" binding:"max=255"`
}

type transferStockRequest struct {
	ProductID       string `json:"product_id" binding:"required"`
	FromWarehouseID string `json:"from_warehouse_id" binding:"required"`
	ToWarehouseID   string `json:"to_warehouse_id" binding:"required"`
	Quantity        int64  `json:"quantity"`
	Reason          string `json:"reason" binding:"max=255"`
}

type listStockQuery struct {
	ProductID         string `form:"product_id"`
	WarehouseID       string `form:"warehouse_id"`
	LowStockThreshold int64  `form:"low_stock_threshold"`
	Limit             int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

type limitQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

func (h *Handler) createStockRecord(c *gin.Context) {
	var req stockRecordRequest
	if !h.bindJSON(c, &req) {
		return
	}

	rec, err := h.stock.CreateStockRecord(c.Request.Context(), stock.CreateCommand{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    *req.Quantity,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusCreated, "Inventory record created successfully", toStockRecordView(rec))
}

func (h *Handler) getStockRecord(c *gin.Context) {
	rec, err := h.stock.GetStockRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "", toStockRecordView(rec))
}

func (h *Handler) listStockRecords(c *gin.Context) {
	var query listStockQuery
	if !h.bindQuery(c, &query) {
		return
	}

	records, err := h.stock.ListStockRecords(c.Request.Context(), domain.StockFilter{
		ProductID:         query.ProductID,
		WarehouseID:       query.WarehouseID,
		LowStockThreshold: query.LowStockThreshold,
		Limit:             query.Limit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "", mapSlice(records, toStockRecordView))
}

func (h *Handler) updateStockRecord(c *gin.Context) {
	var req stockRecordRequest
	if !h.bindJSON(c, &req) {
		return
	}

	rec, err := h.stock.UpdateStockRecord(c.Request.Context(), stock.UpdateCommand{
		StockRecordID: c.Param("id"),
		ProductID:     req.ProductID,
		WarehouseID:   req.WarehouseID,
		Quantity:      *req.Quantity,
		Reason:        req.Reason,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "Inventory updated successfully", toStockRecordView(rec))
}

func (h *Handler) deleteStockRecord(c *gin.Context) {
	if err := h.stock.DeleteStockRecord(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "Inventory record deleted successfully", nil)
}

func (h *Handler) adjustStock(c *gin.Context) {
	var req adjustStockRequest
	if !h.bindJSON(c, &req) {
		return
	}

	op, err := domain.ParseStockOperation(req.Operation)
	if err != nil {
		h.writeError(c, err)
		return
	}

	rec, err := h.stock.AdjustStock(c.Request.Context(), stock.AdjustCommand{
		StockRecordID: c.Param("id"),
		Quantity:      *req.Quantity,
		Operation:     op,
		Reason:        req.Reason,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "Stock updated successfully", toStockRecordView(rec))
}

func (h *Handler) transferStock(c *gin.Context) {
	var req transferStockRequest
	if !h.bindJSON(c, &req) {
		return
	}

	result, err := h.stock.Transfer(c.Request.Context(), stock.TransferCommand{
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		Reason:          req.Reason,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "Stock transferred successfully", toTransferView(result))
}

func (h *Handler) listMovements(c *gin.Context) {
	var query limitQuery
	if !h.bindQuery(c, &query) {
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.stock.GetStockRecord(ctx, id); err != nil {
		h.writeError(c, err)
		return
	}

	movements, err := h.stock.ListMovements(ctx, id, query.Limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeOK(c, http.StatusOK, "", mapSlice(movements, toMovementView))
}
