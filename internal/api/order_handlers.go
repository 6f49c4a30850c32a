package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) createSale(c *gin.Context) {
	warehouseID, _, ok := scope(c)
	if !ok {
		return
	}
	var req service.SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.WarehouseID = warehouseID
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	detail, err := h.orders.CreateSale(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

func (h *Handler) createPurchase(c *gin.Context) {
	warehouseID, _, ok := scope(c)
	if !ok {
		return
	}
	var req service.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.WarehouseID = warehouseID

	detail, err := h.orders.CreatePurchase(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

func (h *Handler) createQuotation(c *gin.Context) {
	warehouseID, _, ok := scope(c)
	if !ok {
		return
	}
	var req service.QuotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.WarehouseID = warehouseID

	detail, err := h.orders.CreateQuotation(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

// getOrder serves one order kind; an id of another kind is not found
func (h *Handler) getOrder(kind models.OrderKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		warehouseID, id, ok := scope(c)
		if !ok {
			return
		}
		detail, err := h.orders.GetOrder(c.Request.Context(), warehouseID, id)
		if err == nil && detail.Order.Kind != kind {
			err = models.NewNotFoundError(string(kind), id)
		}
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

func (h *Handler) recordPayment(c *gin.Context) {
	warehouseID, id, ok := scope(c)
	if !ok {
		return
	}
	var req service.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.WarehouseID, req.SaleID = warehouseID, id

	detail, err := h.orders.RecordPayment(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

func (h *Handler) convertQuotation(c *gin.Context) {
	warehouseID, id, ok := scope(c)
	if !ok {
		return
	}
	var req service.ConvertRequest
	if !bindOptional(c, &req) {
		return
	}
	req.WarehouseID, req.QuotationID = warehouseID, id

	res, err := h.orders.ConvertQuotationToSale(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) deleteOrder(c *gin.Context, del func(ctx context.Context, warehouseID, id int64) error) {
	warehouseID, id, ok := scope(c)
	if !ok {
		return
	}
	if err := del(c.Request.Context(), warehouseID, id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteSale(c *gin.Context) {
	h.deleteOrder(c, h.orders.DeleteSale)
}

func (h *Handler) deletePurchase(c *gin.Context) {
	h.deleteOrder(c, h.orders.DeletePurchase)
}

func (h *Handler) deleteQuotation(c *gin.Context) {
	h.deleteOrder(c, h.orders.DeleteQuotation)
}

func (h *Handler) listDiverged(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	records, err := h.sync.ListDiverged(c.Request.Context(), models.EntityType(c.Param("entityType")), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

type markSyncedRequest struct {
	SyncVersion int64     `json:"sync_version" binding:"required"`
	SyncedAt    time.Time `json:"synced_at"`
}

func (h *Handler) markSynced(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req markSyncedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	applied, err := h.sync.MarkSynced(c.Request.Context(), models.EntityType(c.Param("entityType")), id, req.SyncVersion, req.SyncedAt)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}
