package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/service"
	"warehouse-ledger/internal/syncstate"
	"warehouse-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	core    *service.Core
	stock   *service.StockService
	balance *service.BalanceService
	orders  *service.Orchestrator
	sync    *syncstate.Reader
	ready   func(ctx context.Context) error
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler. ready may be nil.
func NewHandler(
	core *service.Core,
	stock *service.StockService,
	balance *service.BalanceService,
	orders *service.Orchestrator,
	sync *syncstate.Reader,
	ready func(ctx context.Context) error,
) *Handler {
	return &Handler{
		core:    core,
		stock:   stock,
		balance: balance,
		orders:  orders,
		sync:    sync,
		ready:   ready,
		logger:  util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/warehouses", h.createWarehouse)
		v1.GET("/warehouses/:warehouseID", h.getWarehouse)

		w := v1.Group("/warehouses/:warehouseID")
		{
			w.POST("/items", h.createItem)
			w.GET("/items", h.listItems)
			w.GET("/items/:id", h.getItem)
			w.POST("/items/:id/adjust", h.adjustStock)
			w.GET("/items/:id/stock", h.getStockLevel)
			w.GET("/items/:id/movements", h.listMovements)

			w.POST("/accounts", h.createAccount)
			w.GET("/accounts/:id", h.getAccount)
			w.POST("/accounts/:id/credit", h.credit)
			w.POST("/accounts/:id/withdraw", h.withdraw)
			w.POST("/accounts/:id/debit-allocate", h.debitAllocate)
			w.GET("/accounts/:id/transactions", h.listTransactions)

			w.POST("/sales", h.createSale)
			w.GET("/sales/:id", h.getOrder(models.OrderKindSale))
			w.POST("/sales/:id/payments", h.recordPayment)
			w.DELETE("/sales/:id", h.deleteSale)

			w.POST("/purchases", h.createPurchase)
			w.GET("/purchases/:id", h.getOrder(models.OrderKindPurchase))
			w.DELETE("/purchases/:id", h.deletePurchase)

			w.POST("/quotations", h.createQuotation)
			w.GET("/quotations/:id", h.getOrder(models.OrderKindQuotation))
			w.POST("/quotations/:id/convert", h.convertQuotation)
			w.DELETE("/quotations/:id", h.deleteQuotation)
		}

		v1.GET("/sync/:entityType", h.listDiverged)
		v1.POST("/sync/:entityType/:id/synced", h.markSynced)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports whether the store is reachable
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// writeError maps domain errors onto HTTP statuses
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		validation   *models.ValidationError
		notFound     *models.NotFoundError
		conflict     *models.ConflictError
		insufficient *models.InsufficientStockError
		consistency  *models.ConsistencyError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "details": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict", "details": err.Error()})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "Insufficient stock",
			"details":   err.Error(),
			"item_id":   insufficient.ItemID,
			"available": insufficient.Available,
			"requested": insufficient.Requested,
		})
	case errors.As(err, &consistency):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ledger inconsistency", "details": err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error", "details": err.Error()})
	}
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + param,
		})
		return 0, false
	}
	return id, true
}

// scope parses the warehouse and, when present, the resource id of the path
func scope(c *gin.Context) (warehouseID, id int64, ok bool) {
	if warehouseID, ok = parseID(c, "warehouseID"); !ok {
		return 0, 0, false
	}
	if c.Param("id") == "" {
		return warehouseID, 0, true
	}
	if id, ok = parseID(c, "id"); !ok {
		return 0, 0, false
	}
	return warehouseID, id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
