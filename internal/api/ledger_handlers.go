package api

import (
	"errors"
	"io"
	"net/http"

	"warehouse-ledger/internal/service"

	"github.com/gin-gonic/gin"
)

// bindOptional binds a JSON body when one was sent
func bindOptional(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		bindError(c, err)
		return false
	}
	return true
}

func (h *Handler) createWarehouse(c *gin.Context) {
	var req service.CreateWarehouseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	w, err := h.core.CreateWarehouse(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) getWarehouse(c *gin.Context) {
	warehouseID, ok := parseID(c, "warehouseID")
	if !ok {
		return
	}
	w, err := h.core.GetWarehouse(c.Request.Context(), warehouseID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) createItem(c *gin.Context) {
	warehouseID, _, ok := scope(c)
	if !ok {
		return
	}
	var req service.CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.WarehouseID = warehouseID

	res, err := h.stock.CreateItem(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) listItems(c *gin.Context) {
	warehouseID, _, ok := scope(c)
	if !ok {
		return
	}
	items, err := h.stock.ListItems(c.Request.Context(), warehouseID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) getItem(c *gin.Context) {
	warehouseID, id, ok := scope(c)
	if !ok {
		return
	}
	item, err := h.stock.GetItem(c.Request.Context(), warehouseID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) adjustStock(c *gin.Context) {
	warehouseID, id, ok := scope(c)
	if !ok {
		return
	}
	var req service.AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.WarehouseID, req.ItemID = warehouseID, id

	res, err := h.stock.Adjust(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getStockLevel(c *gin.Context) {
	warehouseID, id, ok := scope(c)
	if !ok {
		return
	}
	level, err := h.stock.GetStockLevel(c.Request.Context(), warehouseID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, level)
}

func (h *Handler) listMovements(c *gin.Context) {
	warehouseID, id, ok := scope(c)
	if !ok {
		return
	}
	movements, err := h.stock.ListMovements(c.Request.Context(), warehouseID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements})
}

func (h *Handler) createAccount(c *gin.Context) {
	warehouseID, _, ok := scope(c)
	if !ok {
		return
	}
	var req service.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	req.WarehouseID = warehouseID

	res, err := h.balance.CreateAccount(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) getAccount(c *gin.Context) {
	warehouseID, id, ok := scope(c)
	if !ok {
		return
	}
	account, err := h.balance.GetAccount(c.Request.Context(), warehouseID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// posting binds a posting request against the account in the path
func (h *Handler) posting(c *gin.Context) (*service.PostingRequest, bool) {
	warehouseID, id, ok := scope(c)
	if !ok {
		return nil, false
	}
	var req service.PostingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return nil, false
	}
	req.WarehouseID, req.AccountID = warehouseID, id
	return &req, true
}

func (h *Handler) credit(c *gin.Context) {
	req, ok := h.posting(c)
	if !ok {
		return
	}
	res, err := h.balance.Credit(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) withdraw(c *gin.Context) {
	req, ok := h.posting(c)
	if !ok {
		return
	}
	res, err := h.balance.Withdraw(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) debitAllocate(c *gin.Context) {
	req, ok := h.posting(c)
	if !ok {
		return
	}
	alloc, err := h.balance.DebitAllocate(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alloc)
}

func (h *Handler) listTransactions(c *gin.Context) {
	warehouseID, id, ok := scope(c)
	if !ok {
		return
	}
	txns, err := h.balance.ListTransactions(c.Request.Context(), warehouseID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}
