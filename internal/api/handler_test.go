package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"warehouse-ledger/internal/ledger"
	"warehouse-ledger/internal/service"
	"warehouse-ledger/internal/store"
	"warehouse-ledger/internal/syncstate"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemStore()
	core := service.NewCore(s, nil, nil)
	h := NewHandler(
		core,
		service.NewStockService(core),
		service.NewBalanceService(core),
		service.NewOrchestrator(core, ledger.PolicyReject),
		syncstate.NewReader(s, 50),
		nil,
	)
	router := gin.New()
	h.SetupRoutes(router)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// idOf reads a numeric id from a nested JSON object
func idOf(t *testing.T, obj map[string]interface{}, path ...string) int64 {
	t.Helper()
	cur := obj
	for _, p := range path {
		next, ok := cur[p].(map[string]interface{})
		require.True(t, ok, "missing %s", p)
		cur = next
	}
	id, ok := cur["id"].(float64)
	require.True(t, ok)
	return int64(id)
}

func TestHealthCheck(t *testing.T) {
	router := setupRouter(t)

	w := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = do(t, router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSaleFlowOverHTTP(t *testing.T) {
	router := setupRouter(t)

	w := do(t, router, http.MethodPost, "/api/v1/warehouses", gin.H{"name": "north"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	wid := idOf(t, decode(t, w))
	base := fmt.Sprintf("/api/v1/warehouses/%d", wid)

	w = do(t, router, http.MethodPost, base+"/items", gin.H{
		"code": "PAINT", "name": "Paint", "quantity": 4, "retail_price": "12.50",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	itemID := idOf(t, decode(t, w), "item")

	w = do(t, router, http.MethodPost, base+"/accounts", gin.H{"code": "C1", "name": "Ana", "opening_balance": "5"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	accountID := idOf(t, decode(t, w), "account")

	w = do(t, router, http.MethodPost, base+"/sales", gin.H{
		"account_id":  accountID,
		"items":       []gin.H{{"item_id": itemID, "quantity": 2}},
		"use_balance": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sale := decode(t, w)
	saleID := idOf(t, sale, "order")
	assert.Equal(t, "20", sale["order"].(map[string]interface{})["balance"])

	w = do(t, router, http.MethodGet, fmt.Sprintf("%s/items/%d/stock", base, itemID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["quantity"])

	w = do(t, router, http.MethodGet, fmt.Sprintf("%s/purchases/%d", base, saleID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPost, base+"/sales", gin.H{
		"items": []gin.H{{"item_id": itemID, "quantity": 3}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["available"])

	w = do(t, router, http.MethodDelete, fmt.Sprintf("%s/sales/%d", base, saleID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodGet, fmt.Sprintf("%s/accounts/%d", base, accountID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", decode(t, w)["debt"])
}

func TestQuotationConvertOverHTTP(t *testing.T) {
	router := setupRouter(t)

	w := do(t, router, http.MethodPost, "/api/v1/warehouses", gin.H{"name": "south"})
	base := fmt.Sprintf("/api/v1/warehouses/%d", idOf(t, decode(t, w)))
	w = do(t, router, http.MethodPost, base+"/items", gin.H{"code": "A", "name": "A", "quantity": 5, "retail_price": "1"})
	itemID := idOf(t, decode(t, w), "item")

	w = do(t, router, http.MethodPost, base+"/quotations", gin.H{"items": []gin.H{{"item_id": itemID, "quantity": 2}}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	quoteID := idOf(t, decode(t, w), "order")

	path := fmt.Sprintf("%s/quotations/%d/convert", base, quoteID)
	w = do(t, router, http.MethodPost, path, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestErrorMapping(t *testing.T) {
	router := setupRouter(t)

	w := do(t, router, http.MethodGet, "/api/v1/warehouses/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/warehouses/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/warehouses", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["details"], "name")

	w = do(t, router, http.MethodGet, "/api/v1/sync/widgets", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncEndpoints(t *testing.T) {
	router := setupRouter(t)

	w := do(t, router, http.MethodPost, "/api/v1/warehouses", gin.H{"name": "east"})
	base := fmt.Sprintf("/api/v1/warehouses/%d", idOf(t, decode(t, w)))
	w = do(t, router, http.MethodPost, base+"/accounts", gin.H{"code": "C1", "name": "C1"})
	accountID := idOf(t, decode(t, w), "account")

	w = do(t, router, http.MethodGet, "/api/v1/sync/account?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode(t, w)["records"].([]interface{})
	require.Len(t, records, 1)
	version := records[0].(map[string]interface{})["sync_version"]
	path := fmt.Sprintf("/api/v1/sync/account/%d/synced", accountID)

	w = do(t, router, http.MethodPost, path, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, path, gin.H{"sync_version": version})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["applied"])

	w = do(t, router, http.MethodGet, "/api/v1/sync/account", nil)
	assert.Empty(t, decode(t, w)["records"])
}
