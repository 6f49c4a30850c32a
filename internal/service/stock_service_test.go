package service

import (
	"context"
	"testing"

	"warehouse-ledger/internal/ledger"
	"warehouse-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateItemRecordsOpeningStock(t *testing.T) {
	e := newTestEnv(t, ledger.PolicyReject)
	ctx := context.Background()

	id := e.item(t, "BOLT", 12, 0, "2.50")

	movements, err := e.stock.ListMovements(ctx, e.warehouseID, id)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, models.MovementSet, movements[0].Type)
	assert.Equal(t, 12, movements[0].QuantityAfter)
	assert.Equal(t, "opening stock", movements[0].Reason)

	records, err := e.store.ListDiverged(ctx, models.EntityInventoryItem, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	e.assertLedgersConsistent(t)
}

func TestAdjustRejectsShortfall(t *testing.T) {
	e := newTestEnv(t, ledger.PolicyClamp)
	ctx := context.Background()
	id := e.item(t, "NUT", 3, 0, "1")

	_, err := e.stock.Adjust(ctx, &AdjustStockRequest{
		WarehouseID: e.warehouseID, ItemID: id, Type: models.MovementDecrease, Magnitude: 5, Reason: "damaged",
	})
	var insufficient *models.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Available)
	assert.Equal(t, 5, insufficient.Requested)
	assert.Equal(t, 3, e.quantity(t, id))
}

func TestAdjustUpdatesCacheAndPublishesLowStock(t *testing.T) {
	e := newTestEnv(t, ledger.PolicyReject)
	ctx := context.Background()
	id := e.item(t, "WASHER", 10, 4, "1")

	res, err := e.stock.Adjust(ctx, &AdjustStockRequest{
		WarehouseID: e.warehouseID, ItemID: id, Type: models.MovementDecrease, Magnitude: 6, Reason: "count",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Item.Quantity)
	assert.Equal(t, -6, res.Movement.Delta)

	level, err := e.stock.GetStockLevel(ctx, e.warehouseID, id)
	require.NoError(t, err)
	assert.Equal(t, "cache", level.Source)
	assert.Equal(t, 4, level.Quantity)

	_, lowStock := e.publisher.counts()
	require.Equal(t, 1, lowStock)
	assert.Equal(t, id, e.publisher.lowStock[0].ItemID)
	assert.Equal(t, 4, e.publisher.lowStock[0].Quantity)

	// increases never report low stock
	_, err = e.stock.Adjust(ctx, &AdjustStockRequest{
		WarehouseID: e.warehouseID, ItemID: id, Type: models.MovementIncrease, Magnitude: 1, Reason: "found",
	})
	require.NoError(t, err)
	_, lowStock = e.publisher.counts()
	assert.Equal(t, 1, lowStock)
}

func TestGetStockLevelFallsBackToStore(t *testing.T) {
	e := newTestEnv(t, ledger.PolicyReject)
	ctx := context.Background()
	id := e.item(t, "PIN", 7, 0, "1")
	e.cache.entries = map[string]cacheEntry{}

	level, err := e.stock.GetStockLevel(ctx, e.warehouseID, id)
	require.NoError(t, err)
	assert.Equal(t, "store", level.Source)
	assert.Equal(t, 7, level.Quantity)

	level, err = e.stock.GetStockLevel(ctx, e.warehouseID, id)
	require.NoError(t, err)
	assert.Equal(t, "cache", level.Source)

	// a committed movement overrides the seed
	_, err = e.stock.Adjust(ctx, &AdjustStockRequest{
		WarehouseID: e.warehouseID, ItemID: id, Type: models.MovementSet, Magnitude: 2, Reason: "recount",
	})
	require.NoError(t, err)
	level, err = e.stock.GetStockLevel(ctx, e.warehouseID, id)
	require.NoError(t, err)
	assert.Equal(t, 2, level.Quantity)
}

func TestWarmStockCache(t *testing.T) {
	e := newTestEnv(t, ledger.PolicyReject)
	a := e.item(t, "A", 1, 0, "1")
	b := e.item(t, "B", 0, 0, "1")
	e.cache.entries = map[string]cacheEntry{}

	require.NoError(t, e.stock.WarmStockCache(context.Background()))

	q, ok, _ := e.cache.GetStock(context.Background(), e.warehouseID, a)
	assert.True(t, ok)
	assert.Equal(t, 1, q)
	_, ok, _ = e.cache.GetStock(context.Background(), e.warehouseID, b)
	assert.True(t, ok)
}
