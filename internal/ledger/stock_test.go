package ledger

import (
	"context"
	"sync"
	"testing"

	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWarehouse(t *testing.T) (*store.MemStore, int64) {
	t.Helper()
	s := store.NewMemStore()
	w := &models.Warehouse{Name: "test"}
	require.NoError(t, s.CreateWarehouse(context.Background(), w))
	return s, w.ID
}

// seedItem creates an item and sets its opening quantity through the ledger
func seedItem(t *testing.T, s *store.MemStore, warehouseID int64, code string, quantity, reorderLevel int) int64 {
	t.Helper()
	ctx := context.Background()
	l := NewStockLedger()

	var id int64
	err := s.RunInTx(ctx, func(tx store.Tx) error {
		item := &models.InventoryItem{WarehouseID: warehouseID, Code: code, Name: code, ReorderLevel: reorderLevel}
		if err := tx.CreateItem(ctx, item); err != nil {
			return err
		}
		id = item.ID
		_, _, err := l.Adjust(ctx, tx, Adjustment{
			WarehouseID: warehouseID, ItemID: item.ID, Type: models.MovementSet,
			Magnitude: quantity, Reason: "opening",
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func adjust(s *store.MemStore, adj Adjustment) (*models.StockMovement, *models.InventoryItem, error) {
	ctx := context.Background()
	l := NewStockLedger()

	var (
		movement *models.StockMovement
		item     *models.InventoryItem
	)
	err := s.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		movement, item, err = l.Adjust(ctx, tx, adj)
		return err
	})
	return movement, item, err
}

func TestAdjustDecreaseRejectsShortfall(t *testing.T) {
	s, wid := setupWarehouse(t)
	itemID := seedItem(t, s, wid, "PCM-500", 20, 5)

	_, _, err := adjust(s, Adjustment{
		WarehouseID: wid, ItemID: itemID, Type: models.MovementDecrease,
		Magnitude: 25, Reason: "sale", Policy: PolicyReject,
	})
	require.Error(t, err)

	var insufficient *models.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 20, insufficient.Available)
	assert.Equal(t, 25, insufficient.Requested)

	item, err := s.GetItem(context.Background(), wid, itemID)
	require.NoError(t, err)
	assert.Equal(t, 20, item.Quantity)

	movements, err := s.ListMovements(context.Background(), wid, itemID)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestAdjustDecrease(t *testing.T) {
	s, wid := setupWarehouse(t)
	itemID := seedItem(t, s, wid, "PCM-500", 20, 5)

	movement, item, err := adjust(s, Adjustment{
		WarehouseID: wid, ItemID: itemID, Type: models.MovementDecrease,
		Magnitude: 15, Reason: "sale", Reference: "sale:1", Policy: PolicyReject,
	})
	require.NoError(t, err)

	assert.Equal(t, models.MovementDecrease, movement.Type)
	assert.Equal(t, -15, movement.Delta)
	assert.Equal(t, 20, movement.QuantityBefore)
	assert.Equal(t, 5, movement.QuantityAfter)
	require.NotNil(t, movement.Reference)
	assert.Equal(t, "sale:1", *movement.Reference)
	assert.Equal(t, 5, item.Quantity)
	assert.True(t, item.BelowReorderLevel())
}

func TestAdjustDecreaseClamps(t *testing.T) {
	s, wid := setupWarehouse(t)
	itemID := seedItem(t, s, wid, "IBU-200", 3, 0)

	movement, item, err := adjust(s, Adjustment{
		WarehouseID: wid, ItemID: itemID, Type: models.MovementDecrease,
		Magnitude: 10, Reason: "sale", Policy: PolicyClamp,
	})
	require.NoError(t, err)
	assert.Equal(t, -3, movement.Delta)
	assert.Equal(t, 0, movement.QuantityAfter)
	assert.Equal(t, 0, item.Quantity)
}

func TestAdjustIncreaseAndSet(t *testing.T) {
	s, wid := setupWarehouse(t)
	itemID := seedItem(t, s, wid, "ORS-01", 7, 0)

	movement, _, err := adjust(s, Adjustment{
		WarehouseID: wid, ItemID: itemID, Type: models.MovementIncrease, Magnitude: 5, Reason: "purchase",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, movement.Delta)
	assert.Equal(t, 12, movement.QuantityAfter)

	movement, item, err := adjust(s, Adjustment{
		WarehouseID: wid, ItemID: itemID, Type: models.MovementSet, Magnitude: 4, Reason: "stock take",
	})
	require.NoError(t, err)
	assert.Equal(t, -8, movement.Delta)
	assert.Equal(t, 4, movement.QuantityAfter)
	assert.Equal(t, 4, item.Quantity)

	movements, err := s.ListMovements(context.Background(), wid, itemID)
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, item.Quantity, movements[len(movements)-1].QuantityAfter)
}

func TestAdjustValidation(t *testing.T) {
	s, wid := setupWarehouse(t)
	itemID := seedItem(t, s, wid, "ORS-02", 1, 0)

	cases := []Adjustment{
		{WarehouseID: wid, ItemID: itemID, Type: "remove", Magnitude: 1, Reason: "x"},
		{WarehouseID: wid, ItemID: itemID, Type: models.MovementIncrease, Magnitude: 0, Reason: "x"},
		{WarehouseID: wid, ItemID: itemID, Type: models.MovementDecrease, Magnitude: -1, Reason: "x"},
		{WarehouseID: wid, ItemID: itemID, Type: models.MovementSet, Magnitude: -1, Reason: "x"},
		{WarehouseID: wid, ItemID: itemID, Type: models.MovementIncrease, Magnitude: 1},
	}
	for _, adj := range cases {
		_, _, err := adjust(s, adj)
		assert.True(t, models.IsValidation(err), "adjustment %+v", adj)
	}
}

func TestAdjustUnknownItem(t *testing.T) {
	s, wid := setupWarehouse(t)

	_, _, err := adjust(s, Adjustment{
		WarehouseID: wid, ItemID: 777, Type: models.MovementIncrease, Magnitude: 1, Reason: "x",
	})
	assert.True(t, models.IsNotFound(err))
}

func TestAdjustDetectsDrift(t *testing.T) {
	s, wid := setupWarehouse(t)
	itemID := seedItem(t, s, wid, "DRIFT", 10, 0)
	ctx := context.Background()

	// write the cached quantity without a movement
	require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		item, err := tx.GetItemForUpdate(ctx, wid, itemID)
		if err != nil {
			return err
		}
		item.Quantity = 11
		return tx.UpdateItem(ctx, item)
	}))

	_, _, err := adjust(s, Adjustment{
		WarehouseID: wid, ItemID: itemID, Type: models.MovementIncrease, Magnitude: 1, Reason: "x",
	})
	assert.True(t, models.IsConsistency(err))

	movements, err := s.ListMovements(ctx, wid, itemID)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestConcurrentDecreasesNeverOversell(t *testing.T) {
	s, wid := setupWarehouse(t)
	const (
		quantity  = 10
		magnitude = 3
		workers   = 8
	)
	itemID := seedItem(t, s, wid, "HOT", quantity, 0)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := adjust(s, Adjustment{
				WarehouseID: wid, ItemID: itemID, Type: models.MovementDecrease,
				Magnitude: magnitude, Reason: "sale", Policy: PolicyReject,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if models.IsInsufficientStock(err) {
				insufficient++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, quantity/magnitude, successes)
	assert.Equal(t, workers-quantity/magnitude, insufficient)

	item, err := s.GetItem(context.Background(), wid, itemID)
	require.NoError(t, err)
	assert.Equal(t, quantity-successes*magnitude, item.Quantity)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("clamp")
	require.NoError(t, err)
	assert.Equal(t, PolicyClamp, p)

	_, err = ParsePolicy("maybe")
	assert.Error(t, err)
}
