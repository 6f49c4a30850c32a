package store

import (
	"context"
	"os"
	"testing"
	"time"

	"warehouse-ledger/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPGStore connects to TEST_DATABASE_URL and applies the migrations
func newTestPGStore(t *testing.T) *PGStore {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database")
	}

	s, err := NewStore(url)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(true))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPGCreateOrder(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()

	w := &models.Warehouse{Name: "integration"}
	require.NoError(t, s.CreateWarehouse(ctx, w))

	order := &models.Order{
		WarehouseID: w.ID,
		Kind:        models.OrderKindQuotation,
		Number:      uuid.NewString(),
		Status:      models.OrderStatusPending,
	}
	err := s.RunInTx(ctx, func(tx Tx) error {
		return tx.CreateOrder(ctx, order)
	})
	require.NoError(t, err)
	assert.NotZero(t, order.ID)

	retrieved, err := s.GetOrder(ctx, w.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Number, retrieved.Number)
	assert.False(t, retrieved.SyncFlag)
}

func TestPGIdempotencyKeyConflict(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()

	w := &models.Warehouse{Name: "integration"}
	require.NoError(t, s.CreateWarehouse(ctx, w))

	key := models.StringRef(uuid.NewString())
	create := func() error {
		return s.RunInTx(ctx, func(tx Tx) error {
			return tx.CreateOrder(ctx, &models.Order{
				WarehouseID:    w.ID,
				Kind:           models.OrderKindSale,
				Number:         uuid.NewString(),
				Status:         models.OrderStatusCompleted,
				IdempotencyKey: key,
			})
		})
	}

	require.NoError(t, create())
	assert.True(t, models.IsConflict(create()))

	existing, err := s.GetOrderByIdempotencyKey(ctx, w.ID, *key)
	require.NoError(t, err)
	require.NotNil(t, existing)
}

func TestPGLedgerRowsAreAppendOnly(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()

	w := &models.Warehouse{Name: "integration"}
	require.NoError(t, s.CreateWarehouse(ctx, w))

	var movement models.StockMovement
	require.NoError(t, s.RunInTx(ctx, func(tx Tx) error {
		item := &models.InventoryItem{WarehouseID: w.ID, Code: uuid.NewString(), Name: "Saline"}
		if err := tx.CreateItem(ctx, item); err != nil {
			return err
		}
		movement = models.StockMovement{
			WarehouseID: w.ID, ItemID: item.ID, Type: models.MovementIncrease,
			Delta: 4, QuantityBefore: 0, QuantityAfter: 4, Reason: "purchase",
		}
		return tx.InsertMovement(ctx, &movement)
	}))

	_, err := s.GetDB().ExecContext(ctx, "UPDATE stock_movements SET delta = 5 WHERE id = $1", movement.ID)
	assert.Error(t, err)

	applied, err := s.MarkSynced(ctx, models.EntityStockMovement, movement.ID, movement.SyncVersion, time.Now())
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestPGMarkDivergedAndList(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()

	w := &models.Warehouse{Name: "integration"}
	require.NoError(t, s.CreateWarehouse(ctx, w))

	var account models.Account
	require.NoError(t, s.RunInTx(ctx, func(tx Tx) error {
		account = models.Account{WarehouseID: w.ID, Code: uuid.NewString(), Name: "Ward 3"}
		return tx.CreateAccount(ctx, &account)
	}))

	applied, err := s.MarkSynced(ctx, models.EntityAccount, account.ID, account.SyncVersion, time.Now())
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, s.RunInTx(ctx, func(tx Tx) error {
		return tx.MarkDiverged(ctx, []models.EntityRef{{Type: models.EntityAccount, ID: account.ID}})
	}))

	records, err := s.ListDiverged(ctx, models.EntityAccount, 1000)
	require.NoError(t, err)

	found := false
	for _, r := range records {
		if r.ID == account.ID {
			found = true
			assert.Contains(t, string(r.Payload), account.Code)
		}
	}
	assert.True(t, found)
}

func TestPGAckWaitingOnUncommittedChangeIsIgnored(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()

	w := &models.Warehouse{Name: "integration"}
	require.NoError(t, s.CreateWarehouse(ctx, w))

	var account models.Account
	require.NoError(t, s.RunInTx(ctx, func(tx Tx) error {
		account = models.Account{WarehouseID: w.ID, Code: uuid.NewString(), Name: "Ward 5"}
		return tx.CreateAccount(ctx, &account)
	}))

	// a writer diverges the row and holds its lock while the replicator
	// acknowledges the version it copied before the write
	writer, err := s.GetDB().BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer writer.Rollback()
	wtx := &pgTx{tx: writer, now: time.Now().UTC()}
	require.NoError(t, wtx.MarkDiverged(ctx, []models.EntityRef{{Type: models.EntityAccount, ID: account.ID}}))

	type ack struct {
		applied bool
		err     error
	}
	done := make(chan ack, 1)
	go func() {
		applied, err := s.MarkSynced(ctx, models.EntityAccount, account.ID, account.SyncVersion, time.Now().Add(time.Minute))
		done <- ack{applied, err}
	}()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, writer.Commit())

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.False(t, res.applied)
	case <-time.After(5 * time.Second):
		t.Fatal("acknowledgement never returned")
	}

	got, err := s.GetAccount(ctx, w.ID, account.ID)
	require.NoError(t, err)
	assert.False(t, got.SyncFlag)
	assert.Greater(t, got.SyncVersion, account.SyncVersion)
}
