package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"warehouse-ledger/internal/ledger"
	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu       sync.Mutex
	diverged []*models.RecordsDivergedEvent
	lowStock []*models.LowStockEvent
	err      error
}

func (p *fakePublisher) PublishRecordsDiverged(ctx context.Context, event *models.RecordsDivergedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.diverged = append(p.diverged, event)
	return nil
}

func (p *fakePublisher) PublishLowStock(ctx context.Context, event *models.LowStockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.lowStock = append(p.lowStock, event)
	return nil
}

func (p *fakePublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.diverged), len(p.lowStock)
}

type cacheEntry struct {
	quantity   int
	movementID int64
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]cacheEntry)}
}

func cacheKey(warehouseID, itemID int64) string {
	return fmt.Sprintf("%d:%d", warehouseID, itemID)
}

func (c *fakeCache) SetStock(ctx context.Context, warehouseID, itemID int64, quantity int, movementID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(warehouseID, itemID)
	current, ok := c.entries[key]
	if ok && movementID <= current.movementID {
		return nil
	}
	c.entries[key] = cacheEntry{quantity: quantity, movementID: movementID}
	return nil
}

func (c *fakeCache) GetStock(ctx context.Context, warehouseID, itemID int64) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(warehouseID, itemID)]
	return e.quantity, ok, nil
}

type testEnv struct {
	store       *store.MemStore
	warehouseID int64
	publisher   *fakePublisher
	cache       *fakeCache
	stock       *StockService
	balance     *BalanceService
	orders      *Orchestrator
}

func newTestEnv(t *testing.T, policy ledger.Policy) *testEnv {
	t.Helper()
	s := store.NewMemStore()
	w := &models.Warehouse{Name: "main"}
	require.NoError(t, s.CreateWarehouse(context.Background(), w))

	pub := &fakePublisher{}
	cache := newFakeCache()
	core := NewCore(s, pub, cache)
	return &testEnv{
		store:       s,
		warehouseID: w.ID,
		publisher:   pub,
		cache:       cache,
		stock:       NewStockService(core),
		balance:     NewBalanceService(core),
		orders:      NewOrchestrator(core, policy),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func (e *testEnv) item(t *testing.T, code string, quantity, reorderLevel int, price string) int64 {
	t.Helper()
	res, err := e.stock.CreateItem(context.Background(), &CreateItemRequest{
		WarehouseID:    e.warehouseID,
		Code:           code,
		Name:           code,
		Quantity:       quantity,
		ReorderLevel:   reorderLevel,
		Cost:           dec(price).Div(decimal.NewFromInt(2)),
		RetailPrice:    dec(price),
		WholesalePrice: dec(price).Sub(decimal.NewFromInt(1)),
	})
	require.NoError(t, err)
	return res.Item.ID
}

func (e *testEnv) account(t *testing.T, code, opening string) int64 {
	t.Helper()
	res, err := e.balance.CreateAccount(context.Background(), &CreateAccountRequest{
		WarehouseID:    e.warehouseID,
		Code:           code,
		Name:           code,
		OpeningBalance: dec(opening),
	})
	require.NoError(t, err)
	return res.Account.ID
}

func (e *testEnv) quantity(t *testing.T, itemID int64) int {
	t.Helper()
	item, err := e.store.GetItem(context.Background(), e.warehouseID, itemID)
	require.NoError(t, err)
	return item.Quantity
}

func (e *testEnv) getAccount(t *testing.T, id int64) *models.Account {
	t.Helper()
	account, err := e.store.GetAccount(context.Background(), e.warehouseID, id)
	require.NoError(t, err)
	return account
}

// assertLedgersConsistent checks every cached quantity, balance and debt
// against the rows it is derived from
func (e *testEnv) assertLedgersConsistent(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	stock, err := e.store.StockLedgerSummaries(ctx)
	require.NoError(t, err)
	for _, s := range stock {
		assert.Equal(t, s.Quantity, s.NetDelta, "item %d net delta", s.ItemID)
		if s.LastQuantityAfter != nil {
			assert.Equal(t, s.Quantity, *s.LastQuantityAfter, "item %d last movement", s.ItemID)
		}
	}

	accounts, err := e.store.AccountLedgerSummaries(ctx)
	require.NoError(t, err)
	for _, a := range accounts {
		assert.True(t, a.Balance.Equal(a.LedgerBalance), "account %d balance %s ledger %s", a.AccountID, a.Balance, a.LedgerBalance)
		assert.True(t, a.Debt.Equal(a.Outstanding), "account %d debt %s outstanding %s", a.AccountID, a.Debt, a.Outstanding)
	}
}

// syncAll acknowledges every diverged row at its listed version
func (e *testEnv) syncAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, entityType := range models.EntityTypes {
		records, err := e.store.ListDiverged(ctx, entityType, 0)
		require.NoError(t, err)
		for _, r := range records {
			applied, err := e.store.MarkSynced(ctx, entityType, r.ID, r.Version, time.Now())
			require.NoError(t, err)
			require.True(t, applied)
		}
	}
}

// divergedDeletedAt looks ref up among the diverged rows and returns the
// deleted_at of its payload
func (e *testEnv) divergedDeletedAt(t *testing.T, ref models.EntityRef) (*time.Time, bool) {
	t.Helper()
	records, err := e.store.ListDiverged(context.Background(), ref.Type, 0)
	require.NoError(t, err)
	for _, r := range records {
		if r.ID != ref.ID {
			continue
		}
		var row struct {
			DeletedAt *time.Time `json:"deleted_at"`
		}
		require.NoError(t, json.Unmarshal(r.Payload, &row))
		return row.DeletedAt, true
	}
	return nil, false
}

func TestUnknownWarehouse(t *testing.T) {
	e := newTestEnv(t, ledger.PolicyReject)

	_, err := e.stock.CreateItem(context.Background(), &CreateItemRequest{WarehouseID: 999, Code: "X", Name: "X"})
	assert.True(t, models.IsNotFound(err))
}

func TestValidationRunsBeforeAnyWrite(t *testing.T) {
	e := newTestEnv(t, ledger.PolicyReject)
	ctx := context.Background()

	_, err := e.stock.CreateItem(ctx, &CreateItemRequest{WarehouseID: e.warehouseID, Name: "no code"})
	require.True(t, models.IsValidation(err))
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "code", verr.Field)

	_, err = e.balance.Credit(ctx, &PostingRequest{WarehouseID: e.warehouseID, AccountID: 1, Amount: dec("1.00001"), Description: "x"})
	assert.True(t, models.IsValidation(err))

	items, err := e.store.ListItems(ctx, e.warehouseID)
	require.NoError(t, err)
	assert.Empty(t, items)
}
