package store

import (
	"context"
	"encoding/json"
	"maps"
	"sort"
	"sync"
	"time"

	"warehouse-ledger/internal/models"

	"github.com/shopspring/decimal"
)

type memState struct {
	seq     int64
	syncSeq int64

	warehouses   map[int64]models.Warehouse
	items        map[int64]models.InventoryItem
	movements    map[int64]models.StockMovement
	lastMovement map[int64]int64
	accounts     map[int64]models.Account
	balanceTxns  map[int64]models.BalanceTransaction
	lastPosting  map[int64]int64
	orders       map[int64]models.Order
	orderItems   map[int64]models.OrderItem
	payments     map[int64]models.Payment
}

func newMemState() *memState {
	return &memState{
		warehouses:   map[int64]models.Warehouse{},
		items:        map[int64]models.InventoryItem{},
		movements:    map[int64]models.StockMovement{},
		lastMovement: map[int64]int64{},
		accounts:     map[int64]models.Account{},
		balanceTxns:  map[int64]models.BalanceTransaction{},
		lastPosting:  map[int64]int64{},
		orders:       map[int64]models.Order{},
		orderItems:   map[int64]models.OrderItem{},
		payments:     map[int64]models.Payment{},
	}
}

// clone copies every table. Rows are values, and pointer fields inside them
// are replaced rather than written through, so a shallow copy is enough.
func (st *memState) clone() *memState {
	return &memState{
		seq:          st.seq,
		syncSeq:      st.syncSeq,
		warehouses:   maps.Clone(st.warehouses),
		items:        maps.Clone(st.items),
		movements:    maps.Clone(st.movements),
		lastMovement: maps.Clone(st.lastMovement),
		accounts:     maps.Clone(st.accounts),
		balanceTxns:  maps.Clone(st.balanceTxns),
		lastPosting:  maps.Clone(st.lastPosting),
		orders:       maps.Clone(st.orders),
		orderItems:   maps.Clone(st.orderItems),
		payments:     maps.Clone(st.payments),
	}
}

func (st *memState) nextID() int64 {
	st.seq++
	return st.seq
}

// nextSyncVersion mirrors the sync_version_seq sequence of the Postgres schema
func (st *memState) nextSyncVersion() int64 {
	st.syncSeq++
	return st.syncSeq
}

// MemStore is an in-process Store. A unit of work runs against a private copy
// of the state under the write lock and replaces the state only on success,
// so failed units leave nothing behind and units never interleave.
type MemStore struct {
	mu    sync.RWMutex
	state *memState
	clock func() time.Time
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{state: newMemState(), clock: time.Now}
}

// SetClock replaces the time source used for row timestamps
func (s *MemStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Close is a no-op
func (s *MemStore) Close() error {
	return nil
}

// RunInTx runs fn against a copy of the state and publishes the copy if fn succeeds
func (s *MemStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work, now: s.clock().UTC()}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// CreateWarehouse creates a new warehouse
func (s *MemStore) CreateWarehouse(ctx context.Context, w *models.Warehouse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.ID = s.state.nextID()
	w.CreatedAt = s.clock().UTC()
	s.state.warehouses[w.ID] = *w
	return nil
}

// GetWarehouse retrieves a warehouse by ID
func (s *MemStore) GetWarehouse(ctx context.Context, id int64) (*models.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.state.warehouses[id]
	if !ok {
		return nil, models.NewNotFoundError("warehouse", id)
	}
	return &w, nil
}

// GetItem retrieves an inventory item
func (s *MemStore) GetItem(ctx context.Context, warehouseID, id int64) (*models.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.item(warehouseID, id)
}

// ListItems lists inventory items of a warehouse, or of every warehouse when warehouseID is 0
func (s *MemStore) ListItems(ctx context.Context, warehouseID int64) ([]models.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.InventoryItem
	for _, item := range s.state.items {
		if warehouseID == 0 || item.WarehouseID == warehouseID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListMovements lists the stock movements of an item, oldest first
func (s *MemStore) ListMovements(ctx context.Context, warehouseID, itemID int64) ([]models.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.StockMovement
	for _, m := range s.state.movements {
		if m.WarehouseID == warehouseID && m.ItemID == itemID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAccount retrieves an account
func (s *MemStore) GetAccount(ctx context.Context, warehouseID, id int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.account(warehouseID, id)
}

// ListBalanceTransactions lists the postings of an account, oldest first
func (s *MemStore) ListBalanceTransactions(ctx context.Context, warehouseID, accountID int64) ([]models.BalanceTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.BalanceTransaction
	for _, bt := range s.state.balanceTxns {
		if bt.WarehouseID == warehouseID && bt.AccountID == accountID {
			out = append(out, bt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetOrder retrieves a live order of any kind
func (s *MemStore) GetOrder(ctx context.Context, warehouseID, id int64) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.state.orders[id]
	if !ok || order.WarehouseID != warehouseID || order.DeletedAt != nil {
		return nil, models.NewNotFoundError("order", id)
	}
	return &order, nil
}

// GetOrderItems retrieves the live lines of an order
func (s *MemStore) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.liveOrderItems(orderID), nil
}

// GetPayments retrieves the live payments of an order
func (s *MemStore) GetPayments(ctx context.Context, orderID int64) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.livePayments(orderID), nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, including a deleted one
func (s *MemStore) GetOrderByIdempotencyKey(ctx context.Context, warehouseID int64, key string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, order := range s.state.orders {
		if order.WarehouseID == warehouseID && order.IdempotencyKey != nil && *order.IdempotencyKey == key {
			return &order, nil
		}
	}
	return nil, nil
}

// StockLedgerSummaries folds every item's movement log
func (s *MemStore) StockLedgerSummaries(ctx context.Context) ([]StockLedgerSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byItem := make(map[int64]*StockLedgerSummary, len(s.state.items))
	out := make([]StockLedgerSummary, 0, len(s.state.items))
	for _, item := range s.state.items {
		out = append(out, StockLedgerSummary{ItemID: item.ID, WarehouseID: item.WarehouseID, Quantity: item.Quantity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	for i := range out {
		byItem[out[i].ItemID] = &out[i]
	}

	for _, m := range s.state.movements {
		if sum, ok := byItem[m.ItemID]; ok {
			sum.NetDelta += m.Delta
		}
	}
	for itemID, movementID := range s.state.lastMovement {
		if sum, ok := byItem[itemID]; ok {
			after := s.state.movements[movementID].QuantityAfter
			sum.LastQuantityAfter = &after
		}
	}
	return out, nil
}

// AccountLedgerSummaries folds every account's balance ledger and live sale balances
func (s *MemStore) AccountLedgerSummaries(ctx context.Context) ([]AccountLedgerSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byAccount := make(map[int64]*AccountLedgerSummary, len(s.state.accounts))
	out := make([]AccountLedgerSummary, 0, len(s.state.accounts))
	for _, a := range s.state.accounts {
		out = append(out, AccountLedgerSummary{
			AccountID:     a.ID,
			WarehouseID:   a.WarehouseID,
			Balance:       a.Balance,
			Debt:          a.Debt,
			LedgerBalance: decimal.Zero,
			Outstanding:   decimal.Zero,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	for i := range out {
		byAccount[out[i].AccountID] = &out[i]
	}

	for _, bt := range s.state.balanceTxns {
		sum, ok := byAccount[bt.AccountID]
		if !ok {
			continue
		}
		if bt.Kind == models.PostingCredit {
			sum.LedgerBalance = sum.LedgerBalance.Add(bt.Amount)
		} else {
			sum.LedgerBalance = sum.LedgerBalance.Sub(bt.Amount)
		}
	}
	for accountID, txnID := range s.state.lastPosting {
		if sum, ok := byAccount[accountID]; ok {
			sum.LastBalanceAfter = decimal.NewNullDecimal(s.state.balanceTxns[txnID].BalanceAfter)
		}
	}
	for _, o := range s.state.orders {
		if o.Kind != models.OrderKindSale || o.DeletedAt != nil || o.AccountID == nil {
			continue
		}
		if sum, ok := byAccount[*o.AccountID]; ok {
			sum.Outstanding = sum.Outstanding.Add(o.Balance)
		}
	}
	return out, nil
}

// ListDiverged lists rows of one entity type whose sync flag is cleared
func (s *MemStore) ListDiverged(ctx context.Context, entityType models.EntityType, limit int) ([]models.SyncRecord, error) {
	if _, err := tableFor(entityType); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		out []models.SyncRecord
		err error
	)
	switch entityType {
	case models.EntityInventoryItem:
		out, err = diverged(s.state.items, entityType, func(v models.InventoryItem) (int64, bool, int64, time.Time) {
			return v.WarehouseID, v.SyncFlag, v.SyncVersion, v.UpdatedAt
		})
	case models.EntityStockMovement:
		out, err = diverged(s.state.movements, entityType, func(v models.StockMovement) (int64, bool, int64, time.Time) {
			return v.WarehouseID, v.SyncFlag, v.SyncVersion, v.CreatedAt
		})
	case models.EntityAccount:
		out, err = diverged(s.state.accounts, entityType, func(v models.Account) (int64, bool, int64, time.Time) {
			return v.WarehouseID, v.SyncFlag, v.SyncVersion, v.UpdatedAt
		})
	case models.EntityBalanceTransaction:
		out, err = diverged(s.state.balanceTxns, entityType, func(v models.BalanceTransaction) (int64, bool, int64, time.Time) {
			return v.WarehouseID, v.SyncFlag, v.SyncVersion, v.CreatedAt
		})
	case models.EntityOrder:
		out, err = diverged(s.state.orders, entityType, func(v models.Order) (int64, bool, int64, time.Time) {
			return v.WarehouseID, v.SyncFlag, v.SyncVersion, v.UpdatedAt
		})
	case models.EntityOrderItem:
		out, err = diverged(s.state.orderItems, entityType, func(v models.OrderItem) (int64, bool, int64, time.Time) {
			return v.WarehouseID, v.SyncFlag, v.SyncVersion, v.UpdatedAt
		})
	case models.EntityPayment:
		out, err = diverged(s.state.payments, entityType, func(v models.Payment) (int64, bool, int64, time.Time) {
			return v.WarehouseID, v.SyncFlag, v.SyncVersion, v.UpdatedAt
		})
	}
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func diverged[T any](rows map[int64]T, entityType models.EntityType, meta func(T) (int64, bool, int64, time.Time)) ([]models.SyncRecord, error) {
	var out []models.SyncRecord
	for id, row := range rows {
		warehouseID, synced, version, changedAt := meta(row)
		if synced {
			continue
		}
		payload, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		out = append(out, models.SyncRecord{
			EntityType:  entityType,
			ID:          id,
			WarehouseID: warehouseID,
			Version:     version,
			ChangedAt:   changedAt,
			Payload:     payload,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkSynced sets the sync flag of a row if it is still at version
func (s *MemStore) MarkSynced(ctx context.Context, entityType models.EntityType, id, version int64, syncedAt time.Time) (bool, error) {
	if _, err := tableFor(entityType); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	applied := false
	found := s.state.updateSync(models.EntityRef{Type: entityType, ID: id}, func(flag *bool, at **time.Time, current *int64, changedAt *time.Time) {
		if *current != version {
			return
		}
		ts := syncedAt
		*flag, *at = true, &ts
		applied = true
	})
	if !found {
		return false, models.NewNotFoundError(string(entityType), id)
	}
	return applied, nil
}

// updateSync hands the sync columns and change timestamp of one row to fn and
// writes the row back. It reports whether the row exists.
func (st *memState) updateSync(ref models.EntityRef, fn func(flag *bool, syncedAt **time.Time, version *int64, changedAt *time.Time)) bool {
	switch ref.Type {
	case models.EntityInventoryItem:
		v, ok := st.items[ref.ID]
		if ok {
			fn(&v.SyncFlag, &v.SyncedAt, &v.SyncVersion, &v.UpdatedAt)
			st.items[ref.ID] = v
		}
		return ok
	case models.EntityStockMovement:
		v, ok := st.movements[ref.ID]
		if ok {
			fn(&v.SyncFlag, &v.SyncedAt, &v.SyncVersion, &v.CreatedAt)
			st.movements[ref.ID] = v
		}
		return ok
	case models.EntityAccount:
		v, ok := st.accounts[ref.ID]
		if ok {
			fn(&v.SyncFlag, &v.SyncedAt, &v.SyncVersion, &v.UpdatedAt)
			st.accounts[ref.ID] = v
		}
		return ok
	case models.EntityBalanceTransaction:
		v, ok := st.balanceTxns[ref.ID]
		if ok {
			fn(&v.SyncFlag, &v.SyncedAt, &v.SyncVersion, &v.CreatedAt)
			st.balanceTxns[ref.ID] = v
		}
		return ok
	case models.EntityOrder:
		v, ok := st.orders[ref.ID]
		if ok {
			fn(&v.SyncFlag, &v.SyncedAt, &v.SyncVersion, &v.UpdatedAt)
			st.orders[ref.ID] = v
		}
		return ok
	case models.EntityOrderItem:
		v, ok := st.orderItems[ref.ID]
		if ok {
			fn(&v.SyncFlag, &v.SyncedAt, &v.SyncVersion, &v.UpdatedAt)
			st.orderItems[ref.ID] = v
		}
		return ok
	case models.EntityPayment:
		v, ok := st.payments[ref.ID]
		if ok {
			fn(&v.SyncFlag, &v.SyncedAt, &v.SyncVersion, &v.UpdatedAt)
			st.payments[ref.ID] = v
		}
		return ok
	}
	return false
}

func (st *memState) item(warehouseID, id int64) (*models.InventoryItem, error) {
	item, ok := st.items[id]
	if !ok || item.WarehouseID != warehouseID {
		return nil, models.NewNotFoundError("inventory item", id)
	}
	return &item, nil
}

func (st *memState) account(warehouseID, id int64) (*models.Account, error) {
	account, ok := st.accounts[id]
	if !ok || account.WarehouseID != warehouseID {
		return nil, models.NewNotFoundError("account", id)
	}
	return &account, nil
}

func (st *memState) liveOrderItems(orderID int64) []models.OrderItem {
	var out []models.OrderItem
	for _, item := range st.orderItems {
		if item.OrderID == orderID && item.DeletedAt == nil {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *memState) livePayments(orderID int64) []models.Payment {
	var out []models.Payment
	for _, p := range st.payments {
		if p.OrderID == orderID && p.DeletedAt == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
