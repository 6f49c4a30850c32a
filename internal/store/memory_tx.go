package store

import (
	"context"
	"time"

	"warehouse-ledger/internal/models"

	"github.com/shopspring/decimal"
)

// memTx mirrors the constraints of the Postgres schema so both stores reject
// the same writes.
type memTx struct {
	st  *memState
	now time.Time
}

func (t *memTx) Now() time.Time {
	return t.now
}

func (t *memTx) requireWarehouse(id int64) error {
	if _, ok := t.st.warehouses[id]; !ok {
		return models.NewNotFoundError("warehouse", id)
	}
	return nil
}

func (t *memTx) CreateItem(ctx context.Context, item *models.InventoryItem) error {
	if err := t.requireWarehouse(item.WarehouseID); err != nil {
		return err
	}
	for _, existing := range t.st.items {
		if existing.WarehouseID == item.WarehouseID && existing.Code == item.Code {
			return models.NewConflictError("inventory item %s already exists", item.Code)
		}
	}

	item.ID = t.st.nextID()
	item.Quantity = 0
	item.SyncFlag, item.SyncedAt = false, nil
	item.SyncVersion = t.st.nextSyncVersion()
	item.CreatedAt, item.UpdatedAt = t.now, t.now
	t.st.items[item.ID] = *item
	return nil
}

func (t *memTx) GetItemForUpdate(ctx context.Context, warehouseID, id int64) (*models.InventoryItem, error) {
	return t.st.item(warehouseID, id)
}

func (t *memTx) UpdateItem(ctx context.Context, item *models.InventoryItem) error {
	current, ok := t.st.items[item.ID]
	if !ok {
		return models.NewNotFoundError("inventory item", item.ID)
	}
	if item.Quantity < 0 {
		return &models.ConsistencyError{Entity: "inventory item", ID: item.ID, Message: "quantity would be negative"}
	}

	item.UpdatedAt = t.now
	current.Name = item.Name
	current.Quantity = item.Quantity
	current.ReorderLevel = item.ReorderLevel
	current.Cost = item.Cost
	current.RetailPrice = item.RetailPrice
	current.WholesalePrice = item.WholesalePrice
	current.UpdatedAt = t.now
	t.st.items[item.ID] = current
	return nil
}

func (t *memTx) LastMovement(ctx context.Context, itemID int64) (*models.StockMovement, error) {
	id, ok := t.st.lastMovement[itemID]
	if !ok {
		return nil, nil
	}
	m := t.st.movements[id]
	return &m, nil
}

func (t *memTx) InsertMovement(ctx context.Context, m *models.StockMovement) error {
	if _, ok := t.st.items[m.ItemID]; !ok {
		return models.NewNotFoundError("inventory item", m.ItemID)
	}
	if m.QuantityAfter < 0 || m.QuantityAfter != m.QuantityBefore+m.Delta {
		return &models.ConsistencyError{Entity: "stock movement", ID: m.ItemID, Message: "quantity snapshot does not add up"}
	}

	m.ID = t.st.nextID()
	m.SyncFlag, m.SyncedAt = false, nil
	m.SyncVersion = t.st.nextSyncVersion()
	m.CreatedAt = t.now
	t.st.movements[m.ID] = *m
	t.st.lastMovement[m.ItemID] = m.ID
	return nil
}

func (t *memTx) CreateAccount(ctx context.Context, account *models.Account) error {
	if err := t.requireWarehouse(account.WarehouseID); err != nil {
		return err
	}
	for _, existing := range t.st.accounts {
		if existing.WarehouseID == account.WarehouseID && existing.Code == account.Code {
			return models.NewConflictError("account %s already exists", account.Code)
		}
	}

	account.ID = t.st.nextID()
	account.Balance, account.Debt = decimal.Zero, decimal.Zero
	account.SyncFlag, account.SyncedAt = false, nil
	account.SyncVersion = t.st.nextSyncVersion()
	account.CreatedAt, account.UpdatedAt = t.now, t.now
	t.st.accounts[account.ID] = *account
	return nil
}

func (t *memTx) GetAccountForUpdate(ctx context.Context, warehouseID, id int64) (*models.Account, error) {
	return t.st.account(warehouseID, id)
}

func (t *memTx) UpdateAccount(ctx context.Context, account *models.Account) error {
	current, ok := t.st.accounts[account.ID]
	if !ok {
		return models.NewNotFoundError("account", account.ID)
	}
	if account.Balance.IsNegative() || account.Debt.IsNegative() {
		return &models.ConsistencyError{Entity: "account", ID: account.ID, Message: "balance or debt would be negative"}
	}

	account.UpdatedAt = t.now
	current.Name = account.Name
	current.Balance = account.Balance
	current.Debt = account.Debt
	current.UpdatedAt = t.now
	t.st.accounts[account.ID] = current
	return nil
}

func (t *memTx) LastBalanceTransaction(ctx context.Context, accountID int64) (*models.BalanceTransaction, error) {
	id, ok := t.st.lastPosting[accountID]
	if !ok {
		return nil, nil
	}
	bt := t.st.balanceTxns[id]
	return &bt, nil
}

func (t *memTx) InsertBalanceTransaction(ctx context.Context, bt *models.BalanceTransaction) error {
	if _, ok := t.st.accounts[bt.AccountID]; !ok {
		return models.NewNotFoundError("account", bt.AccountID)
	}
	if !bt.Amount.IsPositive() || bt.BalanceAfter.IsNegative() {
		return &models.ConsistencyError{Entity: "balance transaction", ID: bt.AccountID, Message: "amount must be positive and balance non-negative"}
	}

	bt.ID = t.st.nextID()
	bt.SyncFlag, bt.SyncedAt = false, nil
	bt.SyncVersion = t.st.nextSyncVersion()
	bt.CreatedAt = t.now
	t.st.balanceTxns[bt.ID] = *bt
	t.st.lastPosting[bt.AccountID] = bt.ID
	return nil
}

func (t *memTx) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := t.requireWarehouse(order.WarehouseID); err != nil {
		return err
	}
	if order.AccountID != nil {
		if _, err := t.st.account(order.WarehouseID, *order.AccountID); err != nil {
			return err
		}
	}
	for _, existing := range t.st.orders {
		if existing.WarehouseID != order.WarehouseID {
			continue
		}
		if existing.Kind == order.Kind && existing.Number == order.Number {
			return models.NewConflictError("%s %s already exists", order.Kind, order.Number)
		}
		if order.IdempotencyKey != nil && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *order.IdempotencyKey {
			return models.NewConflictError("%s %s already exists", order.Kind, order.Number)
		}
	}

	order.ID = t.st.nextID()
	order.SyncFlag, order.SyncedAt = false, nil
	order.SyncVersion = t.st.nextSyncVersion()
	order.CreatedAt, order.UpdatedAt = t.now, t.now
	t.st.orders[order.ID] = *order
	return nil
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, warehouseID, id int64, kind models.OrderKind) (*models.Order, error) {
	order, ok := t.st.orders[id]
	if !ok || order.WarehouseID != warehouseID || order.Kind != kind || order.DeletedAt != nil {
		return nil, models.NewNotFoundError(string(kind), id)
	}
	return &order, nil
}

func (t *memTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	current, ok := t.st.orders[order.ID]
	if !ok {
		return models.NewNotFoundError(string(order.Kind), order.ID)
	}
	if order.Balance.IsNegative() {
		return &models.ConsistencyError{Entity: string(order.Kind), ID: order.ID, Message: "balance would be negative"}
	}

	order.UpdatedAt = t.now
	current.Status = order.Status
	current.AmountPaid = order.AmountPaid
	current.BalanceApplied = order.BalanceApplied
	current.Balance = order.Balance
	current.ConvertedSaleID = order.ConvertedSaleID
	current.Note = order.Note
	current.DeletedAt = order.DeletedAt
	current.UpdatedAt = t.now
	t.st.orders[order.ID] = current
	return nil
}

func (t *memTx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	if _, ok := t.st.orders[item.OrderID]; !ok {
		return models.NewNotFoundError("order", item.OrderID)
	}
	if _, ok := t.st.items[item.ItemID]; !ok {
		return models.NewNotFoundError("inventory item", item.ItemID)
	}

	item.ID = t.st.nextID()
	item.SyncFlag, item.SyncedAt = false, nil
	item.SyncVersion = t.st.nextSyncVersion()
	item.UpdatedAt = t.now
	t.st.orderItems[item.ID] = *item
	return nil
}

func (t *memTx) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return t.st.liveOrderItems(orderID), nil
}

func (t *memTx) SoftDeleteOrderItems(ctx context.Context, orderID int64) error {
	for _, item := range t.st.liveOrderItems(orderID) {
		ts := t.now
		item.DeletedAt, item.UpdatedAt = &ts, t.now
		t.st.orderItems[item.ID] = item
	}
	return nil
}

func (t *memTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if _, ok := t.st.orders[payment.OrderID]; !ok {
		return models.NewNotFoundError("order", payment.OrderID)
	}

	payment.ID = t.st.nextID()
	payment.SyncFlag, payment.SyncedAt = false, nil
	payment.SyncVersion = t.st.nextSyncVersion()
	payment.CreatedAt, payment.UpdatedAt = t.now, t.now
	t.st.payments[payment.ID] = *payment
	return nil
}

func (t *memTx) GetPayments(ctx context.Context, orderID int64) ([]models.Payment, error) {
	return t.st.livePayments(orderID), nil
}

func (t *memTx) SoftDeletePayments(ctx context.Context, orderID int64) error {
	for _, p := range t.st.livePayments(orderID) {
		ts := t.now
		p.DeletedAt, p.UpdatedAt = &ts, t.now
		t.st.payments[p.ID] = p
	}
	return nil
}

func (t *memTx) LastPurchasePrice(ctx context.Context, itemID int64) (*decimal.Decimal, error) {
	var newest *models.OrderItem
	for _, line := range t.st.orderItems {
		if line.ItemID != itemID || line.DeletedAt != nil {
			continue
		}
		order, ok := t.st.orders[line.OrderID]
		if !ok || order.Kind != models.OrderKindPurchase || order.DeletedAt != nil {
			continue
		}
		if newest == nil || line.OrderID > newest.OrderID || (line.OrderID == newest.OrderID && line.ID > newest.ID) {
			l := line
			newest = &l
		}
	}
	if newest == nil {
		return nil, nil
	}
	price := newest.UnitPrice
	return &price, nil
}

func (t *memTx) MarkDiverged(ctx context.Context, refs []models.EntityRef) error {
	for _, ref := range refs {
		t.st.updateSync(ref, func(flag *bool, syncedAt **time.Time, version *int64, changedAt *time.Time) {
			*flag, *syncedAt = false, nil
			*version = t.st.nextSyncVersion()
			if !ref.Type.AppendOnly() {
				*changedAt = t.now
			}
		})
	}
	return nil
}
