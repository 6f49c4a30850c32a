package store

import (
	"context"
	"fmt"
	"time"

	"warehouse-ledger/internal/models"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary of the ledger core. Every mutation goes
// through RunInTx; the remaining methods are committed-state reads.
type Store interface {
	// RunInTx runs fn in one transaction. The transaction commits only when fn
	// returns nil; any error rolls back every write made through tx.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	CreateWarehouse(ctx context.Context, w *models.Warehouse) error
	GetWarehouse(ctx context.Context, id int64) (*models.Warehouse, error)

	GetItem(ctx context.Context, warehouseID, id int64) (*models.InventoryItem, error)
	ListItems(ctx context.Context, warehouseID int64) ([]models.InventoryItem, error)
	ListMovements(ctx context.Context, warehouseID, itemID int64) ([]models.StockMovement, error)

	GetAccount(ctx context.Context, warehouseID, id int64) (*models.Account, error)
	ListBalanceTransactions(ctx context.Context, warehouseID, accountID int64) ([]models.BalanceTransaction, error)

	GetOrder(ctx context.Context, warehouseID, id int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetPayments(ctx context.Context, orderID int64) ([]models.Payment, error)
	GetOrderByIdempotencyKey(ctx context.Context, warehouseID int64, key string) (*models.Order, error)

	StockLedgerSummaries(ctx context.Context) ([]StockLedgerSummary, error)
	AccountLedgerSummaries(ctx context.Context) ([]AccountLedgerSummary, error)

	ListDiverged(ctx context.Context, entityType models.EntityType, limit int) ([]models.SyncRecord, error)
	MarkSynced(ctx context.Context, entityType models.EntityType, id, version int64, syncedAt time.Time) (bool, error)

	Close() error
}

// Tx is the set of writes and locking reads available inside RunInTx.
// ForUpdate reads lock the row until the transaction ends.
type Tx interface {
	Now() time.Time

	CreateItem(ctx context.Context, item *models.InventoryItem) error
	GetItemForUpdate(ctx context.Context, warehouseID, id int64) (*models.InventoryItem, error)
	UpdateItem(ctx context.Context, item *models.InventoryItem) error
	LastMovement(ctx context.Context, itemID int64) (*models.StockMovement, error)
	InsertMovement(ctx context.Context, m *models.StockMovement) error

	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountForUpdate(ctx context.Context, warehouseID, id int64) (*models.Account, error)
	UpdateAccount(ctx context.Context, account *models.Account) error
	LastBalanceTransaction(ctx context.Context, accountID int64) (*models.BalanceTransaction, error)
	InsertBalanceTransaction(ctx context.Context, t *models.BalanceTransaction) error

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderForUpdate(ctx context.Context, warehouseID, id int64, kind models.OrderKind) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	SoftDeleteOrderItems(ctx context.Context, orderID int64) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayments(ctx context.Context, orderID int64) ([]models.Payment, error)
	SoftDeletePayments(ctx context.Context, orderID int64) error
	// LastPurchasePrice returns the unit price of the newest live purchase
	// line of an item, or nil when the item has none
	LastPurchasePrice(ctx context.Context, itemID int64) (*decimal.Decimal, error)

	// MarkDiverged clears the sync flag of every referenced row. Rows that do
	// not exist are skipped.
	MarkDiverged(ctx context.Context, refs []models.EntityRef) error
}

// StockLedgerSummary compares an item's cached quantity with its movement log
type StockLedgerSummary struct {
	ItemID            int64 `db:"item_id"`
	WarehouseID       int64 `db:"warehouse_id"`
	Quantity          int   `db:"quantity"`
	NetDelta          int   `db:"net_delta"`
	LastQuantityAfter *int  `db:"last_quantity_after"`
}

// AccountLedgerSummary compares an account's cached balance and debt with the
// balance ledger and the outstanding balances of its live sales
type AccountLedgerSummary struct {
	AccountID        int64               `db:"account_id"`
	WarehouseID      int64               `db:"warehouse_id"`
	Balance          decimal.Decimal     `db:"balance"`
	Debt             decimal.Decimal     `db:"debt"`
	LedgerBalance    decimal.Decimal     `db:"ledger_balance"`
	LastBalanceAfter decimal.NullDecimal `db:"last_balance_after"`
	Outstanding      decimal.Decimal     `db:"outstanding"`
}

var tableNames = map[models.EntityType]string{
	models.EntityInventoryItem:      "inventory_items",
	models.EntityStockMovement:      "stock_movements",
	models.EntityAccount:            "accounts",
	models.EntityBalanceTransaction: "balance_transactions",
	models.EntityOrder:              "orders",
	models.EntityOrderItem:          "order_items",
	models.EntityPayment:            "payments",
}

// changedAtColumn is the column holding the last local change of a row
func changedAtColumn(t models.EntityType) string {
	if t.AppendOnly() {
		return "created_at"
	}
	return "updated_at"
}

func tableFor(t models.EntityType) (string, error) {
	name, ok := tableNames[t]
	if !ok {
		return "", models.NewValidationError("entity_type", "unknown entity type "+string(t))
	}
	return name, nil
}

var (
	_ Store = (*PGStore)(nil)
	_ Store = (*MemStore)(nil)
	_ Tx    = (*pgTx)(nil)
	_ Tx    = (*memTx)(nil)
)

// Open connects the store named by driver: "postgres" or "memory"
func Open(driver, databaseURL string) (Store, error) {
	switch driver {
	case "", "postgres":
		return NewStore(databaseURL)
	case "memory":
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
