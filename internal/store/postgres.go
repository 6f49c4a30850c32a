package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"warehouse-ledger/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PGStore is the Postgres implementation of Store
type PGStore struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*PGStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PGStore{db: db}, nil
}

// Close closes the database connection
func (s *PGStore) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *PGStore) GetDB() *sqlx.DB {
	return s.db
}

// RunInTx runs fn inside a READ COMMITTED transaction. Serialization of
// concurrent writers comes from the FOR UPDATE row locks taken through tx.
func (s *PGStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx, now: time.Now().UTC()}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateWarehouse creates a new warehouse
func (s *PGStore) CreateWarehouse(ctx context.Context, w *models.Warehouse) error {
	return s.db.GetContext(ctx, w,
		"INSERT INTO warehouses (name) VALUES ($1) RETURNING id, name, created_at", w.Name)
}

// GetWarehouse retrieves a warehouse by ID
func (s *PGStore) GetWarehouse(ctx context.Context, id int64) (*models.Warehouse, error) {
	var w models.Warehouse
	err := s.db.GetContext(ctx, &w, "SELECT * FROM warehouses WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("warehouse", id)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetItem retrieves an inventory item
func (s *PGStore) GetItem(ctx context.Context, warehouseID, id int64) (*models.InventoryItem, error) {
	return getItem(ctx, s.db, warehouseID, id, false)
}

// ListItems lists inventory items of a warehouse, or of every warehouse when warehouseID is 0
func (s *PGStore) ListItems(ctx context.Context, warehouseID int64) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM inventory_items WHERE ($1 = 0 OR warehouse_id = $1) ORDER BY id", warehouseID)
	return items, err
}

// ListMovements lists the stock movements of an item, oldest first
func (s *PGStore) ListMovements(ctx context.Context, warehouseID, itemID int64) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	err := s.db.SelectContext(ctx, &movements,
		"SELECT * FROM stock_movements WHERE warehouse_id = $1 AND item_id = $2 ORDER BY id",
		warehouseID, itemID)
	return movements, err
}

// GetAccount retrieves an account
func (s *PGStore) GetAccount(ctx context.Context, warehouseID, id int64) (*models.Account, error) {
	return getAccount(ctx, s.db, warehouseID, id, false)
}

// ListBalanceTransactions lists the postings of an account, oldest first
func (s *PGStore) ListBalanceTransactions(ctx context.Context, warehouseID, accountID int64) ([]models.BalanceTransaction, error) {
	var txns []models.BalanceTransaction
	err := s.db.SelectContext(ctx, &txns,
		"SELECT * FROM balance_transactions WHERE warehouse_id = $1 AND account_id = $2 ORDER BY id",
		warehouseID, accountID)
	return txns, err
}

// GetOrder retrieves a live order of any kind
func (s *PGStore) GetOrder(ctx context.Context, warehouseID, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE warehouse_id = $1 AND id = $2 AND deleted_at IS NULL",
		warehouseID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("order", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves the live lines of an order
func (s *PGStore) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return getOrderItems(ctx, s.db, orderID)
}

// GetPayments retrieves the live payments of an order
func (s *PGStore) GetPayments(ctx context.Context, orderID int64) ([]models.Payment, error) {
	return getPayments(ctx, s.db, orderID)
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, including a deleted one
func (s *PGStore) GetOrderByIdempotencyKey(ctx context.Context, warehouseID int64, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE warehouse_id = $1 AND idempotency_key = $2", warehouseID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// StockLedgerSummaries folds every item's movement log
func (s *PGStore) StockLedgerSummaries(ctx context.Context) ([]StockLedgerSummary, error) {
	query := `
		SELECT i.id AS item_id, i.warehouse_id, i.quantity,
			COALESCE((SELECT SUM(m.delta) FROM stock_movements m WHERE m.item_id = i.id), 0) AS net_delta,
			(SELECT m.quantity_after FROM stock_movements m
				WHERE m.item_id = i.id ORDER BY m.id DESC LIMIT 1) AS last_quantity_after
		FROM inventory_items i
		ORDER BY i.id`

	var out []StockLedgerSummary
	err := s.db.SelectContext(ctx, &out, query)
	return out, err
}

// AccountLedgerSummaries folds every account's balance ledger and live sale balances
func (s *PGStore) AccountLedgerSummaries(ctx context.Context) ([]AccountLedgerSummary, error) {
	query := `
		SELECT a.id AS account_id, a.warehouse_id, a.balance, a.debt,
			COALESCE((SELECT SUM(CASE WHEN t.kind = 'credit' THEN t.amount ELSE -t.amount END)
				FROM balance_transactions t WHERE t.account_id = a.id), 0) AS ledger_balance,
			(SELECT t.balance_after FROM balance_transactions t
				WHERE t.account_id = a.id ORDER BY t.id DESC LIMIT 1) AS last_balance_after,
			COALESCE((SELECT SUM(o.balance) FROM orders o
				WHERE o.account_id = a.id AND o.kind = 'sale' AND o.deleted_at IS NULL), 0) AS outstanding
		FROM accounts a
		ORDER BY a.id`

	var out []AccountLedgerSummary
	err := s.db.SelectContext(ctx, &out, query)
	return out, err
}

type syncRow struct {
	ID          int64     `db:"id"`
	WarehouseID int64     `db:"warehouse_id"`
	Version     int64     `db:"sync_version"`
	ChangedAt   time.Time `db:"changed_at"`
	Payload     string    `db:"payload"`
}

// ListDiverged lists rows of one entity type whose sync flag is cleared
func (s *PGStore) ListDiverged(ctx context.Context, entityType models.EntityType, limit int) ([]models.SyncRecord, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT t.id, t.warehouse_id, t.sync_version, t.%s AS changed_at, row_to_json(t)::text AS payload
		FROM %s t
		WHERE t.sync_flag = FALSE
		ORDER BY t.id
		LIMIT $1`, changedAtColumn(entityType), table)

	var rows []syncRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}

	records := make([]models.SyncRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, models.SyncRecord{
			EntityType:  entityType,
			ID:          r.ID,
			WarehouseID: r.WarehouseID,
			Version:     r.Version,
			ChangedAt:   r.ChangedAt,
			Payload:     []byte(r.Payload),
		})
	}
	return records, nil
}

// MarkSynced sets the sync flag of a row if it is still at version. An update
// racing the acknowledgement holds the row lock; the WHERE clause is rechecked
// against the committed row, so a newer version is never marked synced.
func (s *PGStore) MarkSynced(ctx context.Context, entityType models.EntityType, id, version int64, syncedAt time.Time) (bool, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(
		"UPDATE %s SET sync_flag = TRUE, synced_at = $1 WHERE id = $2 AND sync_version = $3", table)
	res, err := s.db.ExecContext(ctx, query, syncedAt, id, version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	err = s.db.GetContext(ctx, &exists,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)", table), id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, models.NewNotFoundError(string(entityType), id)
	}
	return false, nil
}

func getItem(ctx context.Context, q sqlx.QueryerContext, warehouseID, id int64, forUpdate bool) (*models.InventoryItem, error) {
	query := "SELECT * FROM inventory_items WHERE warehouse_id = $1 AND id = $2"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var item models.InventoryItem
	err := sqlx.GetContext(ctx, q, &item, query, warehouseID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("inventory item", id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func getAccount(ctx context.Context, q sqlx.QueryerContext, warehouseID, id int64, forUpdate bool) (*models.Account, error) {
	query := "SELECT * FROM accounts WHERE warehouse_id = $1 AND id = $2"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var account models.Account
	err := sqlx.GetContext(ctx, q, &account, query, warehouseID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("account", id)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func getOrderItems(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, q, &items,
		"SELECT * FROM order_items WHERE order_id = $1 AND deleted_at IS NULL ORDER BY id", orderID)
	return items, err
}

func getPayments(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := sqlx.SelectContext(ctx, q, &payments,
		"SELECT * FROM payments WHERE order_id = $1 AND deleted_at IS NULL ORDER BY id", orderID)
	return payments, err
}

// translateError maps constraint violations onto the domain error taxonomy
func translateError(err error, what string) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505":
		return models.NewConflictError("%s already exists", what)
	case "23503":
		return models.NewNotFoundError("reference of "+what, pqErr.Constraint)
	case "23514":
		return &models.ConsistencyError{Entity: what, Message: pqErr.Message}
	}
	return err
}
