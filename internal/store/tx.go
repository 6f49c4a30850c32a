package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"warehouse-ledger/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// pgTx implements Tx on top of one sqlx transaction. Every timestamp written
// in the transaction is the instant it began.
type pgTx struct {
	tx  *sqlx.Tx
	now time.Time
}

func (t *pgTx) Now() time.Time {
	return t.now
}

// CreateItem inserts an item with zero quantity; opening stock goes through the ledger
func (t *pgTx) CreateItem(ctx context.Context, item *models.InventoryItem) error {
	item.Quantity = 0
	item.SyncFlag, item.SyncedAt = false, nil
	item.CreatedAt, item.UpdatedAt = t.now, t.now

	query := `
		INSERT INTO inventory_items
			(warehouse_id, code, name, quantity, reorder_level, cost, retail_price, wholesale_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id, sync_version`

	err := t.tx.QueryRowxContext(ctx, query,
		item.WarehouseID, item.Code, item.Name, item.Quantity, item.ReorderLevel,
		item.Cost, item.RetailPrice, item.WholesalePrice, t.now).
		Scan(&item.ID, &item.SyncVersion)
	return translateError(err, "inventory item "+item.Code)
}

// GetItemForUpdate locks an item row for the rest of the transaction
func (t *pgTx) GetItemForUpdate(ctx context.Context, warehouseID, id int64) (*models.InventoryItem, error) {
	return getItem(ctx, t.tx, warehouseID, id, true)
}

// UpdateItem writes the mutable columns of an item
func (t *pgTx) UpdateItem(ctx context.Context, item *models.InventoryItem) error {
	item.UpdatedAt = t.now
	_, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = $1, quantity = $2, reorder_level = $3, cost = $4,
			retail_price = $5, wholesale_price = $6, updated_at = $7
		WHERE id = $8`,
		item.Name, item.Quantity, item.ReorderLevel, item.Cost,
		item.RetailPrice, item.WholesalePrice, t.now, item.ID)
	return translateError(err, "inventory item")
}

// LastMovement returns the newest movement of an item, or nil when it has none
func (t *pgTx) LastMovement(ctx context.Context, itemID int64) (*models.StockMovement, error) {
	var m models.StockMovement
	err := t.tx.GetContext(ctx, &m,
		"SELECT * FROM stock_movements WHERE item_id = $1 ORDER BY id DESC LIMIT 1", itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMovement appends a stock movement
func (t *pgTx) InsertMovement(ctx context.Context, m *models.StockMovement) error {
	m.SyncFlag, m.SyncedAt = false, nil
	m.CreatedAt = t.now

	query := `
		INSERT INTO stock_movements
			(warehouse_id, item_id, type, delta, quantity_before, quantity_after, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, sync_version`

	err := t.tx.QueryRowxContext(ctx, query,
		m.WarehouseID, m.ItemID, m.Type, m.Delta, m.QuantityBefore, m.QuantityAfter,
		m.Reason, m.Reference, t.now).
		Scan(&m.ID, &m.SyncVersion)
	return translateError(err, "stock movement")
}

// CreateAccount inserts an account with zero balance; opening balance goes through the ledger
func (t *pgTx) CreateAccount(ctx context.Context, account *models.Account) error {
	account.Balance, account.Debt = decimal.Zero, decimal.Zero
	account.SyncFlag, account.SyncedAt = false, nil
	account.CreatedAt, account.UpdatedAt = t.now, t.now

	query := `
		INSERT INTO accounts (warehouse_id, code, name, balance, debt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, sync_version`

	err := t.tx.QueryRowxContext(ctx, query,
		account.WarehouseID, account.Code, account.Name, account.Balance, account.Debt, t.now).
		Scan(&account.ID, &account.SyncVersion)
	return translateError(err, "account "+account.Code)
}

// GetAccountForUpdate locks an account row for the rest of the transaction
func (t *pgTx) GetAccountForUpdate(ctx context.Context, warehouseID, id int64) (*models.Account, error) {
	return getAccount(ctx, t.tx, warehouseID, id, true)
}

// UpdateAccount writes the mutable columns of an account
func (t *pgTx) UpdateAccount(ctx context.Context, account *models.Account) error {
	account.UpdatedAt = t.now
	_, err := t.tx.ExecContext(ctx,
		"UPDATE accounts SET name = $1, balance = $2, debt = $3, updated_at = $4 WHERE id = $5",
		account.Name, account.Balance, account.Debt, t.now, account.ID)
	return translateError(err, "account")
}

// LastBalanceTransaction returns the newest posting of an account, or nil when it has none
func (t *pgTx) LastBalanceTransaction(ctx context.Context, accountID int64) (*models.BalanceTransaction, error) {
	var bt models.BalanceTransaction
	err := t.tx.GetContext(ctx, &bt,
		"SELECT * FROM balance_transactions WHERE account_id = $1 ORDER BY id DESC LIMIT 1", accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bt, nil
}

// InsertBalanceTransaction appends a balance posting
func (t *pgTx) InsertBalanceTransaction(ctx context.Context, bt *models.BalanceTransaction) error {
	bt.SyncFlag, bt.SyncedAt = false, nil
	bt.CreatedAt = t.now

	query := `
		INSERT INTO balance_transactions
			(warehouse_id, account_id, kind, amount, balance_before, balance_after, description, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, sync_version`

	err := t.tx.QueryRowxContext(ctx, query,
		bt.WarehouseID, bt.AccountID, bt.Kind, bt.Amount, bt.BalanceBefore, bt.BalanceAfter,
		bt.Description, bt.Reference, t.now).
		Scan(&bt.ID, &bt.SyncVersion)
	return translateError(err, "balance transaction")
}

// MarkDiverged clears the sync columns of every referenced row and draws a
// new sync version for it, one statement per table
func (t *pgTx) MarkDiverged(ctx context.Context, refs []models.EntityRef) error {
	byType := make(map[models.EntityType][]int64)
	for _, ref := range refs {
		byType[ref.Type] = append(byType[ref.Type], ref.ID)
	}

	for _, entityType := range models.EntityTypes {
		ids := byType[entityType]
		if len(ids) == 0 {
			continue
		}
		table, err := tableFor(entityType)
		if err != nil {
			return err
		}

		var (
			query string
			args  []interface{}
		)
		if entityType.AppendOnly() {
			query, args, err = sqlx.In(
				fmt.Sprintf("UPDATE %s SET sync_flag = FALSE, synced_at = NULL, sync_version = nextval('sync_version_seq') WHERE id IN (?)", table), ids)
		} else {
			query, args, err = sqlx.In(
				fmt.Sprintf(`UPDATE %s SET sync_flag = FALSE, synced_at = NULL, sync_version = nextval('sync_version_seq'),
					updated_at = ? WHERE id IN (?)`, table),
				t.now, ids)
		}
		if err != nil {
			return err
		}

		if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to mark %s diverged: %w", entityType, err)
		}
	}
	return nil
}
