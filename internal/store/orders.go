package store

import (
	"context"
	"database/sql"
	"errors"

	"warehouse-ledger/internal/models"

	"github.com/shopspring/decimal"
)

// CreateOrder creates a new order
func (t *pgTx) CreateOrder(ctx context.Context, order *models.Order) error {
	order.SyncFlag, order.SyncedAt = false, nil
	order.CreatedAt, order.UpdatedAt = t.now, t.now

	query := `
		INSERT INTO orders
			(warehouse_id, kind, number, status, account_id, sub_total, discount, grand_total,
			 amount_paid, balance_applied, balance, converted_sale_id, source_quotation_id,
			 idempotency_key, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		RETURNING id, sync_version`

	err := t.tx.QueryRowxContext(ctx, query,
		order.WarehouseID, order.Kind, order.Number, order.Status, order.AccountID,
		order.SubTotal, order.Discount, order.GrandTotal,
		order.AmountPaid, order.BalanceApplied, order.Balance,
		order.ConvertedSaleID, order.SourceQuotationID,
		order.IdempotencyKey, order.Note, t.now).
		Scan(&order.ID, &order.SyncVersion)
	return translateError(err, string(order.Kind)+" "+order.Number)
}

// GetOrderForUpdate locks a live order of the given kind
func (t *pgTx) GetOrderForUpdate(ctx context.Context, warehouseID, id int64, kind models.OrderKind) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, `
		SELECT * FROM orders
		WHERE warehouse_id = $1 AND id = $2 AND kind = $3 AND deleted_at IS NULL
		FOR UPDATE`,
		warehouseID, id, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError(string(kind), id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrder writes the mutable columns of an order
func (t *pgTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	order.UpdatedAt = t.now
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, amount_paid = $2, balance_applied = $3, balance = $4,
			converted_sale_id = $5, note = $6, deleted_at = $7, updated_at = $8
		WHERE id = $9`,
		order.Status, order.AmountPaid, order.BalanceApplied, order.Balance,
		order.ConvertedSaleID, order.Note, order.DeletedAt, t.now, order.ID)
	return translateError(err, string(order.Kind))
}

// CreateOrderItem creates a new order line
func (t *pgTx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	item.SyncFlag, item.SyncedAt = false, nil
	item.UpdatedAt = t.now

	query := `
		INSERT INTO order_items
			(warehouse_id, order_id, item_id, quantity, unit_price, discount, line_total, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, sync_version`

	err := t.tx.QueryRowxContext(ctx, query,
		item.WarehouseID, item.OrderID, item.ItemID, item.Quantity,
		item.UnitPrice, item.Discount, item.LineTotal, t.now).
		Scan(&item.ID, &item.SyncVersion)
	return translateError(err, "order item")
}

// GetOrderItems retrieves the live lines of an order inside the transaction
func (t *pgTx) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return getOrderItems(ctx, t.tx, orderID)
}

// SoftDeleteOrderItems flags every live line of an order as deleted
func (t *pgTx) SoftDeleteOrderItems(ctx context.Context, orderID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE order_items SET deleted_at = $1, updated_at = $1 WHERE order_id = $2 AND deleted_at IS NULL",
		t.now, orderID)
	return err
}

// CreatePayment creates a new payment record
func (t *pgTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	payment.SyncFlag, payment.SyncedAt = false, nil
	payment.CreatedAt, payment.UpdatedAt = t.now, t.now

	query := `
		INSERT INTO payments (warehouse_id, order_id, method, amount, reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, sync_version`

	err := t.tx.QueryRowxContext(ctx, query,
		payment.WarehouseID, payment.OrderID, payment.Method, payment.Amount, payment.Reference, t.now).
		Scan(&payment.ID, &payment.SyncVersion)
	return translateError(err, "payment")
}

// GetPayments retrieves the live payments of an order inside the transaction
func (t *pgTx) GetPayments(ctx context.Context, orderID int64) ([]models.Payment, error) {
	return getPayments(ctx, t.tx, orderID)
}

// SoftDeletePayments flags every live payment of an order as deleted
func (t *pgTx) SoftDeletePayments(ctx context.Context, orderID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE payments SET deleted_at = $1, updated_at = $1 WHERE order_id = $2 AND deleted_at IS NULL",
		t.now, orderID)
	return err
}

// LastPurchasePrice returns the unit price of the newest live purchase line of an item
func (t *pgTx) LastPurchasePrice(ctx context.Context, itemID int64) (*decimal.Decimal, error) {
	var price decimal.Decimal
	err := t.tx.GetContext(ctx, &price, `
		SELECT oi.unit_price
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.item_id = $1 AND o.kind = $2
			AND o.deleted_at IS NULL AND oi.deleted_at IS NULL
		ORDER BY o.id DESC, oi.id DESC
		LIMIT 1`,
		itemID, models.OrderKindPurchase)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &price, nil
}
