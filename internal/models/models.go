package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Warehouse is the tenant every other row is scoped to
type Warehouse struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// InventoryItem represents a stocked product
type InventoryItem struct {
	ID             int64           `db:"id" json:"id"`
	WarehouseID    int64           `db:"warehouse_id" json:"warehouse_id"`
	Code           string          `db:"code" json:"code"`
	Name           string          `db:"name" json:"name"`
	Quantity       int             `db:"quantity" json:"quantity"`
	ReorderLevel   int             `db:"reorder_level" json:"reorder_level"`
	Cost           decimal.Decimal `db:"cost" json:"cost"`
	RetailPrice    decimal.Decimal `db:"retail_price" json:"retail_price"`
	WholesalePrice decimal.Decimal `db:"wholesale_price" json:"wholesale_price"`
	SyncFlag       bool            `db:"sync_flag" json:"sync_flag"`
	SyncedAt       *time.Time      `db:"synced_at" json:"synced_at,omitempty"`
	SyncVersion    int64           `db:"sync_version" json:"sync_version"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// BelowReorderLevel reports whether the item needs restocking
func (i *InventoryItem) BelowReorderLevel() bool {
	return i.ReorderLevel > 0 && i.Quantity <= i.ReorderLevel
}

// StockMovement is one append-only entry of the stock ledger
type StockMovement struct {
	ID             int64        `db:"id" json:"id"`
	WarehouseID    int64        `db:"warehouse_id" json:"warehouse_id"`
	ItemID         int64        `db:"item_id" json:"item_id"`
	Type           MovementType `db:"type" json:"type"`
	Delta          int          `db:"delta" json:"delta"`
	QuantityBefore int          `db:"quantity_before" json:"quantity_before"`
	QuantityAfter  int          `db:"quantity_after" json:"quantity_after"`
	Reason         string       `db:"reason" json:"reason"`
	Reference      *string      `db:"reference" json:"reference,omitempty"`
	SyncFlag       bool         `db:"sync_flag" json:"sync_flag"`
	SyncedAt       *time.Time   `db:"synced_at" json:"synced_at,omitempty"`
	SyncVersion    int64        `db:"sync_version" json:"sync_version"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// Account represents a customer's financial standing
type Account struct {
	ID          int64           `db:"id" json:"id"`
	WarehouseID int64           `db:"warehouse_id" json:"warehouse_id"`
	Code        string          `db:"code" json:"code"`
	Name        string          `db:"name" json:"name"`
	Balance     decimal.Decimal `db:"balance" json:"balance"`
	Debt        decimal.Decimal `db:"debt" json:"debt"`
	SyncFlag    bool            `db:"sync_flag" json:"sync_flag"`
	SyncedAt    *time.Time      `db:"synced_at" json:"synced_at,omitempty"`
	SyncVersion int64           `db:"sync_version" json:"sync_version"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// BalanceTransaction is one append-only entry of the balance ledger
type BalanceTransaction struct {
	ID            int64           `db:"id" json:"id"`
	WarehouseID   int64           `db:"warehouse_id" json:"warehouse_id"`
	AccountID     int64           `db:"account_id" json:"account_id"`
	Kind          PostingKind     `db:"kind" json:"kind"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	BalanceBefore decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after" json:"balance_after"`
	Description   string          `db:"description" json:"description"`
	Reference     *string         `db:"reference" json:"reference,omitempty"`
	SyncFlag      bool            `db:"sync_flag" json:"sync_flag"`
	SyncedAt      *time.Time      `db:"synced_at" json:"synced_at,omitempty"`
	SyncVersion   int64           `db:"sync_version" json:"sync_version"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Order is a sale, purchase or quotation
type Order struct {
	ID                int64           `db:"id" json:"id"`
	WarehouseID       int64           `db:"warehouse_id" json:"warehouse_id"`
	Kind              OrderKind       `db:"kind" json:"kind"`
	Number            string          `db:"number" json:"number"`
	Status            OrderStatus     `db:"status" json:"status"`
	AccountID         *int64          `db:"account_id" json:"account_id,omitempty"`
	SubTotal          decimal.Decimal `db:"sub_total" json:"sub_total"`
	Discount          decimal.Decimal `db:"discount" json:"discount"`
	GrandTotal        decimal.Decimal `db:"grand_total" json:"grand_total"`
	AmountPaid        decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	BalanceApplied    decimal.Decimal `db:"balance_applied" json:"balance_applied"`
	Balance           decimal.Decimal `db:"balance" json:"balance"`
	ConvertedSaleID   *int64          `db:"converted_sale_id" json:"converted_sale_id,omitempty"`
	SourceQuotationID *int64          `db:"source_quotation_id" json:"source_quotation_id,omitempty"`
	IdempotencyKey    *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Note              string          `db:"note" json:"note"`
	SyncFlag          bool            `db:"sync_flag" json:"sync_flag"`
	SyncedAt          *time.Time      `db:"synced_at" json:"synced_at,omitempty"`
	SyncVersion       int64           `db:"sync_version" json:"sync_version"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt         *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// OrderItem represents one line of an order
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	WarehouseID int64           `db:"warehouse_id" json:"warehouse_id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	ItemID      int64           `db:"item_id" json:"item_id"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Discount    decimal.Decimal `db:"discount" json:"discount"`
	LineTotal   decimal.Decimal `db:"line_total" json:"line_total"`
	SyncFlag    bool            `db:"sync_flag" json:"sync_flag"`
	SyncedAt    *time.Time      `db:"synced_at" json:"synced_at,omitempty"`
	SyncVersion int64           `db:"sync_version" json:"sync_version"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Payment is money received against an order
type Payment struct {
	ID          int64           `db:"id" json:"id"`
	WarehouseID int64           `db:"warehouse_id" json:"warehouse_id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	Method      PaymentMethod   `db:"method" json:"method"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Reference   *string         `db:"reference" json:"reference,omitempty"`
	SyncFlag    bool            `db:"sync_flag" json:"sync_flag"`
	SyncedAt    *time.Time      `db:"synced_at" json:"synced_at,omitempty"`
	SyncVersion int64           `db:"sync_version" json:"sync_version"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// MovementType is the kind of stock change
type MovementType string

const (
	MovementIncrease MovementType = "increase"
	MovementDecrease MovementType = "decrease"
	MovementSet      MovementType = "set"
)

// Valid reports whether t is a known movement type
func (t MovementType) Valid() bool {
	switch t {
	case MovementIncrease, MovementDecrease, MovementSet:
		return true
	}
	return false
}

// PostingKind is the direction of a balance posting
type PostingKind string

const (
	PostingCredit PostingKind = "credit"
	PostingDebit  PostingKind = "debit"
)

// OrderKind distinguishes the three order flavours sharing one table
type OrderKind string

const (
	OrderKindSale      OrderKind = "sale"
	OrderKindPurchase  OrderKind = "purchase"
	OrderKindQuotation OrderKind = "quotation"
)

// OrderStatus values
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusConverted OrderStatus = "converted"
	OrderStatusDeleted   OrderStatus = "deleted"
)

// Terminal reports whether no further transition except deletion is allowed
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusConverted || s == OrderStatusDeleted
}

// PaymentMethod values
type PaymentMethod string

const (
	PaymentMethodCash    PaymentMethod = "cash"
	PaymentMethodBalance PaymentMethod = "balance"
)

// StringRef returns a pointer to s, or nil when s is empty
func StringRef(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
