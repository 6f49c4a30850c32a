package service

import (
	"context"
	"fmt"
	"strings"

	"warehouse-ledger/internal/ledger"
	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/store"
	"warehouse-ledger/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceTier selects which list price a sale line defaults to
type PriceTier string

const (
	PriceRetail    PriceTier = "retail"
	PriceWholesale PriceTier = "wholesale"
)

// LineRequest represents one requested order line. A nil unit price takes
// the item's list price (cost for purchases).
type LineRequest struct {
	ItemID    int64            `json:"item_id" validate:"required"`
	Quantity  int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal  `json:"discount"`
}

// SaleRequest represents a request to record a sale
type SaleRequest struct {
	WarehouseID    int64           `json:"-" validate:"required"`
	Number         string          `json:"number" validate:"max=64"`
	AccountID      *int64          `json:"account_id" validate:"omitempty,gt=0"`
	PriceTier      PriceTier       `json:"price_tier" validate:"omitempty,oneof=retail wholesale"`
	Items          []LineRequest   `json:"items" validate:"required,min=1,dive"`
	Discount       decimal.Decimal `json:"discount"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	UseBalance     bool            `json:"use_balance"`
	Note           string          `json:"note" validate:"max=1000"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=128"`
}

// PurchaseRequest represents a request to record a purchase
type PurchaseRequest struct {
	WarehouseID int64           `json:"-" validate:"required"`
	Number      string          `json:"number" validate:"max=64"`
	Items       []LineRequest   `json:"items" validate:"required,min=1,dive"`
	Discount    decimal.Decimal `json:"discount"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Note        string          `json:"note" validate:"max=1000"`
}

// QuotationRequest represents a request to draft a quotation
type QuotationRequest struct {
	WarehouseID int64           `json:"-" validate:"required"`
	Number      string          `json:"number" validate:"max=64"`
	AccountID   *int64          `json:"account_id" validate:"omitempty,gt=0"`
	PriceTier   PriceTier       `json:"price_tier" validate:"omitempty,oneof=retail wholesale"`
	Items       []LineRequest   `json:"items" validate:"required,min=1,dive"`
	Discount    decimal.Decimal `json:"discount"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Note        string          `json:"note" validate:"max=1000"`
}

// PaymentRequest represents a payment against a sale's outstanding balance
type PaymentRequest struct {
	WarehouseID int64                `json:"-" validate:"required"`
	SaleID      int64                `json:"-" validate:"required"`
	Amount      decimal.Decimal      `json:"amount"`
	Method      models.PaymentMethod `json:"method" validate:"required,oneof=cash balance"`
	Reference   string               `json:"reference" validate:"max=255"`
}

// OrderDetail is an order with its live lines and payments
type OrderDetail struct {
	Order    *models.Order      `json:"order"`
	Items    []models.OrderItem `json:"items"`
	Payments []models.Payment   `json:"payments"`
}

// lineDraft is a line with its price resolved
type lineDraft struct {
	itemID    int64
	quantity  int
	unitPrice decimal.Decimal
	discount  decimal.Decimal
}

func (l lineDraft) total() decimal.Decimal {
	return l.unitPrice.Mul(decimal.NewFromInt(int64(l.quantity))).Sub(l.discount)
}

func checkMoney(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return models.NewValidationError(field, "must not be negative")
	}
	if !d.Equal(d.Truncate(ledger.MoneyPlaces)) {
		return models.NewValidationError(field, fmt.Sprintf("must have at most %d decimal places", ledger.MoneyPlaces))
	}
	return nil
}

func checkLines(lines []LineRequest) error {
	for i, l := range lines {
		field := fmt.Sprintf("items[%d]", i)
		if l.UnitPrice != nil {
			if err := checkMoney(field+".unit_price", *l.UnitPrice); err != nil {
				return err
			}
		}
		if err := checkMoney(field+".discount", l.Discount); err != nil {
			return err
		}
	}
	return nil
}

// resolveLines prices each requested line against the item it references
func resolveLines(reqs []LineRequest, items map[int64]*models.InventoryItem, listPrice func(*models.InventoryItem) decimal.Decimal) ([]lineDraft, error) {
	drafts := make([]lineDraft, 0, len(reqs))
	for i, r := range reqs {
		item, ok := items[r.ItemID]
		if !ok {
			return nil, models.NewNotFoundError("inventory item", r.ItemID)
		}
		price := listPrice(item)
		if r.UnitPrice != nil {
			price = *r.UnitPrice
		}
		d := lineDraft{itemID: r.ItemID, quantity: r.Quantity, unitPrice: price, discount: r.Discount}
		if d.total().IsNegative() {
			return nil, models.NewValidationError(fmt.Sprintf("items[%d].discount", i), "exceeds the line amount")
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// totals returns the sub total and grand total of priced lines
func totals(lines []lineDraft, discount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	sub := decimal.Zero
	for _, l := range lines {
		sub = sub.Add(l.total())
	}
	grand := sub.Sub(discount)
	if grand.IsNegative() {
		return decimal.Zero, decimal.Zero, models.NewValidationError("discount", "exceeds the order amount")
	}
	return sub, grand, nil
}

func lineItemIDs(reqs []LineRequest) []int64 {
	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ItemID)
	}
	return ids
}

func salePrice(tier PriceTier) func(*models.InventoryItem) decimal.Decimal {
	return func(item *models.InventoryItem) decimal.Decimal {
		if tier == PriceWholesale {
			return item.WholesalePrice
		}
		return item.RetailPrice
	}
}

func purchasePrice(item *models.InventoryItem) decimal.Decimal {
	return item.Cost
}

func newOrderNumber(kind models.OrderKind) string {
	prefix := map[models.OrderKind]string{
		models.OrderKindSale:      "SAL",
		models.OrderKindPurchase:  "PUR",
		models.OrderKindQuotation: "QUO",
	}[kind]
	id := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return prefix + "-" + id[:12]
}

func orderRef(kind models.OrderKind, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// CreateSale records a completed sale: stock leaves the warehouse, cash and
// optionally account balance pay for it, and the rest is owed. A request
// repeating an idempotency key returns the sale created first, or a conflict
// once that sale has been deleted.
func (o *Orchestrator) CreateSale(ctx context.Context, req *SaleRequest) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.CreateSale")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = o.checkSale(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, lookupErr := o.existingSale(ctx, req.WarehouseID, req.IdempotencyKey)
		if lookupErr != nil || existing != nil {
			err = lookupErr
			return existing, err
		}
	}

	var detail *OrderDetail
	err = o.run(ctx, "create_sale", req.WarehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		items, err := o.stock.LockItems(ctx, tx, req.WarehouseID, lineItemIDs(req.Items))
		if err != nil {
			return err
		}
		account, err := o.lockOptionalAccount(ctx, tx, req.WarehouseID, req.AccountID)
		if err != nil {
			return err
		}

		lines, err := resolveLines(req.Items, items, salePrice(req.PriceTier))
		if err != nil {
			return err
		}

		number := req.Number
		if number == "" {
			number = newOrderNumber(models.OrderKindSale)
		}
		detail, _, err = o.placeSale(ctx, tx, u, saleDraft{
			warehouseID:    req.WarehouseID,
			number:         number,
			lines:          lines,
			discount:       req.Discount,
			cashPaid:       req.AmountPaid,
			useBalance:     req.UseBalance,
			idempotencyKey: models.StringRef(req.IdempotencyKey),
			note:           req.Note,
		}, items, account)
		return err
	})
	if err != nil {
		if req.IdempotencyKey != "" && models.IsConflict(err) {
			// a concurrent request with the same key won the insert
			if existing, lookupErr := o.existingSale(ctx, req.WarehouseID, req.IdempotencyKey); lookupErr == nil && existing != nil {
				err = nil
				return existing, nil
			}
		}
		return nil, err
	}

	o.logger.Info("Sale created",
		zap.Int64("warehouse_id", req.WarehouseID),
		zap.Int64("sale_id", detail.Order.ID),
		zap.String("grand_total", detail.Order.GrandTotal.String()),
		zap.String("balance", detail.Order.Balance.String()))
	return detail, nil
}

func (o *Orchestrator) checkSale(req *SaleRequest) error {
	if err := o.check(req); err != nil {
		return err
	}
	if err := checkLines(req.Items); err != nil {
		return err
	}
	if err := checkMoney("discount", req.Discount); err != nil {
		return err
	}
	if err := checkMoney("amount_paid", req.AmountPaid); err != nil {
		return err
	}
	if req.UseBalance && req.AccountID == nil {
		return models.NewValidationError("use_balance", "requires account_id")
	}
	return nil
}

func (o *Orchestrator) existingSale(ctx context.Context, warehouseID int64, key string) (*OrderDetail, error) {
	existing, err := o.store.GetOrderByIdempotencyKey(ctx, warehouseID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.DeletedAt != nil {
		return nil, models.NewConflictError("idempotency key %s belongs to deleted sale %d", key, existing.ID)
	}

	o.logger.Info("Duplicate sale request detected",
		zap.String("idempotency_key", key),
		zap.Int64("sale_id", existing.ID))
	return o.detail(ctx, existing)
}

// CreatePurchase records received stock. Each line raises the item's
// quantity and makes its unit price the item's cost.
func (o *Orchestrator) CreatePurchase(ctx context.Context, req *PurchaseRequest) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.CreatePurchase")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = o.check(req); err != nil {
		return nil, err
	}
	if err = checkLines(req.Items); err != nil {
		return nil, err
	}
	if err = checkMoney("discount", req.Discount); err != nil {
		return nil, err
	}
	if err = checkMoney("amount_paid", req.AmountPaid); err != nil {
		return nil, err
	}

	detail := &OrderDetail{}
	err = o.run(ctx, "create_purchase", req.WarehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		items, err := o.stock.LockItems(ctx, tx, req.WarehouseID, lineItemIDs(req.Items))
		if err != nil {
			return err
		}
		lines, err := resolveLines(req.Items, items, purchasePrice)
		if err != nil {
			return err
		}
		sub, grand, err := totals(lines, req.Discount)
		if err != nil {
			return err
		}
		if req.AmountPaid.GreaterThan(grand) {
			return models.NewValidationError("amount_paid", "exceeds the grand total")
		}

		number := req.Number
		if number == "" {
			number = newOrderNumber(models.OrderKindPurchase)
		}
		order := &models.Order{
			WarehouseID: req.WarehouseID,
			Kind:        models.OrderKindPurchase,
			Number:      number,
			Status:      models.OrderStatusCompleted,
			SubTotal:    sub,
			Discount:    req.Discount,
			GrandTotal:  grand,
			AmountPaid:  req.AmountPaid,
			Balance:     grand.Sub(req.AmountPaid),
			Note:        req.Note,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		detail.Order = order

		ref := orderRef(models.OrderKindPurchase, order.ID)
		for _, l := range lines {
			line := models.OrderItem{
				WarehouseID: req.WarehouseID,
				OrderID:     order.ID,
				ItemID:      l.itemID,
				Quantity:    l.quantity,
				UnitPrice:   l.unitPrice,
				Discount:    l.discount,
				LineTotal:   l.total(),
			}
			if err := tx.CreateOrderItem(ctx, &line); err != nil {
				return err
			}
			detail.Items = append(detail.Items, line)

			movement, item, err := o.stock.Adjust(ctx, tx, ledger.Adjustment{
				WarehouseID: req.WarehouseID,
				ItemID:      l.itemID,
				Type:        models.MovementIncrease,
				Magnitude:   l.quantity,
				Reason:      "purchase",
				Reference:   ref,
				Policy:      ledger.PolicyReject,
			})
			if err != nil {
				return err
			}
			item.Cost = l.unitPrice
			if err := tx.UpdateItem(ctx, item); err != nil {
				return err
			}
			u.stockMoved(movement, item)
		}

		if req.AmountPaid.IsPositive() {
			payment := models.Payment{
				WarehouseID: req.WarehouseID,
				OrderID:     order.ID,
				Method:      models.PaymentMethodCash,
				Amount:      req.AmountPaid,
			}
			if err := tx.CreatePayment(ctx, &payment); err != nil {
				return err
			}
			detail.Payments = append(detail.Payments, payment)
		}

		u.orderChanged(order, detail.Items, detail.Payments)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Purchase created",
		zap.Int64("warehouse_id", req.WarehouseID),
		zap.Int64("purchase_id", detail.Order.ID),
		zap.Int("lines", len(detail.Items)))
	return detail, nil
}

// CreateQuotation drafts a pending quotation. It moves no stock and no balance;
// an optional deposit is recorded as a cash payment.
func (o *Orchestrator) CreateQuotation(ctx context.Context, req *QuotationRequest) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.CreateQuotation")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = o.check(req); err != nil {
		return nil, err
	}
	if err = checkLines(req.Items); err != nil {
		return nil, err
	}
	if err = checkMoney("discount", req.Discount); err != nil {
		return nil, err
	}
	if err = checkMoney("amount_paid", req.AmountPaid); err != nil {
		return nil, err
	}

	// quotations only read list prices, so committed item state is enough
	items := make(map[int64]*models.InventoryItem, len(req.Items))
	for _, l := range req.Items {
		item, getErr := o.store.GetItem(ctx, req.WarehouseID, l.ItemID)
		if getErr != nil {
			err = getErr
			return nil, err
		}
		items[item.ID] = item
	}
	if req.AccountID != nil {
		if _, err = o.store.GetAccount(ctx, req.WarehouseID, *req.AccountID); err != nil {
			return nil, err
		}
	}

	detail := &OrderDetail{}
	err = o.run(ctx, "create_quotation", req.WarehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		lines, err := resolveLines(req.Items, items, salePrice(req.PriceTier))
		if err != nil {
			return err
		}
		sub, grand, err := totals(lines, req.Discount)
		if err != nil {
			return err
		}
		if req.AmountPaid.GreaterThan(grand) {
			return models.NewValidationError("amount_paid", "exceeds the grand total")
		}

		number := req.Number
		if number == "" {
			number = newOrderNumber(models.OrderKindQuotation)
		}
		order := &models.Order{
			WarehouseID: req.WarehouseID,
			Kind:        models.OrderKindQuotation,
			Number:      number,
			Status:      models.OrderStatusPending,
			AccountID:   req.AccountID,
			SubTotal:    sub,
			Discount:    req.Discount,
			GrandTotal:  grand,
			AmountPaid:  req.AmountPaid,
			Balance:     grand.Sub(req.AmountPaid),
			Note:        req.Note,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		detail.Order = order

		for _, l := range lines {
			line := models.OrderItem{
				WarehouseID: req.WarehouseID,
				OrderID:     order.ID,
				ItemID:      l.itemID,
				Quantity:    l.quantity,
				UnitPrice:   l.unitPrice,
				Discount:    l.discount,
				LineTotal:   l.total(),
			}
			if err := tx.CreateOrderItem(ctx, &line); err != nil {
				return err
			}
			detail.Items = append(detail.Items, line)
		}

		if req.AmountPaid.IsPositive() {
			payment := models.Payment{
				WarehouseID: req.WarehouseID,
				OrderID:     order.ID,
				Method:      models.PaymentMethodCash,
				Amount:      req.AmountPaid,
				Reference:   models.StringRef("deposit"),
			}
			if err := tx.CreatePayment(ctx, &payment); err != nil {
				return err
			}
			detail.Payments = append(detail.Payments, payment)
		}

		u.orderChanged(order, detail.Items, detail.Payments)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Quotation created",
		zap.Int64("warehouse_id", req.WarehouseID),
		zap.Int64("quotation_id", detail.Order.ID))
	return detail, nil
}

// RecordPayment pays part or all of a sale's outstanding balance, in cash or
// from the linked account's balance
func (o *Orchestrator) RecordPayment(ctx context.Context, req *PaymentRequest) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.RecordPayment")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = o.check(req); err != nil {
		return nil, err
	}
	if err = ledger.ValidateAmount("amount", req.Amount); err != nil {
		return nil, err
	}

	var sale *models.Order
	err = o.run(ctx, "record_payment", req.WarehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		var err error
		sale, err = tx.GetOrderForUpdate(ctx, req.WarehouseID, req.SaleID, models.OrderKindSale)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(sale.Balance) {
			return models.NewValidationError("amount",
				fmt.Sprintf("exceeds the outstanding balance %s", sale.Balance.StringFixed(ledger.MoneyPlaces)))
		}
		if req.Method == models.PaymentMethodBalance && sale.AccountID == nil {
			return models.NewValidationError("method", "sale has no account to draw balance from")
		}

		var account *models.Account
		if sale.AccountID != nil {
			if account, err = o.balance.LockAccount(ctx, tx, req.WarehouseID, *sale.AccountID); err != nil {
				return err
			}
		}

		ref := orderRef(models.OrderKindSale, sale.ID)
		if req.Method == models.PaymentMethodBalance {
			bt, updated, err := o.balance.Debit(ctx, tx, ledger.Posting{
				WarehouseID: req.WarehouseID,
				AccountID:   account.ID,
				Amount:      req.Amount,
				Description: "payment for sale " + sale.Number,
				Reference:   ref,
			})
			if err != nil {
				return err
			}
			account = updated
			u.posted(bt, account)
			sale.BalanceApplied = sale.BalanceApplied.Add(req.Amount)
		}

		payment := models.Payment{
			WarehouseID: req.WarehouseID,
			OrderID:     sale.ID,
			Method:      req.Method,
			Amount:      req.Amount,
			Reference:   models.StringRef(req.Reference),
		}
		if err := tx.CreatePayment(ctx, &payment); err != nil {
			return err
		}

		sale.AmountPaid = sale.AmountPaid.Add(req.Amount)
		sale.Balance = sale.Balance.Sub(req.Amount)
		if err := tx.UpdateOrder(ctx, sale); err != nil {
			return err
		}

		if account != nil {
			if err := o.balance.AdjustDebt(ctx, tx, account, req.Amount.Neg()); err != nil {
				return err
			}
			u.changes.Add(models.EntityAccount, account.ID)
		}

		u.orderChanged(sale, nil, []models.Payment{payment})
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Payment recorded",
		zap.Int64("sale_id", req.SaleID),
		zap.String("method", string(req.Method)),
		zap.String("amount", req.Amount.String()),
		zap.String("outstanding", sale.Balance.String()))
	return o.detail(ctx, sale)
}

// GetOrder retrieves a live order with its lines and payments
func (o *Orchestrator) GetOrder(ctx context.Context, warehouseID, orderID int64) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.GetOrder")
	defer span.End()

	order, err := o.store.GetOrder(ctx, warehouseID, orderID)
	if err != nil {
		return nil, err
	}
	return o.detail(ctx, order)
}

func (o *Orchestrator) detail(ctx context.Context, order *models.Order) (*OrderDetail, error) {
	items, err := o.store.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	payments, err := o.store.GetPayments(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.OrderItem{}
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	return &OrderDetail{Order: order, Items: items, Payments: payments}, nil
}
