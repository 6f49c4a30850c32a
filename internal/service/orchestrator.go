package service

import (
	"context"
	"fmt"

	"warehouse-ledger/internal/ledger"
	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/store"
	"warehouse-ledger/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Orchestrator runs the order workflows. Each workflow is one unit of work
// spanning the stock ledger, the balance ledger and the sync tracker.
type Orchestrator struct {
	*Core
	salePolicy ledger.Policy
}

// NewOrchestrator creates an orchestrator; salePolicy governs sale and
// conversion decreases that exceed the available stock
func NewOrchestrator(core *Core, salePolicy ledger.Policy) *Orchestrator {
	if salePolicy == "" {
		salePolicy = ledger.PolicyReject
	}
	return &Orchestrator{Core: core, salePolicy: salePolicy}
}

// ConvertRequest represents converting a pending quotation into a sale
type ConvertRequest struct {
	WarehouseID int64           `json:"-" validate:"required"`
	QuotationID int64           `json:"-" validate:"required"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	UseBalance  bool            `json:"use_balance"`
}

// ConversionResult is the converted quotation and the sale it produced
type ConversionResult struct {
	Quotation  *models.Order      `json:"quotation"`
	Sale       *OrderDetail       `json:"sale"`
	Allocation *ledger.Allocation `json:"allocation,omitempty"`
}

// saleDraft is everything placeSale needs to write a sale
type saleDraft struct {
	warehouseID       int64
	number            string
	lines             []lineDraft
	discount          decimal.Decimal
	deposit           decimal.Decimal
	depositRef        string
	cashPaid          decimal.Decimal
	useBalance        bool
	sourceQuotationID *int64
	idempotencyKey    *string
	note              string
}

func (o *Orchestrator) lockOptionalAccount(ctx context.Context, tx store.Tx, warehouseID int64, id *int64) (*models.Account, error) {
	if id == nil {
		return nil, nil
	}
	return o.balance.LockAccount(ctx, tx, warehouseID, *id)
}

// planLines fits sale lines to the locked stock. Under the reject policy the
// lines are returned unchanged and the ledger rejects any shortfall. Under the
// clamp policy each line is cut to what is left and empty lines are dropped,
// so the recorded lines always match the stock that actually left.
func (o *Orchestrator) planLines(items map[int64]*models.InventoryItem, lines []lineDraft) ([]lineDraft, error) {
	if o.salePolicy != ledger.PolicyClamp {
		return lines, nil
	}

	remaining := make(map[int64]int, len(items))
	for id, item := range items {
		remaining[id] = item.Quantity
	}

	planned := make([]lineDraft, 0, len(lines))
	for _, l := range lines {
		available := remaining[l.itemID]
		if l.quantity > available {
			o.logger.Warn("Clamping sale line to available stock",
				zap.Int64("item_id", l.itemID),
				zap.Int("requested", l.quantity),
				zap.Int("available", available))
			l.quantity = available
			gross := l.unitPrice.Mul(decimal.NewFromInt(int64(l.quantity)))
			if l.discount.GreaterThan(gross) {
				l.discount = gross
			}
		}
		if l.quantity == 0 {
			continue
		}
		remaining[l.itemID] -= l.quantity
		planned = append(planned, l)
	}

	if len(planned) == 0 {
		return nil, &models.InsufficientStockError{
			ItemID:    lines[0].itemID,
			Available: 0,
			Requested: lines[0].quantity,
		}
	}
	return planned, nil
}

// placeSale writes a completed sale inside an open unit of work. Items and the
// account must already be locked.
func (o *Orchestrator) placeSale(ctx context.Context, tx store.Tx, u *unit, d saleDraft, items map[int64]*models.InventoryItem, account *models.Account) (*OrderDetail, *ledger.Allocation, error) {
	lines, err := o.planLines(items, d.lines)
	if err != nil {
		return nil, nil, err
	}
	sub, grand, err := totals(lines, d.discount)
	if err != nil {
		return nil, nil, err
	}
	if d.deposit.GreaterThan(grand) {
		return nil, nil, models.NewValidationError("deposit",
			fmt.Sprintf("quotation deposit %s exceeds the sale grand total %s after fitting lines to stock", d.deposit, grand))
	}
	if d.deposit.Add(d.cashPaid).GreaterThan(grand) {
		return nil, nil, models.NewValidationError("amount_paid", "exceeds the grand total")
	}

	order := &models.Order{
		WarehouseID:       d.warehouseID,
		Kind:              models.OrderKindSale,
		Number:            d.number,
		Status:            models.OrderStatusCompleted,
		SubTotal:          sub,
		Discount:          d.discount,
		GrandTotal:        grand,
		AmountPaid:        decimal.Zero,
		BalanceApplied:    decimal.Zero,
		Balance:           grand,
		SourceQuotationID: d.sourceQuotationID,
		IdempotencyKey:    d.idempotencyKey,
		Note:              d.note,
	}
	if account != nil {
		order.AccountID = &account.ID
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, nil, err
	}
	detail := &OrderDetail{Order: order}

	ref := orderRef(models.OrderKindSale, order.ID)
	for _, l := range lines {
		line := models.OrderItem{
			WarehouseID: d.warehouseID,
			OrderID:     order.ID,
			ItemID:      l.itemID,
			Quantity:    l.quantity,
			UnitPrice:   l.unitPrice,
			Discount:    l.discount,
			LineTotal:   l.total(),
		}
		if err := tx.CreateOrderItem(ctx, &line); err != nil {
			return nil, nil, err
		}
		detail.Items = append(detail.Items, line)

		movement, item, err := o.stock.Adjust(ctx, tx, ledger.Adjustment{
			WarehouseID: d.warehouseID,
			ItemID:      l.itemID,
			Type:        models.MovementDecrease,
			Magnitude:   l.quantity,
			Reason:      "sale",
			Reference:   ref,
			Policy:      ledger.PolicyReject,
		})
		if err != nil {
			return nil, nil, err
		}
		u.stockMoved(movement, item)
	}

	pay := func(method models.PaymentMethod, amount decimal.Decimal, reference string) error {
		payment := models.Payment{
			WarehouseID: d.warehouseID,
			OrderID:     order.ID,
			Method:      method,
			Amount:      amount,
			Reference:   models.StringRef(reference),
		}
		if err := tx.CreatePayment(ctx, &payment); err != nil {
			return err
		}
		detail.Payments = append(detail.Payments, payment)
		order.AmountPaid = order.AmountPaid.Add(amount)
		return nil
	}

	if d.deposit.IsPositive() {
		if err := pay(models.PaymentMethodCash, d.deposit, d.depositRef); err != nil {
			return nil, nil, err
		}
	}
	if d.cashPaid.IsPositive() {
		if err := pay(models.PaymentMethodCash, d.cashPaid, ""); err != nil {
			return nil, nil, err
		}
	}

	var alloc *ledger.Allocation
	outstanding := grand.Sub(order.AmountPaid)
	if d.useBalance && account != nil && outstanding.IsPositive() {
		alloc, err = o.balance.DebitAllocate(ctx, tx, ledger.Posting{
			WarehouseID: d.warehouseID,
			AccountID:   account.ID,
			Amount:      outstanding,
			Description: "sale " + order.Number,
			Reference:   ref,
		})
		if err != nil {
			return nil, nil, err
		}
		account = alloc.Account
		if alloc.Transaction != nil {
			u.posted(alloc.Transaction, account)
			if err := pay(models.PaymentMethodBalance, alloc.BalanceUsed, ref); err != nil {
				return nil, nil, err
			}
			order.BalanceApplied = alloc.BalanceUsed
		}
	}

	order.Balance = grand.Sub(order.AmountPaid)
	if account != nil && order.Balance.IsPositive() {
		if err := o.balance.AdjustDebt(ctx, tx, account, order.Balance); err != nil {
			return nil, nil, err
		}
		u.changes.Add(models.EntityAccount, account.ID)
	}
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return nil, nil, err
	}

	if detail.Payments == nil {
		detail.Payments = []models.Payment{}
	}
	u.orderChanged(order, detail.Items, detail.Payments)
	return detail, alloc, nil
}

// ConvertQuotationToSale turns a pending quotation into a completed sale. The
// quotation deposit carries over as a payment on the sale; the remainder is
// paid from AmountPaid, then the account balance, and what is left is owed.
func (o *Orchestrator) ConvertQuotationToSale(ctx context.Context, req *ConvertRequest) (*ConversionResult, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.ConvertQuotationToSale")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = o.check(req); err != nil {
		return nil, err
	}
	if err = checkMoney("amount_paid", req.AmountPaid); err != nil {
		return nil, err
	}

	result := &ConversionResult{}
	err = o.run(ctx, "convert_quotation", req.WarehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		q, err := tx.GetOrderForUpdate(ctx, req.WarehouseID, req.QuotationID, models.OrderKindQuotation)
		if err != nil {
			return err
		}
		if q.Status != models.OrderStatusPending {
			return models.NewConflictError("quotation %d is %s, only pending quotations can be converted", q.ID, q.Status)
		}
		if req.UseBalance && q.AccountID == nil {
			return models.NewValidationError("use_balance", "quotation has no account")
		}

		qLines, err := tx.GetOrderItems(ctx, q.ID)
		if err != nil {
			return err
		}
		if len(qLines) == 0 {
			return models.NewConflictError("quotation %d has no lines", q.ID)
		}
		ids := make([]int64, 0, len(qLines))
		lines := make([]lineDraft, 0, len(qLines))
		for _, l := range qLines {
			ids = append(ids, l.ItemID)
			lines = append(lines, lineDraft{itemID: l.ItemID, quantity: l.Quantity, unitPrice: l.UnitPrice, discount: l.Discount})
		}

		items, err := o.stock.LockItems(ctx, tx, req.WarehouseID, ids)
		if err != nil {
			return err
		}
		account, err := o.lockOptionalAccount(ctx, tx, req.WarehouseID, q.AccountID)
		if err != nil {
			return err
		}

		quotationID := q.ID
		sale, alloc, err := o.placeSale(ctx, tx, u, saleDraft{
			warehouseID:       req.WarehouseID,
			number:            newOrderNumber(models.OrderKindSale),
			lines:             lines,
			discount:          q.Discount,
			deposit:           q.AmountPaid,
			depositRef:        "deposit from quotation " + q.Number,
			cashPaid:          req.AmountPaid,
			useBalance:        req.UseBalance,
			sourceQuotationID: &quotationID,
			note:              q.Note,
		}, items, account)
		if err != nil {
			return err
		}

		q.Status = models.OrderStatusConverted
		q.ConvertedSaleID = &sale.Order.ID
		if err := tx.UpdateOrder(ctx, q); err != nil {
			return err
		}
		u.changes.Add(models.EntityOrder, q.ID)

		result.Quotation, result.Sale, result.Allocation = q, sale, alloc
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Quotation converted to sale",
		zap.Int64("quotation_id", req.QuotationID),
		zap.Int64("sale_id", result.Sale.Order.ID),
		zap.String("balance", result.Sale.Order.Balance.String()))
	return result, nil
}

// DeleteSale reverses a sale: stock returns to the shelf, balance drawn for it
// is credited back, its outstanding amount leaves the account's debt, and the
// sale with its lines and payments is soft-deleted
func (o *Orchestrator) DeleteSale(ctx context.Context, warehouseID, saleID int64) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.DeleteSale")
	var err error
	defer func() { util.EndSpan(span, err) }()

	err = o.run(ctx, "delete_sale", warehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		sale, lines, payments, err := o.lockForDelete(ctx, tx, warehouseID, saleID, models.OrderKindSale)
		if err != nil {
			return err
		}
		return o.reverseSale(ctx, tx, u, sale, lines, payments)
	})
	if err != nil {
		return err
	}

	o.logger.Info("Sale deleted", zap.Int64("warehouse_id", warehouseID), zap.Int64("sale_id", saleID))
	return nil
}

// reverseSale undoes a locked live sale inside an open unit of work
func (o *Orchestrator) reverseSale(ctx context.Context, tx store.Tx, u *unit, sale *models.Order, lines []models.OrderItem, payments []models.Payment) error {
	if _, err := o.stock.LockItems(ctx, tx, sale.WarehouseID, orderItemIDs(lines)); err != nil {
		return err
	}
	account, err := o.lockOptionalAccount(ctx, tx, sale.WarehouseID, sale.AccountID)
	if err != nil {
		return err
	}

	ref := orderRef(models.OrderKindSale, sale.ID)
	for _, l := range lines {
		movement, item, err := o.stock.Adjust(ctx, tx, ledger.Adjustment{
			WarehouseID: sale.WarehouseID,
			ItemID:      l.ItemID,
			Type:        models.MovementIncrease,
			Magnitude:   l.Quantity,
			Reason:      "sale deleted",
			Reference:   ref,
			Policy:      ledger.PolicyReject,
		})
		if err != nil {
			return err
		}
		u.stockMoved(movement, item)
	}

	if account != nil {
		if sale.BalanceApplied.IsPositive() {
			bt, updated, err := o.balance.Credit(ctx, tx, ledger.Posting{
				WarehouseID: sale.WarehouseID,
				AccountID:   account.ID,
				Amount:      sale.BalanceApplied,
				Description: "refund for deleted sale " + sale.Number,
				Reference:   ref,
			})
			if err != nil {
				return err
			}
			account = updated
			u.posted(bt, account)
		}
		if sale.Balance.IsPositive() {
			if err := o.balance.AdjustDebt(ctx, tx, account, sale.Balance.Neg()); err != nil {
				return err
			}
			u.changes.Add(models.EntityAccount, account.ID)
		}
	}

	return o.softDelete(ctx, tx, u, sale, lines, payments)
}

// DeletePurchase reverses a purchase. Stock that has already been sold cannot
// be taken back, so a shortfall rejects the deletion. Each item's cost falls
// back to the newest remaining purchase price; an item with no other purchase
// keeps its cost.
func (o *Orchestrator) DeletePurchase(ctx context.Context, warehouseID, purchaseID int64) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.DeletePurchase")
	var err error
	defer func() { util.EndSpan(span, err) }()

	err = o.run(ctx, "delete_purchase", warehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		purchase, lines, payments, err := o.lockForDelete(ctx, tx, warehouseID, purchaseID, models.OrderKindPurchase)
		if err != nil {
			return err
		}
		if _, err := o.stock.LockItems(ctx, tx, warehouseID, orderItemIDs(lines)); err != nil {
			return err
		}

		ref := orderRef(models.OrderKindPurchase, purchase.ID)
		touched := make(map[int64]*models.InventoryItem, len(lines))
		for _, l := range lines {
			movement, item, err := o.stock.Adjust(ctx, tx, ledger.Adjustment{
				WarehouseID: warehouseID,
				ItemID:      l.ItemID,
				Type:        models.MovementDecrease,
				Magnitude:   l.Quantity,
				Reason:      "purchase deleted",
				Reference:   ref,
				Policy:      ledger.PolicyReject,
			})
			if err != nil {
				return err
			}
			u.stockMoved(movement, item)
			touched[item.ID] = item
		}

		if err := o.softDelete(ctx, tx, u, purchase, lines, payments); err != nil {
			return err
		}
		return o.restoreCosts(ctx, tx, touched)
	})
	if err != nil {
		return err
	}

	o.logger.Info("Purchase deleted", zap.Int64("warehouse_id", warehouseID), zap.Int64("purchase_id", purchaseID))
	return nil
}

// restoreCosts resets item costs after a purchase was soft-deleted
func (o *Orchestrator) restoreCosts(ctx context.Context, tx store.Tx, items map[int64]*models.InventoryItem) error {
	for _, item := range items {
		price, err := tx.LastPurchasePrice(ctx, item.ID)
		if err != nil {
			return err
		}
		if price == nil || price.Equal(item.Cost) {
			continue
		}
		item.Cost = *price
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// DeleteQuotation soft-deletes a quotation. Deleting a converted quotation
// also reverses the sale it produced, unless that sale is already deleted.
func (o *Orchestrator) DeleteQuotation(ctx context.Context, warehouseID, quotationID int64) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.DeleteQuotation")
	var err error
	defer func() { util.EndSpan(span, err) }()

	err = o.run(ctx, "delete_quotation", warehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		q, lines, payments, err := o.lockForDelete(ctx, tx, warehouseID, quotationID, models.OrderKindQuotation)
		if err != nil {
			return err
		}
		if q.Status == models.OrderStatusConverted && q.ConvertedSaleID != nil {
			sale, saleLines, salePayments, err := o.lockForDelete(ctx, tx, warehouseID, *q.ConvertedSaleID, models.OrderKindSale)
			switch {
			case models.IsNotFound(err):
			case err != nil:
				return err
			default:
				if err := o.reverseSale(ctx, tx, u, sale, saleLines, salePayments); err != nil {
					return err
				}
			}
		}
		return o.softDelete(ctx, tx, u, q, lines, payments)
	})
	if err != nil {
		return err
	}

	o.logger.Info("Quotation deleted", zap.Int64("warehouse_id", warehouseID), zap.Int64("quotation_id", quotationID))
	return nil
}

func (o *Orchestrator) lockForDelete(ctx context.Context, tx store.Tx, warehouseID, id int64, kind models.OrderKind) (*models.Order, []models.OrderItem, []models.Payment, error) {
	order, err := tx.GetOrderForUpdate(ctx, warehouseID, id, kind)
	if err != nil {
		return nil, nil, nil, err
	}
	lines, err := tx.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	payments, err := tx.GetPayments(ctx, order.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return order, lines, payments, nil
}

func (o *Orchestrator) softDelete(ctx context.Context, tx store.Tx, u *unit, order *models.Order, lines []models.OrderItem, payments []models.Payment) error {
	if err := tx.SoftDeleteOrderItems(ctx, order.ID); err != nil {
		return fmt.Errorf("failed to delete order items: %w", err)
	}
	if err := tx.SoftDeletePayments(ctx, order.ID); err != nil {
		return fmt.Errorf("failed to delete payments: %w", err)
	}

	now := tx.Now()
	order.Status = models.OrderStatusDeleted
	order.DeletedAt = &now
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return err
	}
	u.orderChanged(order, lines, payments)
	return nil
}

func orderItemIDs(lines []models.OrderItem) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ItemID)
	}
	return ids
}
