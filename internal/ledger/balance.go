package ledger

import (
	"context"
	"fmt"

	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/store"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits money is stored with
const MoneyPlaces = 4

// ValidateAmount checks a posting amount: positive with at most MoneyPlaces decimals
func ValidateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return models.NewValidationError(field, "must be positive")
	}
	if !amount.Equal(amount.Truncate(MoneyPlaces)) {
		return models.NewValidationError(field, fmt.Sprintf("must have at most %d decimal places", MoneyPlaces))
	}
	return nil
}

// Posting is one request against an account's balance
type Posting struct {
	WarehouseID int64
	AccountID   int64
	Amount      decimal.Decimal
	Description string
	Reference   string
}

func (p Posting) validate() error {
	if err := ValidateAmount("amount", p.Amount); err != nil {
		return err
	}
	if p.Description == "" {
		return models.NewValidationError("description", "is required")
	}
	return nil
}

// Allocation is the result of DebitAllocate
type Allocation struct {
	BalanceUsed decimal.Decimal            `json:"balance_used"`
	DebtCreated decimal.Decimal            `json:"debt_created"`
	Transaction *models.BalanceTransaction `json:"transaction,omitempty"`
	Account     *models.Account            `json:"account"`
}

// BalanceLedger is the single writer of Account.Balance and Account.Debt.
// Every balance change appends one BalanceTransaction in the same transaction.
type BalanceLedger struct{}

// NewBalanceLedger creates a balance ledger
func NewBalanceLedger() *BalanceLedger {
	return &BalanceLedger{}
}

// LockAccount locks an account and verifies its cached balance against the ledger
func (l *BalanceLedger) LockAccount(ctx context.Context, tx store.Tx, warehouseID, id int64) (*models.Account, error) {
	account, err := tx.GetAccountForUpdate(ctx, warehouseID, id)
	if err != nil {
		return nil, err
	}

	last, err := tx.LastBalanceTransaction(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last balance transaction: %w", err)
	}
	expected := decimal.Zero
	if last != nil {
		expected = last.BalanceAfter
	}
	if !account.Balance.Equal(expected) {
		return nil, &models.ConsistencyError{
			Entity:  "account",
			ID:      account.ID,
			Message: fmt.Sprintf("cached balance %s differs from ledger balance %s", account.Balance, expected),
		}
	}
	return account, nil
}

// Credit adds amount to the account balance
func (l *BalanceLedger) Credit(ctx context.Context, tx store.Tx, p Posting) (*models.BalanceTransaction, *models.Account, error) {
	if err := p.validate(); err != nil {
		return nil, nil, err
	}
	account, err := l.LockAccount(ctx, tx, p.WarehouseID, p.AccountID)
	if err != nil {
		return nil, nil, err
	}

	bt, err := l.post(ctx, tx, account, models.PostingCredit, p.Amount, p)
	if err != nil {
		return nil, nil, err
	}
	return bt, account, nil
}

// Debit removes amount from the account balance and fails when the balance
// does not cover it
func (l *BalanceLedger) Debit(ctx context.Context, tx store.Tx, p Posting) (*models.BalanceTransaction, *models.Account, error) {
	if err := p.validate(); err != nil {
		return nil, nil, err
	}
	account, err := l.LockAccount(ctx, tx, p.WarehouseID, p.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if p.Amount.GreaterThan(account.Balance) {
		return nil, nil, models.NewValidationError("amount",
			fmt.Sprintf("exceeds available balance %s", account.Balance.StringFixed(MoneyPlaces)))
	}

	bt, err := l.post(ctx, tx, account, models.PostingDebit, p.Amount, p)
	if err != nil {
		return nil, nil, err
	}
	return bt, account, nil
}

// DebitAllocate draws as much of amount as the balance covers and reports
// the shortfall as DebtCreated. No transaction is written when the balance
// is empty. Account.Debt is left to the caller (see AdjustDebt).
func (l *BalanceLedger) DebitAllocate(ctx context.Context, tx store.Tx, p Posting) (*Allocation, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	account, err := l.LockAccount(ctx, tx, p.WarehouseID, p.AccountID)
	if err != nil {
		return nil, err
	}

	used := decimal.Min(account.Balance, p.Amount)
	alloc := &Allocation{
		BalanceUsed: used,
		DebtCreated: p.Amount.Sub(used),
		Account:     account,
	}
	if !used.IsPositive() {
		return alloc, nil
	}

	bt, err := l.post(ctx, tx, account, models.PostingDebit, used, p)
	if err != nil {
		return nil, err
	}
	alloc.Transaction = bt
	return alloc, nil
}

// AdjustDebt moves the account's debt by delta. It is the only write path
// for Account.Debt.
func (l *BalanceLedger) AdjustDebt(ctx context.Context, tx store.Tx, account *models.Account, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	next := account.Debt.Add(delta)
	if next.IsNegative() {
		return &models.ConsistencyError{
			Entity:  "account",
			ID:      account.ID,
			Message: fmt.Sprintf("debt %s cannot absorb %s", account.Debt, delta),
		}
	}

	account.Debt = next
	if err := tx.UpdateAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to update account debt: %w", err)
	}
	return nil
}

// post writes one ledger row and the matching cached balance
func (l *BalanceLedger) post(ctx context.Context, tx store.Tx, account *models.Account, kind models.PostingKind, amount decimal.Decimal, p Posting) (*models.BalanceTransaction, error) {
	before := account.Balance
	after := before.Add(amount)
	if kind == models.PostingDebit {
		after = before.Sub(amount)
	}
	if after.IsNegative() {
		return nil, &models.ConsistencyError{
			Entity:  "account",
			ID:      account.ID,
			Message: fmt.Sprintf("debit %s would overdraw balance %s", amount, before),
		}
	}

	bt := &models.BalanceTransaction{
		WarehouseID:   account.WarehouseID,
		AccountID:     account.ID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   p.Description,
		Reference:     models.StringRef(p.Reference),
	}
	if err := tx.InsertBalanceTransaction(ctx, bt); err != nil {
		return nil, fmt.Errorf("failed to insert balance transaction: %w", err)
	}

	account.Balance = bt.BalanceAfter
	if err := tx.UpdateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account balance: %w", err)
	}
	return bt, nil
}
