package service

import (
	"context"

	"warehouse-ledger/internal/ledger"
	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/store"
	"warehouse-ledger/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceService is the stand-alone entry point to the balance ledger
type BalanceService struct {
	*Core
}

// NewBalanceService creates a new balance service
func NewBalanceService(core *Core) *BalanceService {
	return &BalanceService{Core: core}
}

// CreateAccountRequest represents a request to open a customer account
type CreateAccountRequest struct {
	WarehouseID    int64           `json:"-" validate:"required"`
	Code           string          `json:"code" validate:"required,max=64"`
	Name           string          `json:"name" validate:"required,max=255"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// PostingRequest represents a deposit, withdrawal or allocation against an account
type PostingRequest struct {
	WarehouseID int64           `json:"-" validate:"required"`
	AccountID   int64           `json:"-" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"required,max=255"`
	Reference   string          `json:"reference" validate:"max=255"`
}

func (r *PostingRequest) posting() ledger.Posting {
	return ledger.Posting{
		WarehouseID: r.WarehouseID,
		AccountID:   r.AccountID,
		Amount:      r.Amount,
		Description: r.Description,
		Reference:   r.Reference,
	}
}

// BalanceResult is an account together with the posting that produced its balance
type BalanceResult struct {
	Account     *models.Account            `json:"account"`
	Transaction *models.BalanceTransaction `json:"transaction,omitempty"`
}

// CreateAccount opens an account; a positive opening balance is recorded as a credit
func (s *BalanceService) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*BalanceResult, error) {
	ctx, span := util.StartSpan(ctx, "BalanceService.CreateAccount")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = s.check(req); err != nil {
		return nil, err
	}
	if req.OpeningBalance.IsNegative() {
		err = models.NewValidationError("opening_balance", "must not be negative")
		return nil, err
	}
	if req.OpeningBalance.IsPositive() {
		if err = ledger.ValidateAmount("opening_balance", req.OpeningBalance); err != nil {
			return nil, err
		}
	}

	result := &BalanceResult{}
	err = s.run(ctx, "create_account", req.WarehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		account := &models.Account{WarehouseID: req.WarehouseID, Code: req.Code, Name: req.Name}
		if err := tx.CreateAccount(ctx, account); err != nil {
			return err
		}
		u.changes.Add(models.EntityAccount, account.ID)
		result.Account = account

		if !req.OpeningBalance.IsPositive() {
			return nil
		}
		bt, updated, err := s.balance.Credit(ctx, tx, ledger.Posting{
			WarehouseID: req.WarehouseID,
			AccountID:   account.ID,
			Amount:      req.OpeningBalance,
			Description: "opening balance",
		})
		if err != nil {
			return err
		}
		u.posted(bt, updated)
		result.Account, result.Transaction = updated, bt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account created",
		zap.Int64("warehouse_id", req.WarehouseID),
		zap.Int64("account_id", result.Account.ID))
	return result, nil
}

// Credit deposits money into an account
func (s *BalanceService) Credit(ctx context.Context, req *PostingRequest) (*BalanceResult, error) {
	ctx, span := util.StartSpan(ctx, "BalanceService.Credit")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = s.checkPosting(req); err != nil {
		return nil, err
	}

	result := &BalanceResult{}
	err = s.run(ctx, "credit", req.WarehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		bt, account, err := s.balance.Credit(ctx, tx, req.posting())
		if err != nil {
			return err
		}
		u.posted(bt, account)
		result.Account, result.Transaction = account, bt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account credited",
		zap.Int64("account_id", req.AccountID),
		zap.String("amount", req.Amount.String()),
		zap.String("balance", result.Account.Balance.String()))
	return result, nil
}

// Withdraw takes money out of an account; it never creates debt
func (s *BalanceService) Withdraw(ctx context.Context, req *PostingRequest) (*BalanceResult, error) {
	ctx, span := util.StartSpan(ctx, "BalanceService.Withdraw")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = s.checkPosting(req); err != nil {
		return nil, err
	}

	result := &BalanceResult{}
	err = s.run(ctx, "withdraw", req.WarehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		bt, account, err := s.balance.Debit(ctx, tx, req.posting())
		if err != nil {
			return err
		}
		u.posted(bt, account)
		result.Account, result.Transaction = account, bt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account debited",
		zap.Int64("account_id", req.AccountID),
		zap.String("amount", req.Amount.String()))
	return result, nil
}

// DebitAllocate draws what the balance covers and reports the shortfall.
// The shortfall is not booked as account debt; the caller owns it.
func (s *BalanceService) DebitAllocate(ctx context.Context, req *PostingRequest) (*ledger.Allocation, error) {
	ctx, span := util.StartSpan(ctx, "BalanceService.DebitAllocate")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = s.checkPosting(req); err != nil {
		return nil, err
	}

	var alloc *ledger.Allocation
	err = s.run(ctx, "debit_allocate", req.WarehouseID, func(ctx context.Context, tx store.Tx, u *unit) error {
		var err error
		alloc, err = s.balance.DebitAllocate(ctx, tx, req.posting())
		if err != nil {
			return err
		}
		if alloc.Transaction != nil {
			u.posted(alloc.Transaction, alloc.Account)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Balance allocated",
		zap.Int64("account_id", req.AccountID),
		zap.String("balance_used", alloc.BalanceUsed.String()),
		zap.String("debt_created", alloc.DebtCreated.String()))
	return alloc, nil
}

// GetAccount retrieves an account
func (s *BalanceService) GetAccount(ctx context.Context, warehouseID, accountID int64) (*models.Account, error) {
	ctx, span := util.StartSpan(ctx, "BalanceService.GetAccount")
	defer span.End()
	return s.store.GetAccount(ctx, warehouseID, accountID)
}

// ListTransactions lists an account's balance ledger, oldest first
func (s *BalanceService) ListTransactions(ctx context.Context, warehouseID, accountID int64) ([]models.BalanceTransaction, error) {
	ctx, span := util.StartSpan(ctx, "BalanceService.ListTransactions")
	defer span.End()

	if _, err := s.store.GetAccount(ctx, warehouseID, accountID); err != nil {
		return nil, err
	}
	txns, err := s.store.ListBalanceTransactions(ctx, warehouseID, accountID)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []models.BalanceTransaction{}
	}
	return txns, nil
}

func (s *BalanceService) checkPosting(req *PostingRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	return ledger.ValidateAmount("amount", req.Amount)
}
