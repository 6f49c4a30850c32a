package ledger

import (
	"context"
	"testing"

	"warehouse-ledger/internal/models"
	"warehouse-ledger/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccount(t *testing.T, s *store.MemStore, warehouseID int64, code string) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		a := &models.Account{WarehouseID: warehouseID, Code: code, Name: code}
		if err := tx.CreateAccount(ctx, a); err != nil {
			return err
		}
		id = a.ID
		return nil
	}))
	return id
}

func inTx(t *testing.T, s *store.MemStore, fn func(ctx context.Context, tx store.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	return s.RunInTx(ctx, func(tx store.Tx) error { return fn(ctx, tx) })
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreditAndDebitAllocate(t *testing.T) {
	s, wid := setupWarehouse(t)
	accountID := seedAccount(t, s, wid, "C-1")
	l := NewBalanceLedger()

	var credit *models.BalanceTransaction
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		var err error
		credit, _, err = l.Credit(ctx, tx, Posting{
			WarehouseID: wid, AccountID: accountID, Amount: dec("100"), Description: "deposit",
		})
		return err
	}))
	assert.Equal(t, models.PostingCredit, credit.Kind)
	assert.True(t, credit.Amount.Equal(dec("100")))
	assert.True(t, credit.BalanceAfter.Equal(dec("100")))

	var alloc *Allocation
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		var err error
		alloc, err = l.DebitAllocate(ctx, tx, Posting{
			WarehouseID: wid, AccountID: accountID, Amount: dec("150"), Description: "purchase",
		})
		return err
	}))
	assert.True(t, alloc.BalanceUsed.Equal(dec("100")))
	assert.True(t, alloc.DebtCreated.Equal(dec("50")))
	require.NotNil(t, alloc.Transaction)
	assert.Equal(t, models.PostingDebit, alloc.Transaction.Kind)
	assert.True(t, alloc.Transaction.Amount.Equal(dec("100")))
	assert.True(t, alloc.Transaction.BalanceAfter.IsZero())

	account, err := s.GetAccount(context.Background(), wid, accountID)
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())
	// debt is the caller's decision
	assert.True(t, account.Debt.IsZero())

	txns, err := s.ListBalanceTransactions(context.Background(), wid, accountID)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestDebitAllocateOnEmptyBalanceWritesNothing(t *testing.T) {
	s, wid := setupWarehouse(t)
	accountID := seedAccount(t, s, wid, "C-2")
	l := NewBalanceLedger()

	var alloc *Allocation
	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		var err error
		alloc, err = l.DebitAllocate(ctx, tx, Posting{
			WarehouseID: wid, AccountID: accountID, Amount: dec("12.50"), Description: "sale",
		})
		return err
	}))
	assert.True(t, alloc.BalanceUsed.IsZero())
	assert.True(t, alloc.DebtCreated.Equal(dec("12.5")))
	assert.Nil(t, alloc.Transaction)

	txns, err := s.ListBalanceTransactions(context.Background(), wid, accountID)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestDebitIsStrict(t *testing.T) {
	s, wid := setupWarehouse(t)
	accountID := seedAccount(t, s, wid, "C-3")
	l := NewBalanceLedger()

	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, _, err := l.Credit(ctx, tx, Posting{WarehouseID: wid, AccountID: accountID, Amount: dec("20"), Description: "deposit"})
		return err
	}))

	err := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, _, err := l.Debit(ctx, tx, Posting{WarehouseID: wid, AccountID: accountID, Amount: dec("20.01"), Description: "withdrawal"})
		return err
	})
	assert.True(t, models.IsValidation(err))

	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, account, err := l.Debit(ctx, tx, Posting{WarehouseID: wid, AccountID: accountID, Amount: dec("20"), Description: "withdrawal"})
		if err == nil {
			assert.True(t, account.Balance.IsZero())
		}
		return err
	}))
}

func TestPostingValidation(t *testing.T) {
	s, wid := setupWarehouse(t)
	accountID := seedAccount(t, s, wid, "C-4")
	l := NewBalanceLedger()

	for _, p := range []Posting{
		{WarehouseID: wid, AccountID: accountID, Amount: dec("0"), Description: "x"},
		{WarehouseID: wid, AccountID: accountID, Amount: dec("-5"), Description: "x"},
		{WarehouseID: wid, AccountID: accountID, Amount: dec("1.00001"), Description: "x"},
		{WarehouseID: wid, AccountID: accountID, Amount: dec("5")},
	} {
		err := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
			_, _, err := l.Credit(ctx, tx, p)
			return err
		})
		assert.True(t, models.IsValidation(err), "posting %+v", p)
	}
}

func TestAdjustDebt(t *testing.T) {
	s, wid := setupWarehouse(t)
	accountID := seedAccount(t, s, wid, "C-5")
	l := NewBalanceLedger()

	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		account, err := l.LockAccount(ctx, tx, wid, accountID)
		if err != nil {
			return err
		}
		return l.AdjustDebt(ctx, tx, account, dec("30"))
	}))

	err := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		account, err := l.LockAccount(ctx, tx, wid, accountID)
		if err != nil {
			return err
		}
		return l.AdjustDebt(ctx, tx, account, dec("-31"))
	})
	assert.True(t, models.IsConsistency(err))

	account, err := s.GetAccount(context.Background(), wid, accountID)
	require.NoError(t, err)
	assert.True(t, account.Debt.Equal(dec("30")))
}

func TestLockAccountDetectsDrift(t *testing.T) {
	s, wid := setupWarehouse(t)
	accountID := seedAccount(t, s, wid, "C-6")
	l := NewBalanceLedger()

	require.NoError(t, inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		account, err := tx.GetAccountForUpdate(ctx, wid, accountID)
		if err != nil {
			return err
		}
		account.Balance = dec("5")
		return tx.UpdateAccount(ctx, account)
	}))

	err := inTx(t, s, func(ctx context.Context, tx store.Tx) error {
		_, _, err := l.Credit(ctx, tx, Posting{WarehouseID: wid, AccountID: accountID, Amount: dec("1"), Description: "deposit"})
		return err
	})
	assert.True(t, models.IsConsistency(err))
}

func TestBalanceMatchesLedgerSum(t *testing.T) {
	s, wid := setupWarehouse(t)
	accountID := seedAccount(t, s, wid, "C-7")
	l := NewBalanceLedger()

	steps := []func(ctx context.Context, tx store.Tx) error{
		func(ctx context.Context, tx store.Tx) error {
			_, _, err := l.Credit(ctx, tx, Posting{WarehouseID: wid, AccountID: accountID, Amount: dec("40.25"), Description: "deposit"})
			return err
		},
		func(ctx context.Context, tx store.Tx) error {
			_, err := l.DebitAllocate(ctx, tx, Posting{WarehouseID: wid, AccountID: accountID, Amount: dec("10"), Description: "sale"})
			return err
		},
		func(ctx context.Context, tx store.Tx) error {
			_, _, err := l.Credit(ctx, tx, Posting{WarehouseID: wid, AccountID: accountID, Amount: dec("5"), Description: "refund"})
			return err
		},
		func(ctx context.Context, tx store.Tx) error {
			_, err := l.DebitAllocate(ctx, tx, Posting{WarehouseID: wid, AccountID: accountID, Amount: dec("100"), Description: "sale"})
			return err
		},
	}
	for _, step := range steps {
		require.NoError(t, inTx(t, s, step))
	}

	txns, err := s.ListBalanceTransactions(context.Background(), wid, accountID)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, bt := range txns {
		if bt.Kind == models.PostingCredit {
			sum = sum.Add(bt.Amount)
		} else {
			sum = sum.Sub(bt.Amount)
		}
	}

	account, err := s.GetAccount(context.Background(), wid, accountID)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(sum))
	assert.True(t, account.Balance.IsZero())
}
