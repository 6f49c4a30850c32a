package service

import (
	"context"
	"testing"

	"warehouse-ledger/internal/ledger"
	"warehouse-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccountWithOpeningBalance(t *testing.T) {
	e := newTestEnv(t, ledger.PolicyReject)
	ctx := context.Background()

	id := e.account(t, "CUST-1", "100")

	txns, err := e.balance.ListTransactions(ctx, e.warehouseID, id)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, models.PostingCredit, txns[0].Kind)
	assertDec(t, "100", txns[0].BalanceAfter)

	empty := e.account(t, "CUST-2", "0")
	txns, err = e.balance.ListTransactions(ctx, e.warehouseID, empty)
	require.NoError(t, err)
	assert.NotNil(t, txns)
	assert.Empty(t, txns)

	_, err = e.balance.CreateAccount(ctx, &CreateAccountRequest{WarehouseID: e.warehouseID, Code: "CUST-1", Name: "dup"})
	assert.True(t, models.IsConflict(err))
}

func TestWithdrawIsStrict(t *testing.T) {
	e := newTestEnv(t, ledger.PolicyReject)
	ctx := context.Background()
	id := e.account(t, "CUST-1", "20")

	_, err := e.balance.Withdraw(ctx, &PostingRequest{WarehouseID: e.warehouseID, AccountID: id, Amount: dec("25"), Description: "cash out"})
	assert.True(t, models.IsValidation(err))
	assertDec(t, "20", e.getAccount(t, id).Balance)

	res, err := e.balance.Withdraw(ctx, &PostingRequest{WarehouseID: e.warehouseID, AccountID: id, Amount: dec("20"), Description: "cash out"})
	require.NoError(t, err)
	assert.True(t, res.Account.Balance.IsZero())
	e.assertLedgersConsistent(t)
}

func TestStandaloneDebitAllocateLeavesDebtToCaller(t *testing.T) {
	e := newTestEnv(t, ledger.PolicyReject)
	ctx := context.Background()
	id := e.account(t, "CUST-1", "30")

	alloc, err := e.balance.DebitAllocate(ctx, &PostingRequest{WarehouseID: e.warehouseID, AccountID: id, Amount: dec("50"), Description: "invoice 7"})
	require.NoError(t, err)
	assertDec(t, "30", alloc.BalanceUsed)
	assertDec(t, "20", alloc.DebtCreated)
	require.NotNil(t, alloc.Transaction)

	account := e.getAccount(t, id)
	assert.True(t, account.Balance.IsZero())
	assert.True(t, account.Debt.IsZero())

	alloc, err = e.balance.DebitAllocate(ctx, &PostingRequest{WarehouseID: e.warehouseID, AccountID: id, Amount: dec("5"), Description: "invoice 8"})
	require.NoError(t, err)
	assert.Nil(t, alloc.Transaction)
	assertDec(t, "5", alloc.DebtCreated)
}

func TestCreditMarksAccountDiverged(t *testing.T) {
	e := newTestEnv(t, ledger.PolicyReject)
	ctx := context.Background()
	id := e.account(t, "CUST-1", "0")

	before, _ := e.publisher.counts()
	_, err := e.balance.Credit(ctx, &PostingRequest{WarehouseID: e.warehouseID, AccountID: id, Amount: dec("12.5"), Description: "deposit"})
	require.NoError(t, err)

	after, _ := e.publisher.counts()
	require.Equal(t, before+1, after)
	event := e.publisher.diverged[after-1]
	assert.Equal(t, "credit", event.Operation)
	assert.Contains(t, event.Refs, models.EntityRef{Type: models.EntityAccount, ID: id})

	txns, err := e.store.ListDiverged(ctx, models.EntityBalanceTransaction, 0)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}
