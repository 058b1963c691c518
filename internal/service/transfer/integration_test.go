package transfer_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amara-dev/wallet-backend/internal/domain"
	"github.com/amara-dev/wallet-backend/internal/notify"
	"github.com/amara-dev/wallet-backend/internal/repository"
	"github.com/amara-dev/wallet-backend/internal/service/transfer"
	"github.com/amara-dev/wallet-backend/internal/testutil"
)

func setupService(t *testing.T, db *sql.DB, hub *notify.Hub) *transfer.Service {
	t.Helper()
	return transfer.NewService(
		repository.NewUserRepository(db),
		repository.NewAccountRepository(db),
		repository.NewTransactionRepository(db),
		hub,
		db,
	)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireBalance(t *testing.T, db *sql.DB, accountID uuid.UUID, want string) {
	t.Helper()
	got := testutil.GetBalance(t, db, accountID)
	require.True(t, dec(want).Equal(got), "balance: want %s, got %s", want, got)
}

func TestExecute_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	hub := notify.NewHub()
	defer hub.Close()
	svc := setupService(t, db, hub)
	ctx := context.Background()

	sender, senderAcct := testutil.SeedUser(t, db, "sender@test.com", "Sender", dec("100"))
	recipient, recipientAcct := testutil.SeedUser(t, db, "recipient@test.com", "Recipient", dec("10"))

	senderSub := notify.NewSubscriber()
	recipientSub := notify.NewSubscriber()
	hub.Subscribe(sender.ID, senderSub)
	hub.Subscribe(recipient.ID, recipientSub)

	res, err := svc.Execute(ctx, transfer.Request{
		SenderUserID:   sender.ID,
		RecipientEmail: "recipient@test.com",
		Amount:         dec("40"),
		Description:    "lunch",
	})
	require.NoError(t, err)

	requireBalance(t, db, senderAcct.ID, "60")
	requireBalance(t, db, recipientAcct.ID, "50")

	// Exactly one leg per party, cross-referencing each other.
	assert.Equal(t, domain.KindTransferSent, res.Debit.Kind)
	assert.Equal(t, domain.KindTransferReceived, res.Credit.Kind)
	assert.True(t, res.Debit.Amount.Equal(res.Credit.Amount))
	require.NotNil(t, res.Debit.CounterpartyAccountID)
	require.NotNil(t, res.Credit.CounterpartyAccountID)
	assert.Equal(t, recipientAcct.ID, *res.Debit.CounterpartyAccountID)
	assert.Equal(t, senderAcct.ID, *res.Credit.CounterpartyAccountID)

	// Each account gains one record on top of its opening-balance row.
	assert.Equal(t, 2, testutil.CountTransactions(t, db, senderAcct.ID))
	assert.Equal(t, 2, testutil.CountTransactions(t, db, recipientAcct.ID))

	// Ledger and balance never diverge.
	assert.True(t, testutil.SumSignedTransactions(t, db, senderAcct.ID).Equal(dec("60")))
	assert.True(t, testutil.SumSignedTransactions(t, db, recipientAcct.ID).Equal(dec("50")))

	sentEvent := receiveEvent(t, senderSub)
	assert.Equal(t, domain.DirectionSent, sentEvent.Direction)
	assert.Equal(t, "recipient@test.com", sentEvent.Counterparty)
	assert.True(t, sentEvent.Amount.Equal(dec("40")))

	receivedEvent := receiveEvent(t, recipientSub)
	assert.Equal(t, domain.DirectionReceived, receivedEvent.Direction)
	assert.Equal(t, "sender@test.com", receivedEvent.Counterparty)
	assert.True(t, receivedEvent.Amount.Equal(dec("40")))
}

func receiveEvent(t *testing.T, sub *notify.Subscriber) domain.TransferCompleted {
	t.Helper()

	select {
	case payload := <-sub.Events():
		var env struct {
			Event string                   `json:"event"`
			Data  domain.TransferCompleted `json:"data"`
		}
		require.NoError(t, json.Unmarshal(payload, &env))
		require.Equal(t, transfer.EventTransferCompleted, env.Event)
		return env.Data
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return domain.TransferCompleted{}
	}
}

func TestExecute_InsufficientFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupService(t, db, notify.NewHub())
	ctx := context.Background()

	sender, senderAcct := testutil.SeedUser(t, db, "sender@test.com", "Sender", dec("30"))
	_, recipientAcct := testutil.SeedUser(t, db, "recipient@test.com", "Recipient", dec("0"))

	_, err := svc.Execute(ctx, transfer.Request{
		SenderUserID:   sender.ID,
		RecipientEmail: "recipient@test.com",
		Amount:         dec("40"),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	requireBalance(t, db, senderAcct.ID, "30")
	requireBalance(t, db, recipientAcct.ID, "0")
	assert.Equal(t, 1, testutil.CountTransactions(t, db, senderAcct.ID))
	assert.Equal(t, 0, testutil.CountTransactions(t, db, recipientAcct.ID))
}

func TestExecute_RecipientNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupService(t, db, notify.NewHub())
	ctx := context.Background()

	sender, senderAcct := testutil.SeedUser(t, db, "sender@test.com", "Sender", dec("100"))

	_, err := svc.Execute(ctx, transfer.Request{
		SenderUserID:   sender.ID,
		RecipientEmail: "nobody@test.com",
		Amount:         dec("40"),
	})
	require.ErrorIs(t, err, domain.ErrRecipientNotFound)

	requireBalance(t, db, senderAcct.ID, "100")
	assert.Equal(t, 1, testutil.CountTransactions(t, db, senderAcct.ID))
}

func TestExecute_SelfTransfer(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupService(t, db, notify.NewHub())
	ctx := context.Background()

	sender, senderAcct := testutil.SeedUser(t, db, "sender@test.com", "Sender", dec("100"))

	_, err := svc.Execute(ctx, transfer.Request{
		SenderUserID:   sender.ID,
		RecipientEmail: "sender@test.com",
		Amount:         dec("40"),
	})
	require.ErrorIs(t, err, domain.ErrSelfTransfer)

	requireBalance(t, db, senderAcct.ID, "100")
	assert.Equal(t, 1, testutil.CountTransactions(t, db, senderAcct.ID))
}

func TestExecute_InvalidAmount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupService(t, db, notify.NewHub())
	ctx := context.Background()

	sender, senderAcct := testutil.SeedUser(t, db, "sender@test.com", "Sender", dec("100"))
	testutil.SeedUser(t, db, "recipient@test.com", "Recipient", dec("0"))

	for _, amount := range []string{"0", "-40"} {
		_, err := svc.Execute(ctx, transfer.Request{
			SenderUserID:   sender.ID,
			RecipientEmail: "recipient@test.com",
			Amount:         dec(amount),
		})
		require.ErrorIs(t, err, domain.ErrInvalidAmount, "amount %s", amount)
	}

	requireBalance(t, db, senderAcct.ID, "100")
}

// Concurrent transfers debiting one account must serialize on it: each
// succeeds only while cumulative debits fit the starting balance, and
// the final balance reflects exactly the successful count.
func TestExecute_ConcurrentOverdraft(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupService(t, db, notify.NewHub())
	ctx := context.Background()

	sender, senderAcct := testutil.SeedUser(t, db, "sender@test.com", "Sender", dec("100"))
	_, recipientAcct := testutil.SeedUser(t, db, "recipient@test.com", "Recipient", dec("0"))

	const attempts = 5
	amount := dec("40")

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Execute(ctx, transfer.Request{
				SenderUserID:   sender.ID,
				RecipientEmail: "recipient@test.com",
				Amount:         amount,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, overdrafts int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		default:
			require.ErrorIs(t, err, domain.ErrInsufficientFunds)
			overdrafts++
		}
	}

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, attempts-2, overdrafts)

	// No lost updates: 100 - 2*40 on one side, 2*40 on the other.
	requireBalance(t, db, senderAcct.ID, "20")
	requireBalance(t, db, recipientAcct.ID, "80")

	// Conservation: total value across accounts is unchanged.
	total := testutil.GetBalance(t, db, senderAcct.ID).Add(testutil.GetBalance(t, db, recipientAcct.ID))
	assert.True(t, total.Equal(dec("100")))
}

func TestDeposit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupService(t, db, notify.NewHub())
	ctx := context.Background()

	user, acct := testutil.SeedUser(t, db, "user@test.com", "User", dec("0"))

	txn, err := svc.Deposit(ctx, user.ID, dec("25.50"), "top up")
	require.NoError(t, err)
	assert.Equal(t, domain.KindIncome, txn.Kind)
	assert.Nil(t, txn.CounterpartyAccountID)

	requireBalance(t, db, acct.ID, "25.5")
	assert.True(t, testutil.SumSignedTransactions(t, db, acct.ID).Equal(dec("25.5")))
}

func TestWithdraw(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupService(t, db, notify.NewHub())
	ctx := context.Background()

	user, acct := testutil.SeedUser(t, db, "user@test.com", "User", dec("50"))

	txn, err := svc.Withdraw(ctx, user.ID, dec("20"), "cash out")
	require.NoError(t, err)
	assert.Equal(t, domain.KindExpense, txn.Kind)
	requireBalance(t, db, acct.ID, "30")

	_, err = svc.Withdraw(ctx, user.ID, dec("30.01"), "too much")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	requireBalance(t, db, acct.ID, "30")
}
