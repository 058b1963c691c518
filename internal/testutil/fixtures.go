package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/amara-dev/wallet-backend/internal/domain"
	"github.com/amara-dev/wallet-backend/internal/repository"
)

// SeedUser inserts a user with the given email plus their account seeded
// at balance. The account starts with a matching income record when the
// balance is positive, so the ledger-sum invariant holds from the start.
func SeedUser(t *testing.T, db *sql.DB, email, name string, balance decimal.Decimal) (*domain.User, *domain.Account) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	a := &domain.Account{
		ID:        uuid.New(),
		UserID:    u.ID,
		Balance:   balance,
		CreatedAt: now,
	}

	_, err = db.Exec(
		`INSERT INTO users (id, email, name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}

	_, err = db.Exec(
		`INSERT INTO accounts (id, user_id, balance, created_at)
		 VALUES ($1, $2, $3, $4)`,
		a.ID, a.UserID, a.Balance, a.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed account for %s: %v", email, err)
	}

	if balance.IsPositive() {
		_, err = db.Exec(
			`INSERT INTO transactions (id, account_id, kind, amount, description, created_at)
			 VALUES ($1, $2, 'income', $3, 'opening balance', $4)`,
			uuid.New(), a.ID, balance, now,
		)
		if err != nil {
			t.Fatalf("seed opening balance for %s: %v", email, err)
		}
	}

	return u, a
}

func GetBalance(t *testing.T, db *sql.DB, accountID uuid.UUID) decimal.Decimal {
	t.Helper()

	acct, err := repository.NewAccountRepository(db).GetByID(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get balance %s: %v", accountID, err)
	}
	return acct.Balance
}

func CountTransactions(t *testing.T, db *sql.DB, accountID uuid.UUID) int {
	t.Helper()

	n, err := repository.NewTransactionRepository(db).CountByAccountID(context.Background(), accountID)
	if err != nil {
		t.Fatalf("count transactions %s: %v", accountID, err)
	}
	return n
}

// SumSignedTransactions recomputes the balance from the ledger, the way
// the ledger-sum invariant defines it.
func SumSignedTransactions(t *testing.T, db *sql.DB, accountID uuid.UUID) decimal.Decimal {
	t.Helper()

	ctx := context.Background()
	repo := repository.NewTransactionRepository(db)
	n, err := repo.CountByAccountID(ctx, accountID)
	if err != nil {
		t.Fatalf("count transactions %s: %v", accountID, err)
	}
	if n == 0 {
		return decimal.Zero
	}
	txns, err := repo.ListRecent(ctx, accountID, n)
	if err != nil {
		t.Fatalf("list transactions %s: %v", accountID, err)
	}

	sum := decimal.Zero
	for _, tx := range txns {
		sum = sum.Add(tx.Signed())
	}
	return sum
}
