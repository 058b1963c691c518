// Package transfer implements the transfer engine: validation and
// all-or-nothing execution of balance movements, with best-effort
// notification after commit.
package transfer

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amara-dev/wallet-backend/internal/domain"
)

type userRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type accountRepo interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error)
	Debit(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal) error
	Credit(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal) error
}

type transactionRepo interface {
	Create(ctx context.Context, tx *sql.Tx, t *domain.Transaction) error
}

// notifier is the post-commit event sink. The engine owns no delivery
// guarantees; publish failures stay inside the implementation.
type notifier interface {
	Publish(userID uuid.UUID, event string, data any)
}

type Service struct {
	users        userRepo
	accounts     accountRepo
	transactions transactionRepo
	notify       notifier
	db           *sql.DB
}

func NewService(
	users userRepo,
	accounts accountRepo,
	transactions transactionRepo,
	notify notifier,
	db *sql.DB,
) *Service {
	return &Service{
		users:        users,
		accounts:     accounts,
		transactions: transactions,
		notify:       notify,
		db:           db,
	}
}

// lockAccountsInOrder takes FOR UPDATE locks on both accounts in
// ascending ID order so two opposing transfers cannot deadlock.
func lockAccountsInOrder(ctx context.Context, tx *sql.Tx, accounts accountRepo, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	sorted := make([]uuid.UUID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	result := make(map[uuid.UUID]*domain.Account, len(ids))
	for _, id := range sorted {
		acct, err := accounts.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("lockAccountsInOrder: %w", err)
		}
		result[id] = acct
	}
	return result, nil
}
