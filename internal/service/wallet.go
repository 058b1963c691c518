package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/amara-dev/wallet-backend/internal/domain"
	"github.com/amara-dev/wallet-backend/internal/logging"
)

// Last N transactions shown on the dashboard.
const recentTransactionLimit = 10

type userRepo interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, tx *sql.Tx, user *domain.User) error
}

type accountRepo interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	Create(ctx context.Context, tx *sql.Tx, account *domain.Account) error
}

type transactionRepo interface {
	ListRecent(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transaction, error)
	AggregateByDay(ctx context.Context, accountID uuid.UUID) ([]domain.DailyTotal, error)
}

// WalletService covers registration and the read-only projections used
// by the dashboard. All queries are scoped to the authenticated caller's
// own account.
type WalletService struct {
	users        userRepo
	accounts     accountRepo
	transactions transactionRepo
	db           *sql.DB
}

func NewWalletService(users userRepo, accounts accountRepo, transactions transactionRepo, db *sql.DB) *WalletService {
	return &WalletService{
		users:        users,
		accounts:     accounts,
		transactions: transactions,
		db:           db,
	}
}

// Register creates the user and their zero-balance account in one
// transaction; a user never exists without an account.
func (s *WalletService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("Register: hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	account := &domain.Account{
		ID:        uuid.New(),
		UserID:    user.ID,
		Balance:   decimal.Zero,
		CreatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Register: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.users.Create(ctx, tx, user); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}
	if err := s.accounts.Create(ctx, tx, account); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Register: commit: %w", err)
	}

	logging.FromContext(ctx).Info("user registered",
		"user_id", user.ID, "account_id", account.ID)

	return user, nil
}

type Snapshot struct {
	Account      *domain.Account
	Transactions []domain.Transaction
}

func (s *WalletService) Snapshot(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	acct, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Snapshot: %w", err)
	}

	txns, err := s.transactions.ListRecent(ctx, acct.ID, recentTransactionLimit)
	if err != nil {
		return nil, fmt.Errorf("Snapshot: %w", err)
	}

	return &Snapshot{Account: acct, Transactions: txns}, nil
}

func (s *WalletService) ChartSeries(ctx context.Context, userID uuid.UUID) ([]domain.DailyTotal, error) {
	acct, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ChartSeries: %w", err)
	}

	totals, err := s.transactions.AggregateByDay(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("ChartSeries: %w", err)
	}
	return totals, nil
}
