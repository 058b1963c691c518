package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amara-dev/wallet-backend/internal/domain"
	"github.com/amara-dev/wallet-backend/internal/logging"
)

// Deposit credits the caller's own account and appends the matching
// income record as one atomic unit.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("Deposit: %w", domain.ErrInvalidAmount)
	}

	acct, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Deposit: %w", err)
	}

	t, err := s.applyFunding(ctx, acct.ID, domain.KindIncome, amount, description)
	if err != nil {
		return nil, fmt.Errorf("Deposit: %w", err)
	}

	logging.FromContext(ctx).Info("deposit completed",
		"transaction_id", t.ID, "account_id", acct.ID, "amount", amount)
	return t, nil
}

// Withdraw debits the caller's own account under the same conditional
// guard as a transfer debit and appends the matching expense record.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("Withdraw: %w", domain.ErrInvalidAmount)
	}

	acct, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}

	t, err := s.applyFunding(ctx, acct.ID, domain.KindExpense, amount, description)
	if err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}

	logging.FromContext(ctx).Info("withdrawal completed",
		"transaction_id", t.ID, "account_id", acct.ID, "amount", amount)
	return t, nil
}

func (s *Service) applyFunding(ctx context.Context, accountID uuid.UUID, kind domain.TransactionKind, amount decimal.Decimal, description string) (*domain.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("applyFunding: begin tx: %w", storageFault(err))
	}
	defer tx.Rollback()

	if _, err := s.accounts.GetForUpdate(ctx, tx, accountID); err != nil {
		return nil, fmt.Errorf("applyFunding: %w", storageFault(err))
	}

	switch kind {
	case domain.KindIncome:
		err = s.accounts.Credit(ctx, tx, accountID, amount)
	case domain.KindExpense:
		err = s.accounts.Debit(ctx, tx, accountID, amount)
	default:
		return nil, fmt.Errorf("applyFunding: unsupported kind %q", kind)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return nil, fmt.Errorf("applyFunding: %w", domain.ErrInsufficientFunds)
		}
		return nil, fmt.Errorf("applyFunding: %w", storageFault(err))
	}

	t := &domain.Transaction{
		ID:          uuid.New(),
		AccountID:   accountID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.transactions.Create(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("applyFunding: record: %w", storageFault(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("applyFunding: commit: %w", storageFault(err))
	}

	return t, nil
}
