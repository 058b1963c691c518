package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/amara-dev/wallet-backend/internal/domain"
)

const transactionColumns = `id, account_id, kind, amount, counterparty_account_id,
	description, created_at`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *sql.Tx, t *domain.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (
			id, account_id, kind, amount, counterparty_account_id, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.AccountID, t.Kind, t.Amount, t.CounterpartyAccountID,
		t.Description, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TransactionRepository) ListRecent(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListRecent: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRecent: scan: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRecent: rows: %w", err)
	}
	return txns, nil
}

func (r *TransactionRepository) CountByAccountID(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountByAccountID: %w", err)
	}
	return n, nil
}

// AggregateByDay groups the account's transactions by calendar day, date
// ascending. Credits (income, transfer_received) land on the income side,
// debits (expense, transfer_sent) on the expense side; a day with only one
// side sums the other to zero.
func (r *TransactionRepository) AggregateByDay(ctx context.Context, accountID uuid.UUID) ([]domain.DailyTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DATE(created_at) AS day,
			COALESCE(SUM(CASE WHEN kind IN ('income', 'transfer_received') THEN amount ELSE 0 END), 0) AS income,
			COALESCE(SUM(CASE WHEN kind IN ('expense', 'transfer_sent') THEN amount ELSE 0 END), 0) AS expense
		FROM transactions
		WHERE account_id = $1
		GROUP BY DATE(created_at)
		ORDER BY DATE(created_at)`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("AggregateByDay: %w", err)
	}
	defer rows.Close()

	var totals []domain.DailyTotal
	for rows.Next() {
		var d domain.DailyTotal
		if err := rows.Scan(&d.Date, &d.Income, &d.Expense); err != nil {
			return nil, fmt.Errorf("AggregateByDay: scan: %w", err)
		}
		totals = append(totals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("AggregateByDay: rows: %w", err)
	}
	return totals, nil
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.Scan(
		&t.ID, &t.AccountID, &t.Kind, &t.Amount,
		&t.CounterpartyAccountID, &t.Description, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
