package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindIncome           TransactionKind = "income"
	KindExpense          TransactionKind = "expense"
	KindTransferSent     TransactionKind = "transfer_sent"
	KindTransferReceived TransactionKind = "transfer_received"
)

// Transaction is one immutable leg of a balance change. Transfers write
// two legs (transfer_sent + transfer_received) that reference each other
// through CounterpartyAccountID; deposits and withdrawals write one.
type Transaction struct {
	ID                    uuid.UUID
	AccountID             uuid.UUID
	Kind                  TransactionKind
	Amount                decimal.Decimal
	CounterpartyAccountID *uuid.UUID
	Description           string
	CreatedAt             time.Time
}

// Signed returns the amount with the sign it contributes to the owning
// account's balance.
func (t Transaction) Signed() decimal.Decimal {
	switch t.Kind {
	case KindExpense, KindTransferSent:
		return t.Amount.Neg()
	default:
		return t.Amount
	}
}

// DailyTotal is one row of the income/expense chart aggregation. Sides
// with no transactions on a given day are zero, not absent.
type DailyTotal struct {
	Date    time.Time
	Income  decimal.Decimal
	Expense decimal.Decimal
}
