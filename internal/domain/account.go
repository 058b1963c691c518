package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account holds a user's custodial balance. One account per user.
// The balance is mutated only inside a ledger transaction; the schema
// enforces balance >= 0 as a last line of defense.
type Account struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Balance   decimal.Decimal
	CreatedAt time.Time
}
