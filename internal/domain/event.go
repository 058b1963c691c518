package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferDirection string

const (
	DirectionSent     TransferDirection = "sent"
	DirectionReceived TransferDirection = "received"
)

// TransferCompleted is published to each party after a transfer commits.
// Delivery is best-effort: a lost event never implies a lost transfer.
type TransferCompleted struct {
	Direction    TransferDirection `json:"direction"`
	Amount       decimal.Decimal   `json:"amount"`
	Counterparty string            `json:"counterparty"`
	Description  string            `json:"description,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}
