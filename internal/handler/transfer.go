package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amara-dev/wallet-backend/internal/auth"
	"github.com/amara-dev/wallet-backend/internal/domain"
	"github.com/amara-dev/wallet-backend/internal/logging"
	"github.com/amara-dev/wallet-backend/internal/service/transfer"
)

type transferService interface {
	Execute(ctx context.Context, req transfer.Request) (*transfer.Result, error)
	Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (*domain.Transaction, error)
	Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (*domain.Transaction, error)
}

type TransferHandler struct {
	transfers transferService
}

func NewTransferHandler(transfers transferService) *TransferHandler {
	return &TransferHandler{transfers: transfers}
}

type createTransferRequest struct {
	RecipientEmail string `json:"recipient_email"`
	Amount         string `json:"amount"`
	Description    string `json:"description"`
}

type transactionDTO struct {
	ID                    uuid.UUID       `json:"id"`
	AccountID             uuid.UUID       `json:"account_id"`
	Kind                  string          `json:"kind"`
	Amount                decimal.Decimal `json:"amount"`
	CounterpartyAccountID *uuid.UUID      `json:"counterparty_account_id,omitempty"`
	Description           string          `json:"description,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

func toTransactionDTO(t *domain.Transaction) transactionDTO {
	return transactionDTO{
		ID:                    t.ID,
		AccountID:             t.AccountID,
		Kind:                  string(t.Kind),
		Amount:                t.Amount,
		CounterpartyAccountID: t.CounterpartyAccountID,
		Description:           t.Description,
		CreatedAt:             t.CreatedAt,
	}
}

type transferResponse struct {
	Debit  transactionDTO `json:"debit"`
	Credit transactionDTO `json:"credit"`
}

// parseAmount rejects malformed and non-positive amounts before any
// storage access.
func parseAmount(raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return decimal.Decimal{}, false
	}
	return amount, true
}

func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if req.RecipientEmail == "" {
		RespondValidationError(w, []FieldError{{Field: "recipient_email", Message: "required"}})
		return
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		RespondAppError(w, ErrInvalidAmount, nil)
		return
	}

	res, err := h.transfers.Execute(r.Context(), transfer.Request{
		SenderUserID:   userID,
		RecipientEmail: req.RecipientEmail,
		Amount:         amount,
		Description:    req.Description,
	})
	if err != nil {
		log.Warn("transfer failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, transferResponse{
		Debit:  toTransactionDTO(res.Debit),
		Credit: toTransactionDTO(res.Credit),
	})
}

type fundingRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

func (h *TransferHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.applyFunding(w, r, h.transfers.Deposit)
}

func (h *TransferHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.applyFunding(w, r, h.transfers.Withdraw)
}

func (h *TransferHandler) applyFunding(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (*domain.Transaction, error),
) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req fundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		RespondAppError(w, ErrInvalidAmount, nil)
		return
	}

	t, err := apply(r.Context(), userID, amount, req.Description)
	if err != nil {
		log.Warn("funding operation failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, toTransactionDTO(t))
}
