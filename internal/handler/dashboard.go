package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/amara-dev/wallet-backend/internal/auth"
	"github.com/amara-dev/wallet-backend/internal/domain"
	"github.com/amara-dev/wallet-backend/internal/logging"
	"github.com/amara-dev/wallet-backend/internal/service"
)

type walletQueries interface {
	Snapshot(ctx context.Context, userID uuid.UUID) (*service.Snapshot, error)
	ChartSeries(ctx context.Context, userID uuid.UUID) ([]domain.DailyTotal, error)
}

type DashboardHandler struct {
	wallet walletQueries
}

func NewDashboardHandler(wallet walletQueries) *DashboardHandler {
	return &DashboardHandler{wallet: wallet}
}

type snapshotDTO struct {
	AccountID    uuid.UUID        `json:"account_id"`
	Balance      decimal.Decimal  `json:"balance"`
	Transactions []transactionDTO `json:"transactions"`
}

func (h *DashboardHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	snap, err := h.wallet.Snapshot(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).Error("dashboard snapshot failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	dto := snapshotDTO{
		AccountID:    snap.Account.ID,
		Balance:      snap.Account.Balance,
		Transactions: make([]transactionDTO, 0, len(snap.Transactions)),
	}
	for i := range snap.Transactions {
		dto.Transactions = append(dto.Transactions, toTransactionDTO(&snap.Transactions[i]))
	}

	RespondSuccess(w, http.StatusOK, dto)
}

// chartDTO mirrors the shape chart widgets consume: parallel arrays
// indexed by day, oldest first.
type chartDTO struct {
	Dates   []string          `json:"dates"`
	Income  []decimal.Decimal `json:"income"`
	Expense []decimal.Decimal `json:"expense"`
}

func (h *DashboardHandler) Chart(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	totals, err := h.wallet.ChartSeries(r.Context(), userID)
	if err != nil {
		logging.FromContext(r.Context()).Error("chart query failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	dto := chartDTO{
		Dates:   make([]string, 0, len(totals)),
		Income:  make([]decimal.Decimal, 0, len(totals)),
		Expense: make([]decimal.Decimal, 0, len(totals)),
	}
	for _, d := range totals {
		dto.Dates = append(dto.Dates, d.Date.Format(time.DateOnly))
		dto.Income = append(dto.Income, d.Income)
		dto.Expense = append(dto.Expense, d.Expense)
	}

	RespondSuccess(w, http.StatusOK, dto)
}
