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

// EventTransferCompleted is the hub event name both parties receive
// after a transfer commits.
const EventTransferCompleted = "transfer_completed"

type Request struct {
	SenderUserID   uuid.UUID
	RecipientEmail string
	Amount         decimal.Decimal
	Description    string
}

type Result struct {
	Debit  *domain.Transaction
	Credit *domain.Transaction
}

// Execute runs one transfer as a single atomic unit: both balance
// mutations and both ledger legs commit together or not at all.
// Validation failures surface before any write; a storage fault after
// validation aborts the unit and maps to ErrTransferFailed. Notification
// happens strictly after commit and cannot fail the transfer.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	log := logging.FromContext(ctx)

	senderAcct, recipientAcct, recipient, err := s.resolveParties(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}

	if err := validate(req, senderAcct, recipientAcct); err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}

	res, err := s.executeAtomic(ctx, req, senderAcct.ID, recipientAcct.ID)
	if err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}

	log.Info("transfer completed",
		"debit_id", res.Debit.ID,
		"sender_account", senderAcct.ID,
		"recipient_account", recipientAcct.ID,
		"amount", req.Amount,
	)

	s.notifyParties(ctx, req, res, recipient)

	return res, nil
}

func (s *Service) resolveParties(ctx context.Context, req Request) (*domain.Account, *domain.Account, *domain.User, error) {
	recipient, err := s.users.GetByEmail(ctx, req.RecipientEmail)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, nil, fmt.Errorf("resolveParties: %w", domain.ErrRecipientNotFound)
		}
		return nil, nil, nil, fmt.Errorf("resolveParties: %w", err)
	}

	recipientAcct, err := s.accounts.GetByUserID(ctx, recipient.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, nil, fmt.Errorf("resolveParties: recipient account: %w", domain.ErrRecipientNotFound)
		}
		return nil, nil, nil, fmt.Errorf("resolveParties: %w", err)
	}

	senderAcct, err := s.accounts.GetByUserID(ctx, req.SenderUserID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolveParties: sender account: %w", err)
	}

	return senderAcct, recipientAcct, recipient, nil
}

func validate(req Request, sender, recipient *domain.Account) error {
	if sender.ID == recipient.ID {
		return fmt.Errorf("validate: %w", domain.ErrSelfTransfer)
	}

	if !req.Amount.IsPositive() {
		return fmt.Errorf("validate: %w", domain.ErrInvalidAmount)
	}

	// Advisory only. The balance may change between this read and the
	// write; the conditional decrement inside the transaction is the
	// authoritative guard.
	if sender.Balance.LessThan(req.Amount) {
		return fmt.Errorf("validate: %w", domain.ErrInsufficientFunds)
	}

	return nil
}

func (s *Service) executeAtomic(ctx context.Context, req Request, senderID, recipientID uuid.UUID) (*Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("executeAtomic: begin tx: %w", storageFault(err))
	}
	defer tx.Rollback()

	locked, err := lockAccountsInOrder(ctx, tx, s.accounts, senderID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("executeAtomic: %w", storageFault(err))
	}

	sender := locked[senderID]
	if sender.Balance.LessThan(req.Amount) {
		return nil, fmt.Errorf("executeAtomic: %w", domain.ErrInsufficientFunds)
	}

	if err := s.accounts.Debit(ctx, tx, senderID, req.Amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return nil, fmt.Errorf("executeAtomic: %w", domain.ErrInsufficientFunds)
		}
		return nil, fmt.Errorf("executeAtomic: debit: %w", storageFault(err))
	}

	if err := s.accounts.Credit(ctx, tx, recipientID, req.Amount); err != nil {
		return nil, fmt.Errorf("executeAtomic: credit: %w", storageFault(err))
	}

	now := time.Now().UTC()
	debit := &domain.Transaction{
		ID:                    uuid.New(),
		AccountID:             senderID,
		Kind:                  domain.KindTransferSent,
		Amount:                req.Amount,
		CounterpartyAccountID: &recipientID,
		Description:           req.Description,
		CreatedAt:             now,
	}
	credit := &domain.Transaction{
		ID:                    uuid.New(),
		AccountID:             recipientID,
		Kind:                  domain.KindTransferReceived,
		Amount:                req.Amount,
		CounterpartyAccountID: &senderID,
		Description:           req.Description,
		CreatedAt:             now,
	}

	if err := s.transactions.Create(ctx, tx, debit); err != nil {
		return nil, fmt.Errorf("executeAtomic: debit record: %w", storageFault(err))
	}
	if err := s.transactions.Create(ctx, tx, credit); err != nil {
		return nil, fmt.Errorf("executeAtomic: credit record: %w", storageFault(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("executeAtomic: commit: %w", storageFault(err))
	}

	return &Result{Debit: debit, Credit: credit}, nil
}

func (s *Service) notifyParties(ctx context.Context, req Request, res *Result, recipient *domain.User) {
	if s.notify == nil {
		return
	}

	sender, err := s.users.GetByID(ctx, req.SenderUserID)
	senderEmail := ""
	if err != nil {
		logging.FromContext(ctx).Warn("transfer notification: sender lookup failed", "error", err)
	} else {
		senderEmail = sender.Email
	}

	s.notify.Publish(req.SenderUserID, EventTransferCompleted, domain.TransferCompleted{
		Direction:    domain.DirectionSent,
		Amount:       req.Amount,
		Counterparty: recipient.Email,
		Description:  req.Description,
		OccurredAt:   res.Debit.CreatedAt,
	})
	s.notify.Publish(recipient.ID, EventTransferCompleted, domain.TransferCompleted{
		Direction:    domain.DirectionReceived,
		Amount:       req.Amount,
		Counterparty: senderEmail,
		Description:  req.Description,
		OccurredAt:   res.Credit.CreatedAt,
	})
}

// storageFault wraps unexpected storage errors in ErrTransferFailed so
// callers see a stable failure kind without storage internals.
func storageFault(err error) error {
	if errors.Is(err, domain.ErrTransferFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
}
