package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrSelfTransfer      = errors.New("cannot transfer to own account")
	ErrInvalidAmount     = errors.New("amount must be a positive decimal")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferFailed    = errors.New("transfer could not be completed")
	ErrEmailTaken        = errors.New("email already registered")
	ErrInvalidRequest    = errors.New("invalid request")
)
