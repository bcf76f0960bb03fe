package errors

import (
	"errors"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrNilTransaction       = errors.New("transaction is nil")
	ErrNilOrder             = errors.New("order is nil")
	ErrInvalidReceiptCode   = errors.New("invalid receipt code format")
	ErrAmountRequired       = errors.New("expected amount is required for verification")
	ErrAlreadyClaimed       = errors.New("transaction already claimed by another order")
	ErrVerificationRequired = errors.New("order creation requires a passing verification verdict")
	ErrDuplicateReceiptCode = errors.New("receipt code already recorded")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidStatus        = errors.New("invalid transaction status")
)
