package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type VerificationOutcome string

const (
	OutcomePass               VerificationOutcome = "PASS"
	OutcomeInvalidFormat      VerificationOutcome = "INVALID_FORMAT"
	OutcomeAmountRequired     VerificationOutcome = "AMOUNT_REQUIRED"
	OutcomeNotFound           VerificationOutcome = "NOT_FOUND"
	OutcomeAmountMismatch     VerificationOutcome = "AMOUNT_MISMATCH"
	OutcomeDateMismatch       VerificationOutcome = "DATE_MISMATCH"
	OutcomeAlreadyUsed        VerificationOutcome = "ALREADY_USED"
	OutcomeDuplicateOrderCode VerificationOutcome = "DUPLICATE_ORDER_CODE"
)

// VerificationVerdict is the transient result of running a customer-supplied
// code through the verification gates. It is never persisted on its own; a
// PASS verdict is handed to the order linker, and the details are stamped
// onto the created order.
type VerificationVerdict struct {
	Outcome        VerificationOutcome `json:"outcome"`
	Code           string              `json:"code"`
	AmountMatch    bool                `json:"amount_match"`
	DateValid      bool                `json:"date_valid"`
	Message        string              `json:"message,omitempty"`
	ExpectedAmount decimal.Decimal     `json:"expected_amount"`
	Transaction    *Transaction        `json:"transaction,omitempty"`
	// ExistingOrderID is set for ALREADY_USED and DUPLICATE_ORDER_CODE so the
	// caller can report which order consumed the code.
	ExistingOrderID string `json:"existing_order_id,omitempty"`
}

// Pass reports whether the verdict authorizes order creation.
func (v *VerificationVerdict) Pass() bool {
	return v != nil && v.Outcome == OutcomePass
}

// Details converts the verdict into the audit form stored on an order.
func (v *VerificationVerdict) Details(now time.Time) VerificationDetails {
	return VerificationDetails{
		Outcome:     v.Outcome,
		AmountMatch: v.AmountMatch,
		DateValid:   v.DateValid,
		Message:     v.Message,
		VerifiedAt:  now,
	}
}
