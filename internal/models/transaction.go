package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeReceiptCode applies the canonical form used for all receipt code
// comparisons: trimmed and uppercased.
func NormalizeReceiptCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Transaction is one payment-network event received via webhook, broker
// relay, or manual sync. Records are append-only: the only updates allowed
// are replacing a pending STK placeholder with the settled receipt and
// attaching a linked order id (once).
type Transaction struct {
	ID                int64           `json:"id"`
	ReceiptCode       string          `json:"receipt_code"`
	Amount            decimal.Decimal `json:"amount"`
	PhoneNumber       string          `json:"phone_number,omitempty"`
	AccountReference  string          `json:"account_reference,omitempty"`
	MerchantRequestID string          `json:"merchant_request_id,omitempty"`
	CheckoutRequestID string          `json:"checkout_request_id,omitempty"`
	ResultCode        int             `json:"result_code"`
	ResultDesc        string          `json:"result_desc,omitempty"`
	TransactionDate   time.Time       `json:"transaction_date"`
	Status            StatusType      `json:"status"`
	LinkedOrderID     string          `json:"linked_order_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type StatusType string

const (
	StatusPending StatusType = "pending"
	StatusSettled StatusType = "settled"
	StatusFailed  StatusType = "failed"
)

// TransactionFilter narrows admin transaction listings.
type TransactionFilter struct {
	PhoneNumber string
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
}
