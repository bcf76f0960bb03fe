package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	OrderID             string              `json:"order_id"`
	Customer            Customer            `json:"customer"`
	Items               []OrderItem         `json:"items"`
	Total               decimal.Decimal     `json:"total"`
	PaymentMethod       string              `json:"payment_method"`
	PaymentCode         string              `json:"payment_code"`
	Verified            bool                `json:"verified"`
	VerificationDetails VerificationDetails `json:"verification_details"`
	CreatedAt           time.Time           `json:"created_at"`
}

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type OrderItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	ProductID string          `json:"product_id,omitempty"`
}

// VerificationDetails is the audit narrative stamped onto an order at
// creation time, copied from the verdict that authorized it.
type VerificationDetails struct {
	Outcome     VerificationOutcome `json:"outcome"`
	AmountMatch bool                `json:"amount_match"`
	DateValid   bool                `json:"date_valid"`
	Message     string              `json:"message,omitempty"`
	VerifiedAt  time.Time           `json:"verified_at"`
}

// OrderDraft is the caller-supplied order content; the order id is assigned
// by the linker when absent.
type OrderDraft struct {
	OrderID       string          `json:"order_id,omitempty"`
	Customer      Customer        `json:"customer"`
	Items         []OrderItem     `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
}
