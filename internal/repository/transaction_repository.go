package repository

import (
	"context"

	"github.com/trendydresses/payment-recon/internal/models"
)

type TransactionRepository interface {
	// Upsert inserts a transaction keyed by its normalized receipt code. A
	// pending placeholder sharing the same checkout request id is replaced
	// instead of duplicated. Returns the stored record.
	Upsert(ctx context.Context, tx *models.Transaction) (*models.Transaction, error)
	FindByReceiptCode(ctx context.Context, code string) (*models.Transaction, error)
	// FindByCorrelationID looks up a still-pending record by the provider's
	// checkout request id, reconciling STK push initiations with their
	// eventual callback.
	FindByCorrelationID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)
	// ClaimForOrder atomically sets linked_order_id, succeeding only when it
	// is currently unset. This is the sole mutation path for the single-use
	// invariant.
	ClaimForOrder(ctx context.Context, code, orderID string) error
	// ReleaseClaim undoes a claim held by orderID when order persistence
	// failed after the claim succeeded.
	ReleaseClaim(ctx context.Context, code, orderID string) error
	// MarkFailed records a failed STK push outcome against its pending
	// placeholder, if one exists.
	MarkFailed(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc string) error
	List(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error)
}
