package repository

import (
	"context"

	"github.com/trendydresses/payment-recon/internal/models"
)

type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByPaymentCode(ctx context.Context, code string) (*models.Order, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.Order, error)
}
