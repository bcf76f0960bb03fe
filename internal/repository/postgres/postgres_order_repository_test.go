package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendydresses/payment-recon/internal/models"
	pkgerrors "github.com/trendydresses/payment-recon/pkg/errors"
)

var orderRowColumns = []string{
	"order_id", "customer", "items", "total", "payment_method",
	"payment_code", "verified", "verification_details", "created_at",
}

func orderRow(orderID, code string) *sqlmock.Rows {
	return sqlmock.NewRows(orderRowColumns).AddRow(
		orderID,
		[]byte(`{"name":"Wanjiku","phone":"254712345678"}`),
		[]byte(`[{"name":"Ankara Dress","quantity":1,"price":"500","subtotal":"500"}]`),
		"500",
		"mpesa",
		code,
		true,
		[]byte(`{"outcome":"PASS","amount_match":true,"date_valid":true,"verified_at":"2026-08-27T14:30:00Z"}`),
		time.Now(),
	)
}

func newOrderRepoWithMock(t *testing.T) (*PostgresOrderRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresOrderRepository(db), mock
}

func TestPostgresOrderRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("persists the order with serialized details", func(t *testing.T) {
		repo, mock := newOrderRepoWithMock(t)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
			WithArgs("ORD-1", sqlmock.AnyArg(), sqlmock.AnyArg(), decimal.NewFromInt(500),
				"mpesa", "QWE123RTY0", true, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

		order := &models.Order{
			OrderID:       "ORD-1",
			Customer:      models.Customer{Name: "Wanjiku", Phone: "254712345678"},
			Items:         []models.OrderItem{{Name: "Ankara Dress", Quantity: 1, Price: decimal.NewFromInt(500)}},
			Total:         decimal.NewFromInt(500),
			PaymentMethod: "mpesa",
			PaymentCode:   "qwe123rty0",
			Verified:      true,
			VerificationDetails: models.VerificationDetails{
				Outcome:     models.OutcomePass,
				AmountMatch: true,
				DateValid:   true,
				VerifiedAt:  time.Now(),
			},
		}
		err := repo.Create(ctx, order)
		require.NoError(t, err)
		assert.False(t, order.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects nil order", func(t *testing.T) {
		repo, _ := newOrderRepoWithMock(t)

		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNilOrder)
	})
}

func TestPostgresOrderRepository_FindByPaymentCode(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		repo, mock := newOrderRepoWithMock(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE payment_code = $1")).
			WithArgs("QWE123RTY0").
			WillReturnRows(orderRow("ORD-1", "QWE123RTY0"))

		order, err := repo.FindByPaymentCode(ctx, "qwe123rty0")
		require.NoError(t, err)
		assert.Equal(t, "ORD-1", order.OrderID)
		assert.Equal(t, "Wanjiku", order.Customer.Name)
		assert.Len(t, order.Items, 1)
		assert.Equal(t, models.OutcomePass, order.VerificationDetails.Outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newOrderRepoWithMock(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE payment_code = $1")).
			WithArgs("MISSING000").
			WillReturnRows(sqlmock.NewRows(orderRowColumns))

		_, err := repo.FindByPaymentCode(ctx, "MISSING000")
		assert.ErrorIs(t, err, pkgerrors.ErrOrderNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresOrderRepository_GetByOrderID(t *testing.T) {
	repo, mock := newOrderRepoWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE order_id = $1")).
		WithArgs("ORD-1").
		WillReturnRows(orderRow("ORD-1", "QWE123RTY0"))

	order, err := repo.GetByOrderID(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "QWE123RTY0", order.PaymentCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}
