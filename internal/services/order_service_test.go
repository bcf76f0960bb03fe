package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendydresses/payment-recon/internal/models"
	pkgerrors "github.com/trendydresses/payment-recon/pkg/errors"
)

func passingVerdict(tx *models.Transaction) *models.VerificationVerdict {
	return &models.VerificationVerdict{
		Outcome:        models.OutcomePass,
		Code:           tx.ReceiptCode,
		AmountMatch:    true,
		DateValid:      true,
		ExpectedAmount: tx.Amount,
		Transaction:    tx,
	}
}

func TestOrderService_CreateOrder(t *testing.T) {
	ctx := context.Background()
	draft := models.OrderDraft{
		Customer:      models.Customer{Name: "Wanjiku", Phone: "254712345678"},
		Items:         []models.OrderItem{{ProductID: "dress-42", Quantity: 1, Price: decimal.NewFromInt(500)}},
		Total:         decimal.NewFromInt(500),
		PaymentMethod: "mpesa",
	}

	t.Run("refuses without a passing verdict", func(t *testing.T) {
		svc := NewOrderService(newFakeTransactionRepo(), newFakeOrderRepo(), &fakeProducer{})

		for _, verdict := range []*models.VerificationVerdict{
			nil,
			{Outcome: models.OutcomeNotFound},
			{Outcome: models.OutcomeAmountMismatch},
		} {
			order, err := svc.CreateOrder(ctx, draft, verdict)
			assert.ErrorIs(t, err, pkgerrors.ErrVerificationRequired)
			assert.Nil(t, order)
		}
	})

	t.Run("claims the transaction and persists the order", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		orderRepo := newFakeOrderRepo()
		producer := &fakeProducer{}
		tx := seedTransaction(txRepo, "QWE123RTY0", 500, time.Now())
		svc := NewOrderService(txRepo, orderRepo, producer)

		order, err := svc.CreateOrder(ctx, draft, passingVerdict(tx))
		require.NoError(t, err)
		assert.NotEmpty(t, order.OrderID)
		assert.Equal(t, "QWE123RTY0", order.PaymentCode)
		assert.True(t, order.Verified)
		assert.Equal(t, models.OutcomePass, order.VerificationDetails.Outcome)

		stored, err := txRepo.FindByReceiptCode(ctx, "QWE123RTY0")
		require.NoError(t, err)
		assert.Equal(t, order.OrderID, stored.LinkedOrderID)
		assert.Len(t, producer.events, 1)
	})

	t.Run("keeps a caller-supplied order id", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		tx := seedTransaction(txRepo, "QWE123RTY0", 500, time.Now())
		svc := NewOrderService(txRepo, newFakeOrderRepo(), &fakeProducer{})

		withID := draft
		withID.OrderID = "ORD-2024-001"
		order, err := svc.CreateOrder(ctx, withID, passingVerdict(tx))
		require.NoError(t, err)
		assert.Equal(t, "ORD-2024-001", order.OrderID)
	})

	t.Run("rejects a second order for the same code", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		tx := seedTransaction(txRepo, "QWE123RTY0", 500, time.Now())
		svc := NewOrderService(txRepo, newFakeOrderRepo(), &fakeProducer{})

		_, err := svc.CreateOrder(ctx, draft, passingVerdict(tx))
		require.NoError(t, err)

		order, err := svc.CreateOrder(ctx, draft, passingVerdict(tx))
		assert.ErrorIs(t, err, pkgerrors.ErrAlreadyClaimed)
		assert.Nil(t, order)
	})

	t.Run("concurrent submissions claim exactly once", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		orderRepo := newFakeOrderRepo()
		tx := seedTransaction(txRepo, "QWE123RTY0", 500, time.Now())
		svc := NewOrderService(txRepo, orderRepo, &fakeProducer{})

		const attempts = 8
		errs := make([]error, attempts)
		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.CreateOrder(ctx, draft, passingVerdict(tx))
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, pkgerrors.ErrAlreadyClaimed)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, orderRepo.created)
	})

	t.Run("releases the claim when persistence fails", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		orderRepo := newFakeOrderRepo()
		orderRepo.failWith = errors.New("disk full")
		tx := seedTransaction(txRepo, "QWE123RTY0", 500, time.Now())
		svc := NewOrderService(txRepo, orderRepo, &fakeProducer{})

		order, err := svc.CreateOrder(ctx, draft, passingVerdict(tx))
		assert.Error(t, err)
		assert.Nil(t, order)

		// The code is reusable again after the rollback.
		orderRepo.failWith = nil
		order, err = svc.CreateOrder(ctx, draft, passingVerdict(tx))
		require.NoError(t, err)
		assert.NotNil(t, order)
	})
}

func TestOrderService_GetOrder(t *testing.T) {
	ctx := context.Background()
	orderRepo := newFakeOrderRepo()
	require.NoError(t, orderRepo.Create(ctx, &models.Order{OrderID: "ORD-1", PaymentCode: "QWE123RTY0"}))
	svc := NewOrderService(newFakeTransactionRepo(), orderRepo, &fakeProducer{})

	order, err := svc.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", order.OrderID)

	_, err = svc.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, pkgerrors.ErrOrderNotFound)
}
