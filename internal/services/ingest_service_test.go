package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendydresses/payment-recon/internal/models"
	pkgerrors "github.com/trendydresses/payment-recon/pkg/errors"
)

func callbackEnvelope(resultCode int, items []models.CallbackItem) models.STKCallbackEnvelope {
	var envelope models.STKCallbackEnvelope
	envelope.Body.STKCallback = models.STKCallback{
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: "ws_CO_191220191020363925",
		ResultCode:        resultCode,
		ResultDesc:        "The service request is processed successfully.",
		CallbackMetadata: models.CallbackMetadata{
			Item: items,
		},
	}
	return envelope
}

func TestIngestService_IngestCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a successful callback", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		producer := &fakeProducer{}
		svc := NewIngestService(txRepo, producer)

		envelope := callbackEnvelope(0, []models.CallbackItem{
			{Name: "Amount", Value: float64(500)},
			{Name: "MpesaReceiptNumber", Value: "QWE123RTY0"},
			{Name: "TransactionDate", Value: float64(20260827143015)},
			{Name: "PhoneNumber", Value: float64(254712345678)},
		})

		tx, err := svc.IngestCallback(ctx, envelope)
		require.NoError(t, err)
		require.NotNil(t, tx)
		assert.Equal(t, "QWE123RTY0", tx.ReceiptCode)
		assert.True(t, tx.Amount.Equal(decimal.NewFromInt(500)))
		assert.Equal(t, "254712345678", tx.PhoneNumber)
		assert.Equal(t, models.StatusSettled, tx.Status)
		assert.Equal(t, 2026, tx.TransactionDate.Year())
		assert.Equal(t, time.Month(8), tx.TransactionDate.Month())
		assert.Equal(t, 27, tx.TransactionDate.Day())
		assert.Len(t, producer.events, 1)
	})

	t.Run("string metadata values are accepted", func(t *testing.T) {
		svc := NewIngestService(newFakeTransactionRepo(), &fakeProducer{})

		envelope := callbackEnvelope(0, []models.CallbackItem{
			{Name: "Amount", Value: "750.50"},
			{Name: "MpesaReceiptNumber", Value: "ABC987DEF0"},
			{Name: "PhoneNumber", Value: "254700000001"},
		})

		tx, err := svc.IngestCallback(ctx, envelope)
		require.NoError(t, err)
		require.NotNil(t, tx)
		assert.True(t, tx.Amount.Equal(decimal.RequireFromString("750.50")))
	})

	t.Run("redelivery returns the stored row without duplicating", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		producer := &fakeProducer{}
		svc := NewIngestService(txRepo, producer)

		envelope := callbackEnvelope(0, []models.CallbackItem{
			{Name: "Amount", Value: float64(500)},
			{Name: "MpesaReceiptNumber", Value: "QWE123RTY0"},
		})

		first, err := svc.IngestCallback(ctx, envelope)
		require.NoError(t, err)
		second, err := svc.IngestCallback(ctx, envelope)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		all, err := txRepo.List(ctx, models.TransactionFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
		assert.Len(t, producer.events, 1)
	})

	t.Run("failed push marks the pending row and is swallowed", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		svc := NewIngestService(txRepo, &fakeProducer{})

		pending, err := svc.RecordPendingPush(ctx, "29115-34620561-1", "ws_CO_191220191020363925", "254712345678", decimal.NewFromInt(500))
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, pending.Status)

		envelope := callbackEnvelope(1032, nil)
		tx, err := svc.IngestCallback(ctx, envelope)
		assert.NoError(t, err)
		assert.Nil(t, tx)

		stored, err := txRepo.FindByReceiptCode(ctx, pending.ReceiptCode)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, stored.Status)
		assert.Equal(t, 1032, stored.ResultCode)
	})

	t.Run("missing receipt number is swallowed", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		svc := NewIngestService(txRepo, &fakeProducer{})

		envelope := callbackEnvelope(0, []models.CallbackItem{
			{Name: "Amount", Value: float64(500)},
		})

		tx, err := svc.IngestCallback(ctx, envelope)
		assert.NoError(t, err)
		assert.Nil(t, tx)

		all, err := txRepo.List(ctx, models.TransactionFilter{})
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("malformed timestamp falls back to ingestion time", func(t *testing.T) {
		svc := NewIngestService(newFakeTransactionRepo(), &fakeProducer{})

		envelope := callbackEnvelope(0, []models.CallbackItem{
			{Name: "Amount", Value: float64(500)},
			{Name: "MpesaReceiptNumber", Value: "QWE123RTY0"},
			{Name: "TransactionDate", Value: "not-a-date"},
		})

		before := time.Now()
		tx, err := svc.IngestCallback(ctx, envelope)
		require.NoError(t, err)
		require.NotNil(t, tx)
		assert.WithinDuration(t, before, tx.TransactionDate, 5*time.Second)
	})

	t.Run("callback promotes the pending placeholder", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		svc := NewIngestService(txRepo, &fakeProducer{})

		_, err := svc.RecordPendingPush(ctx, "29115-34620561-1", "ws_CO_191220191020363925", "254712345678", decimal.NewFromInt(500))
		require.NoError(t, err)

		envelope := callbackEnvelope(0, []models.CallbackItem{
			{Name: "Amount", Value: float64(500)},
			{Name: "MpesaReceiptNumber", Value: "QWE123RTY0"},
		})
		tx, err := svc.IngestCallback(ctx, envelope)
		require.NoError(t, err)
		assert.Equal(t, "QWE123RTY0", tx.ReceiptCode)

		// The placeholder row is gone once the real receipt lands.
		all, err := txRepo.List(ctx, models.TransactionFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestIngestService_IngestManual(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects an empty code", func(t *testing.T) {
		svc := NewIngestService(newFakeTransactionRepo(), &fakeProducer{})

		tx, err := svc.IngestManual(ctx, "", decimal.NewFromInt(500), "254712345678", nil)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidReceiptCode)
		assert.Nil(t, tx)
	})

	t.Run("stores an operator-synced transaction", func(t *testing.T) {
		txRepo := newFakeTransactionRepo()
		svc := NewIngestService(txRepo, &fakeProducer{})

		when := time.Date(2026, 8, 27, 14, 30, 0, 0, time.Local)
		tx, err := svc.IngestManual(ctx, "QWE123RTY0", decimal.NewFromInt(500), "254712345678", &when)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSettled, tx.Status)
		assert.True(t, tx.TransactionDate.Equal(when))

		// Syncing again is idempotent.
		again, err := svc.IngestManual(ctx, "QWE123RTY0", decimal.NewFromInt(500), "254712345678", &when)
		require.NoError(t, err)
		assert.Equal(t, tx.ID, again.ID)
	})
}
