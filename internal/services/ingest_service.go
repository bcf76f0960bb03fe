package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trendydresses/payment-recon/internal/infrastructure/kafka"
	"github.com/trendydresses/payment-recon/internal/infrastructure/observability"
	"github.com/trendydresses/payment-recon/internal/models"
	"github.com/trendydresses/payment-recon/internal/repository"
	pkgerrors "github.com/trendydresses/payment-recon/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const paymentsTopic = "payments"

// IngestService turns inbound payment notifications into durable
// transactions. Malformed or failed notifications are recorded and swallowed:
// the provider retries on any error response, so ingestion never propagates
// a parse failure back to it.
type IngestService interface {
	IngestCallback(ctx context.Context, envelope models.STKCallbackEnvelope) (*models.Transaction, error)
	IngestManual(ctx context.Context, code string, amount decimal.Decimal, phone string, date *time.Time) (*models.Transaction, error)
	RecordPendingPush(ctx context.Context, merchantRequestID, checkoutRequestID, phone string, amount decimal.Decimal) (*models.Transaction, error)
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error)
}

type ingestService struct {
	transactionRepo repository.TransactionRepository
	producer        kafka.KafkaProducer
}

func NewIngestService(transactionRepo repository.TransactionRepository, producer kafka.KafkaProducer) *ingestService {
	return &ingestService{transactionRepo: transactionRepo, producer: producer}
}

func (s *ingestService) IngestCallback(ctx context.Context, envelope models.STKCallbackEnvelope) (*models.Transaction, error) {
	tracer := otel.Tracer("ingest-service")
	ctx, span := tracer.Start(ctx, "IngestCallback")
	defer span.End()

	cb := envelope.Body.STKCallback

	if cb.ResultCode != 0 {
		slog.Warn("payment push failed at network",
			"checkout_request_id", cb.CheckoutRequestID,
			"result_code", cb.ResultCode,
			"result_desc", cb.ResultDesc)
		if err := s.transactionRepo.MarkFailed(ctx, cb.CheckoutRequestID, cb.ResultCode, cb.ResultDesc); err != nil {
			slog.Error("failed to record push failure", "checkout_request_id", cb.CheckoutRequestID, "error", err)
		}
		observability.TransactionsIngested.WithLabelValues("webhook", "failed").Inc()
		return nil, nil
	}

	var receipt, phone string
	amount := decimal.Zero
	transactionDate := time.Now()
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			receipt = itemString(item.Value)
		case "Amount":
			if parsed, err := itemDecimal(item.Value); err == nil {
				amount = parsed
			}
		case "PhoneNumber":
			phone = itemString(item.Value)
		case "TransactionDate":
			// Network format is a 14-digit YYYYMMDDHHmmss; anything else
			// falls back to ingestion time rather than failing the webhook.
			if parsed, err := parseNetworkTimestamp(itemString(item.Value)); err == nil {
				transactionDate = parsed
			} else {
				slog.Warn("malformed transaction date, using ingestion time", "value", item.Value)
			}
		}
	}

	if receipt == "" {
		slog.Error("callback missing receipt number", "checkout_request_id", cb.CheckoutRequestID)
		span.SetStatus(codes.Error, "missing receipt number")
		observability.TransactionsIngested.WithLabelValues("webhook", "malformed").Inc()
		return nil, nil
	}

	tx := &models.Transaction{
		ReceiptCode:       receipt,
		Amount:            amount,
		PhoneNumber:       phone,
		AccountReference:  cb.MerchantRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		TransactionDate:   transactionDate,
		Status:            models.StatusSettled,
	}
	return s.ingest(ctx, tx, "webhook")
}

func (s *ingestService) IngestManual(ctx context.Context, code string, amount decimal.Decimal, phone string, date *time.Time) (*models.Transaction, error) {
	tracer := otel.Tracer("ingest-service")
	ctx, span := tracer.Start(ctx, "IngestManual")
	defer span.End()

	if code == "" {
		span.SetStatus(codes.Error, "empty receipt code")
		return nil, pkgerrors.ErrInvalidReceiptCode
	}

	transactionDate := time.Now()
	if date != nil {
		transactionDate = *date
	}

	tx := &models.Transaction{
		ReceiptCode:     code,
		Amount:          amount,
		PhoneNumber:     phone,
		ResultDesc:      "Manual sync",
		TransactionDate: transactionDate,
		Status:          models.StatusSettled,
	}
	return s.ingest(ctx, tx, "manual")
}

func (s *ingestService) ingest(ctx context.Context, tx *models.Transaction, source string) (*models.Transaction, error) {
	// Redelivery of a known receipt code is a no-op.
	existing, err := s.transactionRepo.FindByReceiptCode(ctx, tx.ReceiptCode)
	if err == nil {
		slog.Info("transaction already ingested", "receipt_code", existing.ReceiptCode, "source", source)
		observability.TransactionsIngested.WithLabelValues(source, "duplicate").Inc()
		return existing, nil
	}
	if !stderrors.Is(err, pkgerrors.ErrTransactionNotFound) {
		observability.TransactionsIngested.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("failed to check existing transaction: %w", err)
	}

	stored, err := s.transactionRepo.Upsert(ctx, tx)
	if err != nil {
		observability.TransactionsIngested.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("failed to store transaction: %w", err)
	}
	observability.TransactionsIngested.WithLabelValues(source, "stored").Inc()

	s.publishEvent(ctx, "transaction_ingested", stored.ReceiptCode, map[string]any{
		"event_type":   "transaction_ingested",
		"receipt_code": stored.ReceiptCode,
		"amount":       stored.Amount,
		"source":       source,
		"created_at":   time.Now().UTC().Format(time.RFC3339),
	})

	slog.Info("transaction ingested", "receipt_code", stored.ReceiptCode, "amount", stored.Amount, "source", source)
	return stored, nil
}

func (s *ingestService) RecordPendingPush(ctx context.Context, merchantRequestID, checkoutRequestID, phone string, amount decimal.Decimal) (*models.Transaction, error) {
	tracer := otel.Tracer("ingest-service")
	ctx, span := tracer.Start(ctx, "RecordPendingPush")
	defer span.End()

	if checkoutRequestID == "" {
		span.SetStatus(codes.Error, "empty checkout request id")
		return nil, fmt.Errorf("checkout request id is required")
	}

	tx := &models.Transaction{
		// Placeholder until the callback delivers the real receipt.
		ReceiptCode:       "PENDING-" + checkoutRequestID,
		Amount:            amount,
		PhoneNumber:       phone,
		MerchantRequestID: merchantRequestID,
		CheckoutRequestID: checkoutRequestID,
		TransactionDate:   time.Now(),
		Status:            models.StatusPending,
	}
	stored, err := s.transactionRepo.Upsert(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record pending push")
		return nil, fmt.Errorf("failed to record pending push: %w", err)
	}

	slog.Info("pending push recorded", "checkout_request_id", checkoutRequestID, "phone", phone)
	return stored, nil
}

func (s *ingestService) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	tracer := otel.Tracer("ingest-service")
	ctx, span := tracer.Start(ctx, "ListTransactions")
	defer span.End()

	transactions, err := s.transactionRepo.List(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list transactions")
		return nil, err
	}
	return transactions, nil
}

func (s *ingestService) publishEvent(ctx context.Context, eventType, key string, event map[string]any) {
	if s.producer == nil {
		return
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal kafka event", "event_type", eventType, "error", err)
		return
	}
	if err := s.producer.Send(ctx, paymentsTopic, key, eventBytes); err != nil {
		slog.Error("failed to send kafka event", "event_type", eventType, "key", key, "error", err)
	}
}

func itemString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func itemDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case string:
		return decimal.NewFromString(t)
	case float64:
		return decimal.NewFromFloat(t), nil
	case json.Number:
		return decimal.NewFromString(t.String())
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}

func parseNetworkTimestamp(value string) (time.Time, error) {
	if len(value) != 14 {
		return time.Time{}, fmt.Errorf("expected 14-digit timestamp, got %q", value)
	}
	return time.ParseInLocation("20060102150405", value, time.Local)
}
