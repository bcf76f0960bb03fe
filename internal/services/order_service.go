package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/trendydresses/payment-recon/internal/infrastructure/kafka"
	"github.com/trendydresses/payment-recon/internal/models"
	"github.com/trendydresses/payment-recon/internal/repository"
	pkgerrors "github.com/trendydresses/payment-recon/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OrderService turns a passing verdict into a durable order. The claim is
// taken before the order is persisted: if the claim races and loses, no
// order exists to roll back; if persistence fails after the claim, the claim
// is released.
type OrderService interface {
	CreateOrder(ctx context.Context, draft models.OrderDraft, verdict *models.VerificationVerdict) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

type orderService struct {
	transactionRepo repository.TransactionRepository
	orderRepo       repository.OrderRepository
	producer        kafka.KafkaProducer
}

func NewOrderService(transactionRepo repository.TransactionRepository, orderRepo repository.OrderRepository, producer kafka.KafkaProducer) *orderService {
	return &orderService{transactionRepo: transactionRepo, orderRepo: orderRepo, producer: producer}
}

func (s *orderService) CreateOrder(ctx context.Context, draft models.OrderDraft, verdict *models.VerificationVerdict) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "CreateOrder")
	defer span.End()

	if !verdict.Pass() {
		span.SetStatus(codes.Error, "verdict did not pass")
		slog.Error("order creation refused without passing verdict",
			"outcome", verdictOutcome(verdict))
		return nil, pkgerrors.ErrVerificationRequired
	}

	code := verdict.Transaction.ReceiptCode
	orderID := draft.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("payment_code", code),
	)

	if err := s.transactionRepo.ClaimForOrder(ctx, code, orderID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		slog.Warn("failed to claim transaction for order",
			"order_id", orderID, "payment_code", code, "error", err)
		return nil, err
	}

	order := &models.Order{
		OrderID:             orderID,
		Customer:            draft.Customer,
		Items:               draft.Items,
		Total:               draft.Total,
		PaymentMethod:       draft.PaymentMethod,
		PaymentCode:         code,
		Verified:            true,
		VerificationDetails: verdict.Details(time.Now()),
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order persistence failed")
		// The claim must not outlive a failed order; release is best-effort
		// and logged loudly if it also fails, since that leaves the code
		// consumed with no order attached.
		if releaseErr := s.transactionRepo.ReleaseClaim(ctx, code, orderID); releaseErr != nil {
			slog.Error("failed to release claim after order persistence failure",
				"order_id", orderID, "payment_code", code, "error", releaseErr)
		}
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	s.publishEvent(ctx, orderID, map[string]any{
		"event_type":   "order_created",
		"order_id":     orderID,
		"payment_code": code,
		"total":        order.Total,
		"created_at":   time.Now().UTC().Format(time.RFC3339),
	})

	slog.Info("order created and transaction claimed",
		"order_id", orderID, "payment_code", code, "total", order.Total)
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "GetOrder")
	span.SetAttributes(attribute.String("order_id", orderID))
	defer span.End()

	order, err := s.orderRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order lookup failed")
		return nil, err
	}
	return order, nil
}

func (s *orderService) publishEvent(ctx context.Context, key string, event map[string]any) {
	if s.producer == nil {
		return
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal kafka event", "key", key, "error", err)
		return
	}
	if err := s.producer.Send(ctx, paymentsTopic, key, eventBytes); err != nil {
		slog.Error("failed to send kafka event", "key", key, "error", err)
	}
}

func verdictOutcome(v *models.VerificationVerdict) string {
	if v == nil {
		return "nil"
	}
	return string(v.Outcome)
}
