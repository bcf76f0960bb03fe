package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trendydresses/payment-recon/internal/infrastructure/observability"
	"github.com/trendydresses/payment-recon/internal/models"
	"github.com/trendydresses/payment-recon/internal/repository"
	pkgerrors "github.com/trendydresses/payment-recon/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Receipt codes are exactly 10 alphanumeric characters.
var receiptCodePattern = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// Amounts within one whole currency unit are considered equal, absorbing
// rounding between the network and the storefront.
var amountTolerance = decimal.NewFromInt(1)

const dateTolerance = 24 * time.Hour

// VerificationService decides whether a customer-supplied payment code may
// fund an order. It is stateless: a pure sequence of gates over the
// transaction and order stores. Any store failure is returned as an error —
// an unverifiable code is never accepted.
type VerificationService interface {
	Verify(ctx context.Context, code string, expectedAmount *decimal.Decimal, expectedDate *time.Time) (*models.VerificationVerdict, error)
}

type verificationService struct {
	transactionRepo repository.TransactionRepository
	orderRepo       repository.OrderRepository
}

func NewVerificationService(transactionRepo repository.TransactionRepository, orderRepo repository.OrderRepository) *verificationService {
	return &verificationService{transactionRepo: transactionRepo, orderRepo: orderRepo}
}

func (s *verificationService) Verify(ctx context.Context, code string, expectedAmount *decimal.Decimal, expectedDate *time.Time) (*models.VerificationVerdict, error) {
	tracer := otel.Tracer("verification-service")
	ctx, span := tracer.Start(ctx, "Verify")
	defer span.End()

	normalized := models.NormalizeReceiptCode(code)
	span.SetAttributes(attribute.String("receipt_code", normalized))

	// Gate 1: code shape. A pre-check, distinct from store lookup failure.
	if !receiptCodePattern.MatchString(normalized) {
		slog.Warn("receipt code failed format check", "code", normalized)
		return s.verdict(span, &models.VerificationVerdict{
			Outcome: models.OutcomeInvalidFormat,
			Code:    normalized,
			Message: "Invalid receipt code format. Must be exactly 10 alphanumeric characters.",
		}), nil
	}

	// Gate 2: verification without a target amount is meaningless and must
	// never silently pass.
	if expectedAmount == nil || !expectedAmount.IsPositive() {
		slog.Warn("verification attempted without expected amount", "code", normalized)
		return s.verdict(span, &models.VerificationVerdict{
			Outcome: models.OutcomeAmountRequired,
			Code:    normalized,
			Message: "Amount is required to verify the payment transaction.",
		}), nil
	}

	// Gate 3: a settled code is consumed by the first order that used it.
	existingOrder, err := s.orderRepo.FindByPaymentCode(ctx, normalized)
	if err != nil && !stderrors.Is(err, pkgerrors.ErrOrderNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order lookup failed")
		return nil, fmt.Errorf("failed to check for duplicate order code: %w", err)
	}
	if existingOrder != nil {
		slog.Warn("payment code already used by an order, possible reuse attempt",
			"code", normalized, "order_id", existingOrder.OrderID)
		return s.verdict(span, &models.VerificationVerdict{
			Outcome:         models.OutcomeDuplicateOrderCode,
			Code:            normalized,
			ExpectedAmount:  *expectedAmount,
			ExistingOrderID: existingOrder.OrderID,
			Message:         fmt.Sprintf("This payment code has already been used by order %s.", existingOrder.OrderID),
		}), nil
	}

	// Gate 4: the transaction must exist in the store. Absence blocks the
	// payment; the webhook may simply not have arrived yet, and the caller
	// surfaces that as "pending, retry later".
	tx, err := s.transactionRepo.FindByReceiptCode(ctx, normalized)
	if stderrors.Is(err, pkgerrors.ErrTransactionNotFound) {
		slog.Warn("transaction not found, blocking payment", "code", normalized)
		return s.verdict(span, &models.VerificationVerdict{
			Outcome:        models.OutcomeNotFound,
			Code:           normalized,
			ExpectedAmount: *expectedAmount,
			Message:        "Transaction not found. Complete the payment and retry once the confirmation arrives.",
		}), nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction lookup failed")
		return nil, fmt.Errorf("failed to look up transaction: %w", err)
	}

	// Gate 5: single use.
	if tx.LinkedOrderID != "" {
		slog.Warn("transaction already claimed, possible reuse attempt",
			"code", normalized, "order_id", tx.LinkedOrderID)
		return s.verdict(span, &models.VerificationVerdict{
			Outcome:         models.OutcomeAlreadyUsed,
			Code:            normalized,
			ExpectedAmount:  *expectedAmount,
			Transaction:     tx,
			ExistingOrderID: tx.LinkedOrderID,
			Message:         fmt.Sprintf("This transaction has already funded order %s.", tx.LinkedOrderID),
		}), nil
	}

	// Gate 6: amount band.
	if tx.Amount.Sub(*expectedAmount).Abs().GreaterThanOrEqual(amountTolerance) {
		slog.Warn("amount mismatch, blocking payment",
			"code", normalized, "expected", expectedAmount, "found", tx.Amount)
		return s.verdict(span, &models.VerificationVerdict{
			Outcome:        models.OutcomeAmountMismatch,
			Code:           normalized,
			ExpectedAmount: *expectedAmount,
			Transaction:    tx,
			Message:        fmt.Sprintf("Amount mismatch. Expected: %s, Found: %s.", expectedAmount.String(), tx.Amount.String()),
		}), nil
	}

	// Gate 7: date window, only when the caller supplied one.
	dateValid := true
	if expectedDate != nil {
		diff := tx.TransactionDate.Sub(*expectedDate)
		if diff < 0 {
			diff = -diff
		}
		dateValid = diff <= dateTolerance
	}
	if !dateValid {
		slog.Warn("date mismatch, blocking payment",
			"code", normalized, "expected", expectedDate, "found", tx.TransactionDate)
		return s.verdict(span, &models.VerificationVerdict{
			Outcome:        models.OutcomeDateMismatch,
			Code:           normalized,
			AmountMatch:    true,
			ExpectedAmount: *expectedAmount,
			Transaction:    tx,
			Message:        "Transaction date is outside the 24 hour window.",
		}), nil
	}

	// The network's own result code is informational once amount and date
	// match; it is surfaced for display, not gated on.
	message := "Transaction verified: code found, amount matches, date valid."
	if tx.ResultCode != 0 {
		message = fmt.Sprintf("Transaction verified on amount and date; network reported result code %d (%s).", tx.ResultCode, tx.ResultDesc)
	}

	slog.Info("verification passed", "code", normalized, "amount", tx.Amount)
	return s.verdict(span, &models.VerificationVerdict{
		Outcome:        models.OutcomePass,
		Code:           normalized,
		AmountMatch:    true,
		DateValid:      true,
		ExpectedAmount: *expectedAmount,
		Transaction:    tx,
		Message:        message,
	}), nil
}

func (s *verificationService) verdict(span trace.Span, v *models.VerificationVerdict) *models.VerificationVerdict {
	observability.VerificationOutcomes.WithLabelValues(string(v.Outcome)).Inc()
	span.SetAttributes(attribute.String("outcome", string(v.Outcome)))
	return v
}
