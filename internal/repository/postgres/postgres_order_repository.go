package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trendydresses/payment-recon/internal/infrastructure/observability"
	"github.com/trendydresses/payment-recon/internal/models"
	pkgerrors "github.com/trendydresses/payment-recon/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

func (r *PostgresOrderRepository) Create(ctx context.Context, order *models.Order) error {
	var err error
	tracer := otel.Tracer("order-repository")
	ctx, span := tracer.Start(ctx, "CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateOrder", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateOrder").Observe(time.Since(start).Seconds())
	}()

	if order == nil {
		err = pkgerrors.ErrNilOrder
		slog.Error("failed to create order", "method", "Create", "error", err)
		return err
	}

	span.SetAttributes(
		attribute.String("order_id", order.OrderID),
		attribute.String("payment_code", order.PaymentCode),
	)

	customer, marshalErr := json.Marshal(order.Customer)
	if marshalErr != nil {
		err = fmt.Errorf("failed to marshal customer: %w", marshalErr)
		return err
	}
	items, marshalErr := json.Marshal(order.Items)
	if marshalErr != nil {
		err = fmt.Errorf("failed to marshal items: %w", marshalErr)
		return err
	}
	details, marshalErr := json.Marshal(order.VerificationDetails)
	if marshalErr != nil {
		err = fmt.Errorf("failed to marshal verification details: %w", marshalErr)
		return err
	}

	query := `INSERT INTO orders (order_id, customer, items, total, payment_method, payment_code, verified, verification_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`
	scanErr := r.db.QueryRowContext(ctx, query,
		order.OrderID, customer, items, order.Total, order.PaymentMethod,
		models.NormalizeReceiptCode(order.PaymentCode), order.Verified, details).Scan(&order.CreatedAt)
	if scanErr != nil {
		err = fmt.Errorf("failed to create order: %w", scanErr)
		slog.Error("failed to create order", "method", "Create", "order_id", order.OrderID, "error", err)
		return err
	}

	slog.Info("order created", "method", "Create", "order_id", order.OrderID, "payment_code", order.PaymentCode, "verified", order.Verified)
	return nil
}

func (r *PostgresOrderRepository) FindByPaymentCode(ctx context.Context, code string) (*models.Order, error) {
	return r.findOne(ctx, "FindByPaymentCode", `payment_code = $1`, models.NormalizeReceiptCode(code))
}

func (r *PostgresOrderRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	return r.findOne(ctx, "GetByOrderID", `order_id = $1`, orderID)
}

func (r *PostgresOrderRepository) findOne(ctx context.Context, method, condition string, arg any) (*models.Order, error) {
	var err error
	tracer := otel.Tracer("order-repository")
	ctx, span := tracer.Start(ctx, method)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues(method, status).Inc()
		observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	query := `SELECT order_id, customer, items, total, payment_method, payment_code, verified, verification_details, created_at
		FROM orders WHERE ` + condition

	var order models.Order
	var customer, items, details []byte
	scanErr := r.db.QueryRowContext(ctx, query, arg).Scan(&order.OrderID, &customer, &items,
		&order.Total, &order.PaymentMethod, &order.PaymentCode, &order.Verified, &details, &order.CreatedAt)
	if stderrors.Is(scanErr, sql.ErrNoRows) {
		err = pkgerrors.ErrOrderNotFound
		return nil, err
	}
	if scanErr != nil {
		err = fmt.Errorf("failed to find order: %w", scanErr)
		slog.Error("failed to find order", "method", method, "error", err)
		return nil, err
	}

	if unmarshalErr := json.Unmarshal(customer, &order.Customer); unmarshalErr != nil {
		err = fmt.Errorf("failed to unmarshal customer: %w", unmarshalErr)
		return nil, err
	}
	if unmarshalErr := json.Unmarshal(items, &order.Items); unmarshalErr != nil {
		err = fmt.Errorf("failed to unmarshal items: %w", unmarshalErr)
		return nil, err
	}
	if unmarshalErr := json.Unmarshal(details, &order.VerificationDetails); unmarshalErr != nil {
		err = fmt.Errorf("failed to unmarshal verification details: %w", unmarshalErr)
		return nil, err
	}

	return &order, nil
}
