package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trendydresses/payment-recon/internal/infrastructure/observability"
	"github.com/trendydresses/payment-recon/internal/models"
	pkgerrors "github.com/trendydresses/payment-recon/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

const transactionColumns = `id, receipt_code, amount, phone_number, account_reference, merchant_request_id, checkout_request_id, result_code, result_desc, transaction_date, status, linked_order_id, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var tx models.Transaction
	var linkedOrderID sql.NullString
	err := row.Scan(&tx.ID, &tx.ReceiptCode, &tx.Amount, &tx.PhoneNumber, &tx.AccountReference,
		&tx.MerchantRequestID, &tx.CheckoutRequestID, &tx.ResultCode, &tx.ResultDesc,
		&tx.TransactionDate, &tx.Status, &linkedOrderID, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	tx.LinkedOrderID = linkedOrderID.String
	return &tx, nil
}

func (r *PostgresTransactionRepository) Upsert(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "UpsertTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("UpsertTransaction", status).Inc()
		observability.RepositoryDuration.WithLabelValues("UpsertTransaction").Observe(time.Since(start).Seconds())
	}()

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to upsert transaction", "method", "Upsert", "error", err)
		return nil, err
	}

	if tx.Status != models.StatusPending && tx.Status != models.StatusSettled && tx.Status != models.StatusFailed {
		err = pkgerrors.ErrInvalidStatus
		slog.Error("invalid transaction status", "method", "Upsert", "status", tx.Status, "error", err)
		return nil, err
	}

	code := models.NormalizeReceiptCode(tx.ReceiptCode)
	if code == "" {
		err = pkgerrors.ErrInvalidReceiptCode
		slog.Error("empty receipt code", "method", "Upsert", "error", err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("receipt_code", code),
		attribute.String("status", string(tx.Status)),
		attribute.String("checkout_request_id", tx.CheckoutRequestID),
	)

	// A settled callback for an STK push we initiated replaces its pending
	// placeholder instead of inserting a second row.
	if tx.CheckoutRequestID != "" && tx.Status == models.StatusSettled {
		promote := `UPDATE transactions
			SET receipt_code = $1, amount = $2, phone_number = $3, result_code = $4, result_desc = $5, transaction_date = $6, status = $7
			WHERE checkout_request_id = $8 AND status = $9
			RETURNING ` + transactionColumns
		stored, promoteErr := scanTransaction(r.db.QueryRowContext(ctx, promote,
			code, tx.Amount, tx.PhoneNumber, tx.ResultCode, tx.ResultDesc, tx.TransactionDate,
			models.StatusSettled, tx.CheckoutRequestID, models.StatusPending))
		if promoteErr == nil {
			slog.Info("pending placeholder promoted", "method", "Upsert", "receipt_code", code, "checkout_request_id", tx.CheckoutRequestID)
			return stored, nil
		}
		if !stderrors.Is(promoteErr, sql.ErrNoRows) {
			err = fmt.Errorf("failed to promote pending transaction: %w", promoteErr)
			slog.Error("failed to promote pending transaction", "method", "Upsert", "checkout_request_id", tx.CheckoutRequestID, "error", err)
			return nil, err
		}
	}

	insert := `INSERT INTO transactions
		(receipt_code, amount, phone_number, account_reference, merchant_request_id, checkout_request_id, result_code, result_desc, transaction_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (receipt_code) DO NOTHING
		RETURNING ` + transactionColumns
	stored, insertErr := scanTransaction(r.db.QueryRowContext(ctx, insert,
		code, tx.Amount, tx.PhoneNumber, tx.AccountReference, tx.MerchantRequestID,
		tx.CheckoutRequestID, tx.ResultCode, tx.ResultDesc, tx.TransactionDate, tx.Status))
	if insertErr == nil {
		slog.Info("transaction stored", "method", "Upsert", "receipt_code", code, "id", stored.ID)
		return stored, nil
	}
	if !stderrors.Is(insertErr, sql.ErrNoRows) {
		err = fmt.Errorf("failed to insert transaction: %w", insertErr)
		slog.Error("failed to insert transaction", "method", "Upsert", "receipt_code", code, "error", err)
		return nil, err
	}

	// Conflict on receipt_code: webhook redelivery. Return the existing row.
	existing, findErr := r.FindByReceiptCode(ctx, code)
	if findErr != nil {
		err = fmt.Errorf("failed to load existing transaction after conflict: %w", findErr)
		return nil, err
	}
	slog.Info("transaction redelivery ignored", "method", "Upsert", "receipt_code", code, "id", existing.ID)
	return existing, nil
}

func (r *PostgresTransactionRepository) FindByReceiptCode(ctx context.Context, code string) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "FindByReceiptCode")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("FindByReceiptCode", status).Inc()
		observability.RepositoryDuration.WithLabelValues("FindByReceiptCode").Observe(time.Since(start).Seconds())
	}()

	normalized := models.NormalizeReceiptCode(code)
	span.SetAttributes(attribute.String("receipt_code", normalized))

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE receipt_code = $1`
	tx, scanErr := scanTransaction(r.db.QueryRowContext(ctx, query, normalized))
	if stderrors.Is(scanErr, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if scanErr != nil {
		err = fmt.Errorf("failed to find transaction by receipt code: %w", scanErr)
		slog.Error("failed to find transaction", "method", "FindByReceiptCode", "receipt_code", normalized, "error", err)
		return nil, err
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) FindByCorrelationID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "FindByCorrelationID")
	span.SetAttributes(attribute.String("checkout_request_id", checkoutRequestID))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("FindByCorrelationID", status).Inc()
		observability.RepositoryDuration.WithLabelValues("FindByCorrelationID").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE checkout_request_id = $1 AND status = $2`
	tx, scanErr := scanTransaction(r.db.QueryRowContext(ctx, query, checkoutRequestID, models.StatusPending))
	if stderrors.Is(scanErr, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if scanErr != nil {
		err = fmt.Errorf("failed to find transaction by correlation id: %w", scanErr)
		slog.Error("failed to find pending transaction", "method", "FindByCorrelationID", "checkout_request_id", checkoutRequestID, "error", err)
		return nil, err
	}
	return tx, nil
}

// ClaimForOrder is the single conditional update enforcing "one payment code
// funds at most one order". The WHERE clause only matches an unclaimed row,
// so two racing claims cannot both succeed.
func (r *PostgresTransactionRepository) ClaimForOrder(ctx context.Context, code, orderID string) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "ClaimForOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ClaimForOrder", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ClaimForOrder").Observe(time.Since(start).Seconds())
	}()

	normalized := models.NormalizeReceiptCode(code)
	span.SetAttributes(
		attribute.String("receipt_code", normalized),
		attribute.String("order_id", orderID),
	)

	query := `UPDATE transactions SET linked_order_id = $2 WHERE receipt_code = $1 AND linked_order_id IS NULL`
	result, execErr := r.db.ExecContext(ctx, query, normalized, orderID)
	if execErr != nil {
		err = fmt.Errorf("failed to claim transaction: %w", execErr)
		slog.Error("failed to claim transaction", "method", "ClaimForOrder", "receipt_code", normalized, "order_id", orderID, "error", err)
		return err
	}

	affected, raErr := result.RowsAffected()
	if raErr != nil {
		err = fmt.Errorf("failed to read claim result: %w", raErr)
		slog.Error("failed to read claim result", "method", "ClaimForOrder", "receipt_code", normalized, "error", err)
		return err
	}
	if affected == 0 {
		// Lost the race or the code never existed; distinguish for the caller.
		var exists bool
		checkErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE receipt_code = $1)`, normalized).Scan(&exists)
		if checkErr != nil {
			err = fmt.Errorf("failed to check transaction existence: %w", checkErr)
			return err
		}
		if !exists {
			err = pkgerrors.ErrTransactionNotFound
			return err
		}
		err = pkgerrors.ErrAlreadyClaimed
		slog.Warn("claim lost to concurrent order", "method", "ClaimForOrder", "receipt_code", normalized, "order_id", orderID)
		return err
	}

	slog.Info("transaction claimed", "method", "ClaimForOrder", "receipt_code", normalized, "order_id", orderID)
	return nil
}

// ReleaseClaim compensates a successful claim whose order failed to persist.
// It only clears a claim held by orderID, never someone else's.
func (r *PostgresTransactionRepository) ReleaseClaim(ctx context.Context, code, orderID string) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "ReleaseClaim")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ReleaseClaim", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ReleaseClaim").Observe(time.Since(start).Seconds())
	}()

	normalized := models.NormalizeReceiptCode(code)
	query := `UPDATE transactions SET linked_order_id = NULL WHERE receipt_code = $1 AND linked_order_id = $2`
	if _, execErr := r.db.ExecContext(ctx, query, normalized, orderID); execErr != nil {
		err = fmt.Errorf("failed to release claim: %w", execErr)
		slog.Error("failed to release claim", "method", "ReleaseClaim", "receipt_code", normalized, "order_id", orderID, "error", err)
		return err
	}

	slog.Info("claim released", "method", "ReleaseClaim", "receipt_code", normalized, "order_id", orderID)
	return nil
}

func (r *PostgresTransactionRepository) MarkFailed(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc string) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "MarkFailed")
	span.SetAttributes(attribute.String("checkout_request_id", checkoutRequestID), attribute.Int("result_code", resultCode))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("MarkFailed", status).Inc()
		observability.RepositoryDuration.WithLabelValues("MarkFailed").Observe(time.Since(start).Seconds())
	}()

	query := `UPDATE transactions SET status = $2, result_code = $3, result_desc = $4 WHERE checkout_request_id = $1 AND status = $5`
	if _, execErr := r.db.ExecContext(ctx, query, checkoutRequestID, models.StatusFailed, resultCode, resultDesc, models.StatusPending); execErr != nil {
		err = fmt.Errorf("failed to mark transaction failed: %w", execErr)
		slog.Error("failed to mark transaction failed", "method", "MarkFailed", "checkout_request_id", checkoutRequestID, "error", err)
		return err
	}

	slog.Info("push marked failed", "method", "MarkFailed", "checkout_request_id", checkoutRequestID, "result_code", resultCode)
	return nil
}

func (r *PostgresTransactionRepository) List(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "ListTransactions")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ListTransactions", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ListTransactions").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	var conditions []string
	var args []any
	if filter.PhoneNumber != "" {
		args = append(args, filter.PhoneNumber)
		conditions = append(conditions, fmt.Sprintf("phone_number = $%d", len(args)))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		conditions = append(conditions, fmt.Sprintf("transaction_date >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		conditions = append(conditions, fmt.Sprintf("transaction_date <= $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY transaction_date DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, queryErr := r.db.QueryContext(ctx, query, args...)
	if queryErr != nil {
		err = fmt.Errorf("failed to list transactions: %w", queryErr)
		slog.Error("failed to list transactions", "method", "List", "error", err)
		return nil, err
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan transaction: %w", scanErr)
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		err = fmt.Errorf("failed to iterate transactions: %w", rowsErr)
		return nil, err
	}

	slog.Info("transactions listed", "method", "List", "count", len(transactions))
	return transactions, nil
}
