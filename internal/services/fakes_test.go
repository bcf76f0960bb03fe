package service

import (
	"context"
	"sync"
	"time"

	"github.com/trendydresses/payment-recon/internal/models"
	pkgerrors "github.com/trendydresses/payment-recon/pkg/errors"
)

// fakeTransactionRepo is an in-memory TransactionRepository with the same
// compare-and-set claim semantics as the Postgres implementation.
type fakeTransactionRepo struct {
	mu       sync.Mutex
	byCode   map[string]*models.Transaction
	nextID   int64
	failWith error
}

func newFakeTransactionRepo() *fakeTransactionRepo {
	return &fakeTransactionRepo{byCode: make(map[string]*models.Transaction)}
}

func (f *fakeTransactionRepo) Upsert(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	code := models.NormalizeReceiptCode(tx.ReceiptCode)
	if tx.CheckoutRequestID != "" && tx.Status == models.StatusSettled {
		for oldCode, pending := range f.byCode {
			if pending.CheckoutRequestID == tx.CheckoutRequestID && pending.Status == models.StatusPending {
				delete(f.byCode, oldCode)
				break
			}
		}
	}
	if existing, ok := f.byCode[code]; ok {
		return existing, nil
	}
	f.nextID++
	stored := *tx
	stored.ID = f.nextID
	stored.ReceiptCode = code
	stored.CreatedAt = time.Now()
	f.byCode[code] = &stored
	return &stored, nil
}

func (f *fakeTransactionRepo) FindByReceiptCode(ctx context.Context, code string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	tx, ok := f.byCode[models.NormalizeReceiptCode(code)]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (f *fakeTransactionRepo) FindByCorrelationID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.byCode {
		if tx.CheckoutRequestID == checkoutRequestID && tx.Status == models.StatusPending {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, pkgerrors.ErrTransactionNotFound
}

func (f *fakeTransactionRepo) ClaimForOrder(ctx context.Context, code, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	tx, ok := f.byCode[models.NormalizeReceiptCode(code)]
	if !ok {
		return pkgerrors.ErrTransactionNotFound
	}
	if tx.LinkedOrderID != "" {
		return pkgerrors.ErrAlreadyClaimed
	}
	tx.LinkedOrderID = orderID
	return nil
}

func (f *fakeTransactionRepo) ReleaseClaim(ctx context.Context, code, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.byCode[models.NormalizeReceiptCode(code)]
	if ok && tx.LinkedOrderID == orderID {
		tx.LinkedOrderID = ""
	}
	return nil
}

func (f *fakeTransactionRepo) MarkFailed(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.byCode {
		if tx.CheckoutRequestID == checkoutRequestID && tx.Status == models.StatusPending {
			tx.Status = models.StatusFailed
			tx.ResultCode = resultCode
			tx.ResultDesc = resultDesc
		}
	}
	return nil
}

func (f *fakeTransactionRepo) List(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, tx := range f.byCode {
		out = append(out, *tx)
	}
	return out, nil
}

type fakeOrderRepo struct {
	mu       sync.Mutex
	byCode   map[string]*models.Order
	byID     map[string]*models.Order
	failWith error
	created  int
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{byCode: make(map[string]*models.Order), byID: make(map[string]*models.Order)}
}

func (f *fakeOrderRepo) Create(ctx context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	order.CreatedAt = time.Now()
	copied := *order
	f.byCode[models.NormalizeReceiptCode(order.PaymentCode)] = &copied
	f.byID[order.OrderID] = &copied
	f.created++
	return nil
}

func (f *fakeOrderRepo) FindByPaymentCode(ctx context.Context, code string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	order, ok := f.byCode[models.NormalizeReceiptCode(code)]
	if !ok {
		return nil, pkgerrors.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeOrderRepo) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.byID[orderID]
	if !ok {
		return nil, pkgerrors.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

type fakeProducer struct {
	mu     sync.Mutex
	events [][]byte
}

func (f *fakeProducer) Send(ctx context.Context, topic string, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, value)
	return nil
}

func (f *fakeProducer) Close() error { return nil }
