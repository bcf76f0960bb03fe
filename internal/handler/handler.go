package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/trendydresses/payment-recon/internal/infrastructure/mpesa"
	"github.com/trendydresses/payment-recon/internal/models"
	service "github.com/trendydresses/payment-recon/internal/services"
	pkgerrors "github.com/trendydresses/payment-recon/pkg/errors"
)

type Handler struct {
	ingest       service.IngestService
	verification service.VerificationService
	orders       service.OrderService
	admin        service.AdminService
	mpesaClient  *mpesa.Client
}

func NewHandler(ingest service.IngestService, verification service.VerificationService, orders service.OrderService, admin service.AdminService, mpesaClient *mpesa.Client) *Handler {
	return &Handler{
		ingest:       ingest,
		verification: verification,
		orders:       orders,
		admin:        admin,
		mpesaClient:  mpesaClient,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/api/admin/login", h.AdminLogin).Methods("POST")
	r.HandleFunc("/api/mpesa/webhook", h.MpesaWebhook).Methods("POST")
	r.HandleFunc("/api/mpesa/stkpush", h.InitiateSTKPush).Methods("POST")
	r.HandleFunc("/api/orders/verify", h.VerifyCode).Methods("POST")
	r.HandleFunc("/api/orders", h.CreateOrder).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/api/mpesa/sync-transaction", h.ManualSync).Methods("POST")
	r.HandleFunc("/api/mpesa/transactions", h.ListTransactions).Methods("GET")
	r.HandleFunc("/api/orders/{orderID}", h.GetOrder).Methods("GET")
}

func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := h.admin.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// MpesaWebhook always acknowledges with ResultCode 0: a non-success response
// makes the network retry indefinitely, and ingestion is idempotent anyway.
func (h *Handler) MpesaWebhook(w http.ResponseWriter, r *http.Request) {
	var envelope models.STKCallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		slog.Error("malformed webhook payload", "error", err)
		h.writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Success"})
		return
	}

	if _, err := h.ingest.IngestCallback(r.Context(), envelope); err != nil {
		slog.Error("failed to ingest webhook", "checkout_request_id", envelope.Body.STKCallback.CheckoutRequestID, "error", err)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Success"})
}

func (h *Handler) InitiateSTKPush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber      string          `json:"phone_number"`
		Amount           decimal.Decimal `json:"amount"`
		AccountReference string          `json:"account_reference"`
		Description      string          `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PhoneNumber == "" || !req.Amount.IsPositive() {
		h.writeError(w, http.StatusBadRequest, errors.New("phone_number and a positive amount are required"))
		return
	}

	result, err := h.mpesaClient.InitiateSTKPush(r.Context(), req.PhoneNumber, req.Amount, req.AccountReference, req.Description)
	if err != nil {
		slog.Error("stk push failed", "phone", req.PhoneNumber, "error", err)
		h.writeError(w, http.StatusBadGateway, err)
		return
	}

	if _, err := h.ingest.RecordPendingPush(r.Context(), result.MerchantRequestID, result.CheckoutRequestID, req.PhoneNumber, req.Amount); err != nil {
		slog.Error("failed to record pending push", "checkout_request_id", result.CheckoutRequestID, "error", err)
	}

	h.writeJSON(w, http.StatusAccepted, result)
}

func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code            string           `json:"code"`
		Amount          *decimal.Decimal `json:"amount"`
		TransactionDate *time.Time       `json:"transaction_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	verdict, err := h.verification.Verify(r.Context(), req.Code, req.Amount, req.TransactionDate)
	if err != nil {
		// Store failure: fail closed, never approve an unverifiable payment.
		h.writeError(w, http.StatusServiceUnavailable, errors.New("verification unavailable, payment cannot be accepted"))
		return
	}

	h.writeJSON(w, http.StatusOK, verdict)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		models.OrderDraft
		PaymentCode     string     `json:"payment_code"`
		TransactionDate *time.Time `json:"transaction_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PaymentCode == "" || req.Customer.Name == "" || req.Customer.Phone == "" || len(req.Items) == 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("payment_code, customer and items are required"))
		return
	}

	verdict, err := h.verification.Verify(r.Context(), req.PaymentCode, &req.Total, req.TransactionDate)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, errors.New("verification unavailable, order cannot be created"))
		return
	}
	if !verdict.Pass() {
		h.writeJSON(w, http.StatusUnprocessableEntity, verdict)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), req.OrderDraft, verdict)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrAlreadyClaimed) {
			// Lost the race; the code is now legitimately consumed.
			h.writeError(w, http.StatusConflict, err)
		} else if errors.Is(err, pkgerrors.ErrVerificationRequired) {
			h.writeError(w, http.StatusUnprocessableEntity, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderID"]
	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) ManualSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiptCode     string          `json:"receipt_code"`
		Amount          decimal.Decimal `json:"amount"`
		PhoneNumber     string          `json:"phone_number"`
		TransactionDate *time.Time      `json:"transaction_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := h.ingest.IngestManual(r.Context(), req.ReceiptCode, req.Amount, req.PhoneNumber, req.TransactionDate)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidReceiptCode) {
			h.writeError(w, http.StatusBadRequest, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := models.TransactionFilter{
		PhoneNumber: r.URL.Query().Get("phone_number"),
	}
	if v := r.URL.Query().Get("start_date"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartDate = &t
		}
	}
	if v := r.URL.Query().Get("end_date"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.EndDate = &t
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	transactions, err := h.ingest.ListTransactions(r.Context(), filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":        len(transactions),
		"transactions": transactions,
	})
}
