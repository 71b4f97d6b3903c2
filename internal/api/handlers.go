/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's payment
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: Service logic, models, and
 *   error kinds.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/app"
	"github.com/wedloop/settlement-service/internal/domain"
	"github.com/wedloop/settlement-service/internal/rates"
	"github.com/wedloop/settlement-service/internal/store"
	"github.com/wedloop/settlement-service/pkg/gateway"
)

// SettlementHandlers holds the application service that handlers will use.
type SettlementHandlers struct {
	service *app.Service
}

// NewSettlementHandlers creates the handler set.
func NewSettlementHandlers(service *app.Service) *SettlementHandlers {
	return &SettlementHandlers{service: service}
}

type createSettlementRequest struct {
	EventID           uuid.UUID               `json:"event_id"`
	Currency          string                  `json:"currency"`
	CommissionPercent *decimal.Decimal        `json:"commission_percent,omitempty"`
	Settings          *domain.PaymentSettings `json:"payment_settings,omitempty"`
}

type chargeRequest struct {
	MethodToken string `json:"method_token"`
	Brand       string `json:"brand"`
	Last4       string `json:"last4"`
}

type distributeRequest struct {
	ProviderID *uuid.UUID `json:"provider_id,omitempty"`
}

type refundRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Reason   string          `json:"reason"`
}

// CreateSettlementHandler settles an event's confirmed provider charges into
// a new Payment aggregate.
func (h *SettlementHandlers) CreateSettlementHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := authUUID(w, r)
	if !ok {
		return
	}

	var req createSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EventID == uuid.Nil || req.Currency == "" {
		http.Error(w, "event_id and currency are required", http.StatusBadRequest)
		return
	}

	payment, err := h.service.CreateSettlement(r.Context(), app.CreateSettlementInput{
		EventID:           req.EventID,
		CustomerID:        customerID,
		Currency:          req.Currency,
		CommissionPercent: req.CommissionPercent,
		Settings:          req.Settings,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, payment)
}

// GetPaymentHandler fetches one payment aggregate.
func (h *SettlementHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}
	payment, err := h.service.GetPayment(r.Context(), paymentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// ListPaymentsHandler lists payments by event id or for the caller.
func (h *SettlementHandlers) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	opts := store.PaymentListOptions{Status: r.URL.Query().Get("status")}

	if rawEventID := r.URL.Query().Get("event_id"); rawEventID != "" {
		eventID, err := uuid.Parse(rawEventID)
		if err != nil {
			http.Error(w, "Invalid event_id", http.StatusBadRequest)
			return
		}
		payments, err := h.service.ListPaymentsByEvent(r.Context(), eventID, opts)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, payments)
		return
	}

	customerID, ok := authUUID(w, r)
	if !ok {
		return
	}
	payments, err := h.service.ListPaymentsByCustomer(r.Context(), customerID, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payments)
}

// ChargeHandler submits a pending payment to the gateway.
func (h *SettlementHandlers) ChargeHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.MethodToken == "" {
		http.Error(w, "method_token is required", http.StatusBadRequest)
		return
	}

	payment, err := h.service.SubmitCharge(r.Context(), paymentID, app.ChargeInput{
		MethodToken: req.MethodToken,
		Brand:       req.Brand,
		Last4:       req.Last4,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// DistributeHandler runs a distribution pass, optionally for one provider.
func (h *SettlementHandlers) DistributeHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	var req distributeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	result, err := h.service.Distribute(r.Context(), paymentID, req.ProviderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// CancelHandler cancels a payment that has not completed.
func (h *SettlementHandlers) CancelHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}
	payment, err := h.service.CancelPayment(r.Context(), paymentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// RequestRefundHandler appends a pending refund to the payment.
func (h *SettlementHandlers) RequestRefundHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	refund, err := h.service.RequestRefund(r.Context(), paymentID, app.RefundInput{
		Amount:   req.Amount,
		Currency: req.Currency,
		Reason:   req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, refund)
}

// ProcessRefundHandler executes a pending refund (admin).
func (h *SettlementHandlers) ProcessRefundHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathUUID(w, r, "paymentID")
	if !ok {
		return
	}
	refundID, ok := pathUUID(w, r, "refundID")
	if !ok {
		return
	}

	payment, err := h.service.ProcessRefund(r.Context(), paymentID, refundID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

// writeError maps service error kinds to HTTP status codes.
func (h *SettlementHandlers) writeError(w http.ResponseWriter, err error) {
	var declined *gateway.DeclinedError
	var unavailable *gateway.UnavailableError

	switch {
	case errors.Is(err, store.ErrPaymentNotFound), errors.Is(err, store.ErrRefundNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, app.ErrProviderNotFoundInPayment):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, rates.ErrRateNotFound):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, app.ErrNoConfirmedProviders):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, app.ErrUnsupportedCurrency):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, app.ErrPaymentNotCompleted),
		errors.Is(err, app.ErrPaymentNotPending),
		errors.Is(err, app.ErrPaymentNotCancellable),
		errors.Is(err, app.ErrRefundNotPending),
		errors.Is(err, store.ErrConcurrentModification):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, app.ErrInvalidRefundAmount),
		errors.Is(err, app.ErrRefundCurrencyMismatch),
		errors.Is(err, app.ErrPaymentNotRefundable),
		errors.Is(err, app.ErrInvalidRate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &declined):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.As(err, &unavailable):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		log.Printf("level=error component=api msg=\"unhandled error\" err=%v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *SettlementHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		http.Error(w, "Invalid "+param, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func authUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "Invalid user ID format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
