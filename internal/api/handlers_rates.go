/**
 * @description
 * HTTP handlers for the exchange rate endpoints. Rate reads are available to
 * any authenticated caller; upserts are an internal admin operation guarded
 * by the internal API key middleware.
 */

package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/rates"
)

type upsertRateRequest struct {
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	Source       string          `json:"source"`
}

type rateResponse struct {
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
}

// GetRateHandler returns the active rate for an ordered currency pair.
func (h *SettlementHandlers) GetRateHandler(w http.ResponseWriter, r *http.Request) {
	from := strings.ToUpper(r.URL.Query().Get("from"))
	to := strings.ToUpper(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		http.Error(w, "from and to query parameters are required", http.StatusBadRequest)
		return
	}

	rate, err := h.service.GetRate(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rateResponse{FromCurrency: from, ToCurrency: to, Rate: rate})
}

// UpsertRateHandler stores a new active rate for an ordered pair, retiring
// any previously active rate for that pair.
func (h *SettlementHandlers) UpsertRateHandler(w http.ResponseWriter, r *http.Request) {
	var req upsertRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.FromCurrency == "" || req.ToCurrency == "" {
		http.Error(w, "from_currency and to_currency are required", http.StatusBadRequest)
		return
	}

	source := rates.RateSourceKind(req.Source)
	if source == "" {
		source = rates.SourceManual
	}

	rate := rates.ExchangeRate{
		FromCurrency: strings.ToUpper(req.FromCurrency),
		ToCurrency:   strings.ToUpper(req.ToCurrency),
		Rate:         req.Rate,
		Source:       source,
		LastUpdated:  time.Now().UTC(),
		IsActive:     true,
	}
	if err := h.service.UpsertRate(r.Context(), rate); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rate)
}
