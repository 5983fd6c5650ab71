// Package httpapi exposes the gateway's upward REST contract: intent CRUD,
// merchant aggregates and price quotes. Routing stays on the standard mux;
// validation lives in the services.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/starkpay/gateway/internal/app/domain/intent"
	"github.com/starkpay/gateway/internal/app/domain/merchant"
	"github.com/starkpay/gateway/internal/app/metrics"
	"github.com/starkpay/gateway/internal/app/services/intents"
	"github.com/starkpay/gateway/internal/app/services/merchants"
	"github.com/starkpay/gateway/internal/app/services/pricing"
	"github.com/starkpay/gateway/internal/app/storage"
)

// handler bundles HTTP endpoints for the gateway services.
type handler struct {
	intents   *intents.Service
	merchants *merchants.Service
	pricing   *pricing.Service
}

// NewHandler returns a mux exposing the core REST API. The pricing service
// is optional; without it price endpoints answer 404.
func NewHandler(intentSvc *intents.Service, merchantSvc *merchants.Service, pricingSvc *pricing.Service) http.Handler {
	h := &handler{
		intents:   intentSvc,
		merchants: merchantSvc,
		pricing:   pricingSvc,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/intents", h.intentCollection)
	mux.HandleFunc("/intents/", h.intentResources)
	mux.HandleFunc("/merchants", h.merchantCollection)
	mux.HandleFunc("/merchants/", h.merchantResources)
	mux.HandleFunc("/prices/", h.price)
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (h *handler) intentCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			IntentID        string `json:"intent_id"`
			MerchantAddress string `json:"merchant_address"`
			TokenAddress    string `json:"token_address"`
			Amount          string `json:"amount"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		it, err := h.intents.Create(r.Context(), payload.IntentID, payload.MerchantAddress, payload.TokenAddress, payload.Amount)
		if err != nil {
			writeError(w, statusFor(err, http.StatusBadRequest), err)
			return
		}
		writeJSON(w, http.StatusCreated, intentResponse(it))

	case http.MethodGet:
		list, err := h.intents.List(r.Context(), r.URL.Query().Get("merchant"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out := make([]map[string]interface{}, 0, len(list))
		for _, it := range list {
			out = append(out, intentResponse(it))
		}
		writeJSON(w, http.StatusOK, out)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) intentResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/intents"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	intentID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		it, err := h.intents.Get(r.Context(), intentID)
		if err != nil {
			writeError(w, statusFor(err, http.StatusInternalServerError), err)
			return
		}
		writeJSON(w, http.StatusOK, intentResponse(it))
		return
	}

	if parts[1] == "transaction" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			TransactionHash string `json:"transaction_hash"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		it, err := h.intents.AttachTransaction(r.Context(), intentID, payload.TransactionHash)
		if err != nil {
			writeError(w, statusFor(err, http.StatusBadRequest), err)
			return
		}
		writeJSON(w, http.StatusOK, intentResponse(it))
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (h *handler) merchantCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		acct, err := h.merchants.Register(r.Context(), payload.Address, payload.Name)
		if err != nil {
			writeError(w, statusFor(err, http.StatusBadRequest), err)
			return
		}
		writeJSON(w, http.StatusCreated, merchantResponse(acct))

	case http.MethodGet:
		list, err := h.merchants.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out := make([]map[string]interface{}, 0, len(list))
		for _, acct := range list {
			out = append(out, merchantResponse(acct))
		}
		writeJSON(w, http.StatusOK, out)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) merchantResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/merchants"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	address := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		acct, err := h.merchants.Get(r.Context(), address)
		if err != nil {
			writeError(w, statusFor(err, http.StatusInternalServerError), err)
			return
		}
		writeJSON(w, http.StatusOK, merchantResponse(acct))
		return
	}

	switch parts[1] {
	case "intents":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		list, err := h.intents.List(r.Context(), address)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out := make([]map[string]interface{}, 0, len(list))
		for _, it := range list {
			out = append(out, intentResponse(it))
		}
		writeJSON(w, http.StatusOK, out)

	case "recompute":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		acct, err := h.merchants.RecomputeEarnings(r.Context(), address)
		if err != nil {
			writeError(w, statusFor(err, http.StatusInternalServerError), err)
			return
		}
		writeJSON(w, http.StatusOK, merchantResponse(acct))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) price(w http.ResponseWriter, r *http.Request) {
	if h.pricing == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := strings.Trim(strings.TrimPrefix(r.URL.Path, "/prices"), "/")
	quote, err := h.pricing.QuoteUSD(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// helpers ---------------------------------------------------------------------

func intentResponse(it intent.Intent) map[string]interface{} {
	out := map[string]interface{}{
		"intent_id":        it.ID,
		"merchant_address": it.MerchantAddress,
		"token_address":    it.TokenAddress,
		"requested_amount": it.RequestedAmount,
		"status":           string(it.Status),
		"expires_at":       it.ExpiresAt,
		"created_at":       it.CreatedAt,
		"updated_at":       it.UpdatedAt,
	}
	if it.TransactionHash != "" {
		out["transaction_hash"] = it.TransactionHash
	}
	if it.Status == intent.StatusCompleted {
		out["payer_address"] = it.PayerAddress
		out["gross_amount"] = bigString(it.GrossAmount)
		out["net_amount"] = bigString(it.NetAmount)
		out["fee_amount"] = bigString(it.FeeAmount)
		out["block_number"] = it.BlockNumber
		out["completed_at"] = it.CompletedAt
	}
	return out
}

func merchantResponse(acct merchant.Account) map[string]interface{} {
	return map[string]interface{}{
		"address":           acct.Address,
		"name":              acct.Name,
		"total_earnings":    bigString(acct.TotalEarnings),
		"transaction_count": acct.TransactionCount,
		"created_at":        acct.CreatedAt,
		"updated_at":        acct.UpdatedAt,
	}
}

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return fallback
}

func decodeJSON(body io.Reader, dst interface{}) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
