package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sigweihq/purchasegate/pkg/constants"
	"github.com/sigweihq/purchasegate/pkg/ledger"
	"github.com/sigweihq/purchasegate/pkg/metrics"
	"github.com/sigweihq/purchasegate/pkg/processor"
	"github.com/sigweihq/purchasegate/pkg/ratelimit"
	"github.com/sigweihq/purchasegate/pkg/types"
	"github.com/sigweihq/purchasegate/pkg/utils"
)

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VerifyTransaction is POST /api/verify-transaction
func (h *Handler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.metrics.RecordVerification(metrics.OutcomeInvalidInput, "")
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Checked before the fid becomes a rate-limit key.
	if err := processor.CheckPayerID(req.PayerID); err != nil {
		h.metrics.RecordVerification(metrics.OutcomeInvalidInput, "")
		writeError(w, processor.StatusCode(err), processor.PublicMessage(err))
		return
	}

	if !h.allow(w, r, req.PayerID) {
		return
	}

	_, err := h.verifier.Verify(r.Context(), req)
	if err != nil {
		resp := types.ErrorResponse{Error: processor.PublicMessage(err)}
		var insufficient *processor.InsufficientPaymentError
		if errors.As(err, &insufficient) {
			resp.Actual = insufficient.Actual.String()
			resp.Required = insufficient.Required.String()
		}
		writeJSON(w, processor.StatusCode(err), resp)
		return
	}

	writeJSON(w, http.StatusOK, types.VerifyResponse{Success: true})
}

// allow applies the per-payer limit. Limiter failures let the request through.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, payerID string) bool {
	payerID = strings.TrimSpace(payerID)
	if payerID == "" || !h.limiter.Enabled() {
		return true
	}

	retryAfter, allowed, err := h.limiter.Allow(r.Context(), payerID)
	if err != nil {
		h.logger.Warn("rate limiter unavailable", "fid", payerID, "error", err)
		return true
	}
	if allowed {
		return true
	}

	h.metrics.RecordVerification(metrics.OutcomeRateLimited, "")
	w.Header().Set("Retry-After", strconv.FormatInt(ratelimit.RetryAfterSeconds(retryAfter), 10))
	writeError(w, http.StatusTooManyRequests, "Too many verification attempts, please slow down")
	return false
}

// ListCatalog is GET /api/catalog
func (h *Handler) ListCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": h.catalog.Items()})
}

// Requirements is GET /api/catalog/{skuId}/requirements
func (h *Handler) Requirements(w http.ResponseWriter, r *http.Request) {
	skuID := chi.URLParam(r, "skuId")
	resource := fmt.Sprintf("%s://%s/api/catalog/%s", scheme(r), r.Host, skuID)

	reqs, err := h.catalog.PaymentRequirements(skuID, h.config.Network, h.config.Payee, resource)
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown skuId")
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// ListPurchases is GET /api/purchases?fid=
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	payerID := strings.TrimSpace(r.URL.Query().Get("fid"))
	if payerID == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	records, err := h.purchases.Purchases(r.Context(), payerID)
	if err != nil {
		h.logger.Error("list purchases failed", "fid", payerID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if records == nil {
		records = []types.PurchaseRecord{}
	}

	writeJSON(w, http.StatusOK, types.OwnedResponse{
		PayerID:   payerID,
		OwnedSKUs: ledger.DistinctSKUs(records),
		Purchases: records,
	})
}

// GetPurchase is GET /api/purchases/{paymentId}
func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentId"))
	if hash, err := utils.NormalizeTxHash(paymentID); err == nil {
		paymentID = hash
	}

	record, err := h.purchases.Find(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Purchase not found")
			return
		}
		h.logger.Error("find purchase failed", "payment_id", paymentID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, types.ErrorResponse{Error: message})
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
