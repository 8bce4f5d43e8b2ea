package analytics

import (
	"log/slog"
	"net/http"
	"time"

	errors "github.com/sokocart/sokocart/internal"
	"github.com/sokocart/sokocart/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	Service ServiceAPI
	Logger  *slog.Logger
}

func NewHandler(service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.BaseHandler{Logger: logger},
		Service:     service,
		Logger:      logger,
	}
}

// parseWindow reads optional from/to query params in RFC 3339 or date-only
// form. Zero values fall back to the service defaults.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = parseTimeParam(raw); err != nil {
			return from, to, err
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = parseTimeParam(raw); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// SalesSummary handles GET /api/v1/analytics/sales (staff only)
func (h *Handler) SalesSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		h.HandleError(w, errors.NewValidationError("invalid time range", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.Service.SalesSummary(r.Context(), from, to)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// PaymentBreakdown handles GET /api/v1/analytics/payments (staff only)
func (h *Handler) PaymentBreakdown(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r)
	if err != nil {
		h.HandleError(w, errors.NewValidationError("invalid time range", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.Service.PaymentBreakdown(r.Context(), from, to)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}
