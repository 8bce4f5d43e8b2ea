package review

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	errors "github.com/sokocart/sokocart/internal"
	"github.com/sokocart/sokocart/internal/auth"
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

func productIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
}

// CreateReview handles POST /api/v1/products/{productID}/reviews
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	productID, err := productIDParam(r)
	if err != nil {
		h.HandleError(w, errors.NewValidationError("invalid product id", errors.ErrCodeValidationFailed))
		return
	}

	var req CreateReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.Service.CreateReview(r.Context(), user.ID, productID, &req)
	if err != nil {
		h.Logger.Error("CreateReview: service error", "error", err, "product_id", productID, "user_id", user.ID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, resp)
}

// UpdateReview handles PUT /api/v1/products/{productID}/reviews
func (h *Handler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	productID, err := productIDParam(r)
	if err != nil {
		h.HandleError(w, errors.NewValidationError("invalid product id", errors.ErrCodeValidationFailed))
		return
	}

	var req CreateReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.Service.UpdateReview(r.Context(), user.ID, productID, &req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// ListReviews handles GET /api/v1/products/{productID}/reviews
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	productID, err := productIDParam(r)
	if err != nil {
		h.HandleError(w, errors.NewValidationError("invalid product id", errors.ErrCodeValidationFailed))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	resp, err := h.Service.ListProductReviews(r.Context(), productID, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"reviews": resp})
}
