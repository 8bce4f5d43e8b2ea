package payment

import (
	"io"
	"log/slog"
	"net/http"

	errors "github.com/sokocart/sokocart/internal"
	"github.com/sokocart/sokocart/internal/transport"
)

// WebhookHandler receives asynchronous provider notifications. Both
// endpoints are unauthenticated and always acknowledge: a non-2xx answer
// would only make the provider redeliver a payload we have already stored.
type WebhookHandler struct {
	transport.BaseHandler
	Service ServiceAPI
	Logger  *slog.Logger
}

func NewWebhookHandler(service ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: transport.BaseHandler{Logger: logger},
		Service:     service,
		Logger:      logger,
	}
}

// HandleCardWebhook handles POST /api/v1/payments/webhook
func (h *WebhookHandler) HandleCardWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Error("card webhook: failed to read body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if err := h.Service.HandleCardWebhook(r.Context(), raw, signature); err != nil {
		if appErr, ok := errors.IsAppError(err); ok && appErr.Code == errors.ErrCodeMalformedCallback {
			h.HandleError(w, appErr)
			return
		}
		h.Logger.Error("card webhook: processing failed", "error", err)
		h.WriteError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

type mpesaAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// HandleMpesaCallback handles POST /api/v1/payments/mpesa/callback.
// The provider expects the Daraja acknowledgement shape regardless of what
// happened on our side.
func (h *WebhookHandler) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Error("mpesa callback: failed to read body", "error", err)
		h.WriteJSON(w, http.StatusOK, mpesaAck{ResultCode: 1, ResultDesc: "Rejected"})
		return
	}

	if err := h.Service.HandleMpesaCallback(r.Context(), raw); err != nil {
		if appErr, ok := errors.IsAppError(err); ok && appErr.Code == errors.ErrCodeMalformedCallback {
			h.WriteJSON(w, http.StatusOK, mpesaAck{ResultCode: 1, ResultDesc: "Rejected"})
			return
		}
		h.Logger.Error("mpesa callback: processing failed", "error", err)
		// stored but not applied; ack so the provider does not retry forever
	}

	h.WriteJSON(w, http.StatusOK, mpesaAck{ResultCode: 0, ResultDesc: "Success"})
}
