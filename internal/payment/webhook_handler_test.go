package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	apperrors "github.com/sokocart/sokocart/internal"
	"github.com/sokocart/sokocart/internal/payment"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// webhookServiceStub records calls and returns a scripted error.
type webhookServiceStub struct {
	payment.ServiceAPI
	cardErr  error
	mpesaErr error
	rawSeen  []byte
}

func (s *webhookServiceStub) HandleCardWebhook(_ context.Context, raw []byte, _ string) error {
	s.rawSeen = raw
	return s.cardErr
}

func (s *webhookServiceStub) HandleMpesaCallback(_ context.Context, raw []byte) error {
	s.rawSeen = raw
	return s.mpesaErr
}

var _ = Describe("Webhook Handler", func() {
	var (
		stub    *webhookServiceStub
		handler *payment.WebhookHandler
	)

	BeforeEach(func() {
		stub = &webhookServiceStub{}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		handler = payment.NewWebhookHandler(stub, logger)
	})

	Describe("HandleMpesaCallback", func() {
		It("should acknowledge a processed callback with the Daraja success shape", func() {
			body := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/mpesa/callback", bytes.NewReader(body))
			rec := httptest.NewRecorder()

			handler.HandleMpesaCallback(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var ack map[string]interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
			Expect(ack["ResultCode"]).To(BeNumerically("==", 0))
			Expect(ack["ResultDesc"]).To(Equal("Success"))
			Expect(stub.rawSeen).To(Equal(body))
		})

		It("should reject malformed payloads without inviting retries", func() {
			stub.mpesaErr = apperrors.NewValidationError("malformed callback payload", apperrors.ErrCodeMalformedCallback)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/mpesa/callback", bytes.NewReader([]byte(`garbage`)))
			rec := httptest.NewRecorder()

			handler.HandleMpesaCallback(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var ack map[string]interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
			Expect(ack["ResultCode"]).To(BeNumerically("==", 1))
		})

		It("should still acknowledge when processing fails internally", func() {
			stub.mpesaErr = apperrors.NewInternalError("db down", nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/mpesa/callback", bytes.NewReader([]byte(`{}`)))
			rec := httptest.NewRecorder()

			handler.HandleMpesaCallback(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var ack map[string]interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
			Expect(ack["ResultCode"]).To(BeNumerically("==", 0))
		})
	})

	Describe("HandleCardWebhook", func() {
		It("should pass the raw body and signature through and acknowledge", func() {
			body := []byte(`{"data":{"payment_intent_id":"pi_1","status":"succeeded"}}`)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(body))
			req.Header.Set("X-Webhook-Signature", "sig")
			rec := httptest.NewRecorder()

			handler.HandleCardWebhook(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(stub.rawSeen).To(Equal(body))
		})

		It("should answer 400 for a malformed webhook", func() {
			stub.cardErr = apperrors.NewValidationError("malformed webhook payload", apperrors.ErrCodeMalformedCallback)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader([]byte(`garbage`)))
			rec := httptest.NewRecorder()

			handler.HandleCardWebhook(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
