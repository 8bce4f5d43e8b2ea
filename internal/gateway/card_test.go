package gateway_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/shopspring/decimal"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
	"github.com/sokocart/sokocart/internal/gateway"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CardClient", func() {
	var (
		server *httptest.Server
		client *gateway.CardClient
		logger *slog.Logger

		intentStatus   int
		confirmBody    map[string]interface{}
		lastIdemKey    string
		intentRequests int
	)

	newPayment := func() *paymentmodel.Payment {
		return &paymentmodel.Payment{
			ID:       "11111111-2222-3333-4444-555555555555",
			OrderID:  42,
			Amount:   decimal.NewFromInt(1000),
			Currency: "KES",
			Provider: paymentmodel.ProviderCard,
			Status:   paymentmodel.StatusPending,
		}
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		intentStatus = http.StatusOK
		confirmBody = map[string]interface{}{
			"id":             "pi_123",
			"status":         "succeeded",
			"transaction_id": "txn_789",
		}
		lastIdemKey = ""
		intentRequests = 0

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lastIdemKey = r.Header.Get("Idempotency-Key")
			switch {
			case r.URL.Path == "/v1/payment_intents":
				intentRequests++
				w.WriteHeader(intentStatus)
				json.NewEncoder(w).Encode(map[string]string{
					"id":            "pi_123",
					"client_secret": "cs_456",
					"status":        "requires_confirmation",
				})
			case r.URL.Path == "/v1/payment_intents/pi_123/confirm":
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(confirmBody)
			case r.URL.Path == "/v1/refunds":
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]string{
					"id":     "re_001",
					"status": "succeeded",
				})
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))

		client = gateway.NewCardClient(gateway.CardConfig{
			APIURL:        server.URL,
			APIKey:        "sk_test",
			WebhookSecret: "whsec_test",
		}, logger)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("CreateIntent", func() {
		It("should create an intent and send the payment id as idempotency key", func() {
			p := newPayment()
			intent, err := client.CreateIntent(context.Background(), p)
			Expect(err).NotTo(HaveOccurred())
			Expect(intent.ProviderRef).To(Equal("pi_123"))
			Expect(intent.ClientSecret).To(Equal("cs_456"))
			Expect(intent.Reused).To(BeFalse())
			Expect(lastIdemKey).To(Equal(p.ID))
		})

		It("should reuse the stored provider ref without calling the provider", func() {
			p := newPayment()
			p.ProviderPaymentID = "pi_existing"
			p.ProviderClientSecret = "cs_existing"

			intent, err := client.CreateIntent(context.Background(), p)
			Expect(err).NotTo(HaveOccurred())
			Expect(intent.Reused).To(BeTrue())
			Expect(intent.ProviderRef).To(Equal("pi_existing"))
			Expect(intentRequests).To(BeZero())
		})

		Context("when the provider rejects the intent", func() {
			BeforeEach(func() {
				intentStatus = http.StatusUnprocessableEntity
			})

			It("should return a rejection error", func() {
				_, err := client.CreateIntent(context.Background(), newPayment())
				Expect(err).To(MatchError(gateway.ErrRejected))
			})
		})

		Context("when the provider is unreachable", func() {
			It("should return an unavailable error", func() {
				server.Close()
				_, err := client.CreateIntent(context.Background(), newPayment())
				Expect(err).To(MatchError(gateway.ErrUnavailable))
			})
		})
	})

	Describe("Confirm", func() {
		It("should report success with the provider transaction id", func() {
			p := newPayment()
			p.ProviderPaymentID = "pi_123"

			result, err := client.Confirm(context.Background(), p)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Succeeded).To(BeTrue())
			Expect(result.ProviderTransactionID).To(Equal("txn_789"))
		})

		Context("when the provider declines", func() {
			BeforeEach(func() {
				confirmBody = map[string]interface{}{
					"id":     "pi_123",
					"status": "failed",
					"error": map[string]string{
						"code":    "card_declined",
						"message": "Your card was declined.",
					},
				}
			})

			It("should return the decline detail alongside a rejection error", func() {
				p := newPayment()
				p.ProviderPaymentID = "pi_123"

				result, err := client.Confirm(context.Background(), p)
				Expect(err).To(MatchError(gateway.ErrRejected))
				Expect(result).NotTo(BeNil())
				Expect(result.Succeeded).To(BeFalse())
				Expect(result.ErrorCode).To(Equal("card_declined"))
				Expect(result.ErrorMessage).To(Equal("Your card was declined."))
			})
		})
	})

	Describe("Refund", func() {
		It("should refund within the capturable amount", func() {
			p := newPayment()
			p.ProviderPaymentID = "pi_123"
			refund := &paymentmodel.Refund{
				ID:        "refund-1",
				PaymentID: p.ID,
				Amount:    decimal.NewFromInt(400),
				Reason:    "requested_by_customer",
			}

			result, err := client.Refund(context.Background(), refund, p, decimal.NewFromInt(1000))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Succeeded).To(BeTrue())
			Expect(result.ProviderRef).To(Equal("re_001"))
		})

		It("should reject a refund above the capturable amount locally", func() {
			p := newPayment()
			refund := &paymentmodel.Refund{Amount: decimal.NewFromInt(1500)}

			_, err := client.Refund(context.Background(), refund, p, decimal.NewFromInt(1000))
			Expect(err).To(MatchError(gateway.ErrInsufficientCapture))
		})
	})

	Describe("ParseWebhook", func() {
		sign := func(payload []byte) string {
			mac := hmac.New(sha256.New, []byte("whsec_test"))
			mac.Write(payload)
			return hex.EncodeToString(mac.Sum(nil))
		}

		It("should accept a correctly signed success webhook", func() {
			payload := []byte(`{"type":"payment_intent.succeeded","data":{"payment_intent_id":"pi_123","status":"succeeded","transaction_id":"txn_789","amount":"1000"}}`)

			result, err := client.ParseWebhook(payload, sign(payload))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.CorrelationID).To(Equal("pi_123"))
			Expect(result.Succeeded()).To(BeTrue())
			Expect(result.ExternalTxnID).To(Equal("txn_789"))
		})

		It("should reject a webhook with a bad signature", func() {
			payload := []byte(`{"data":{"payment_intent_id":"pi_123","status":"succeeded"}}`)

			_, err := client.ParseWebhook(payload, "deadbeef")
			Expect(err).To(MatchError(gateway.ErrMalformedCallback))
		})

		It("should reject a webhook without a payment intent id", func() {
			payload := []byte(`{"data":{"status":"succeeded"}}`)

			_, err := client.ParseWebhook(payload, sign(payload))
			Expect(err).To(MatchError(gateway.ErrMalformedCallback))
		})

		It("should map a failed status to a non-success result", func() {
			payload := []byte(`{"data":{"payment_intent_id":"pi_123","status":"failed","error_message":"insufficient funds"}}`)

			result, err := client.ParseWebhook(payload, sign(payload))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Succeeded()).To(BeFalse())
			Expect(result.ResultDescription).To(Equal("insufficient funds"))
		})
	})
})
