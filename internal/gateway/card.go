package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
)

// CardClient talks to the card/wallet provider over its REST API.
type CardClient struct {
	apiURL        string
	apiKey        string
	webhookSecret string
	timeout       time.Duration
	client        *http.Client
	logger        *slog.Logger
}

type CardConfig struct {
	APIURL        string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

func NewCardClient(cfg CardConfig, logger *slog.Logger) *CardClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CardClient{
		apiURL:        cfg.APIURL,
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		timeout:       timeout,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

type cardIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

func (c *CardClient) CreateIntent(ctx context.Context, p *paymentmodel.Payment) (*Intent, error) {
	if p.ProviderPaymentID != "" {
		c.logger.Info("reusing existing payment intent",
			"payment_id", p.ID,
			"provider_ref", p.ProviderPaymentID)
		return &Intent{
			ProviderRef:  p.ProviderPaymentID,
			ClientSecret: p.ProviderClientSecret,
			Reused:       true,
		}, nil
	}

	payload := map[string]interface{}{
		"amount":   p.Amount.String(),
		"currency": p.Currency,
		"metadata": map[string]string{"payment_id": p.ID},
	}

	body, status, err := c.post(ctx, "/v1/payment_intents", p.ID, payload)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		c.logger.Error("card provider rejected intent creation",
			"payment_id", p.ID,
			"status", status,
			"response", string(body))
		return nil, fmt.Errorf("%w: intent creation returned status %d", ErrRejected, status)
	}

	var resp cardIntentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding intent response: %v", ErrUnavailable, err)
	}

	c.logger.Info("payment intent created",
		"payment_id", p.ID,
		"provider_ref", resp.ID)

	return &Intent{
		ProviderRef:  resp.ID,
		ClientSecret: resp.ClientSecret,
		Raw:          body,
	}, nil
}

type cardConfirmResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Error         struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *CardClient) Confirm(ctx context.Context, p *paymentmodel.Payment) (*ConfirmResult, error) {
	path := fmt.Sprintf("/v1/payment_intents/%s/confirm", p.ProviderPaymentID)

	body, status, err := c.post(ctx, path, p.ID, map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	var resp cardConfirmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding confirm response: %v", ErrUnavailable, err)
	}

	if status >= 400 || resp.Status != "succeeded" {
		c.logger.Warn("card provider declined confirmation",
			"payment_id", p.ID,
			"provider_ref", p.ProviderPaymentID,
			"provider_status", resp.Status,
			"error_code", resp.Error.Code)
		return &ConfirmResult{
			Succeeded:    false,
			ErrorCode:    resp.Error.Code,
			ErrorMessage: resp.Error.Message,
			Raw:          body,
		}, fmt.Errorf("%w: confirmation status %q", ErrRejected, resp.Status)
	}

	return &ConfirmResult{
		Succeeded:             true,
		ProviderTransactionID: resp.TransactionID,
		Raw:                   body,
	}, nil
}

type cardRefundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (c *CardClient) Refund(ctx context.Context, r *paymentmodel.Refund, p *paymentmodel.Payment, capturable decimal.Decimal) (*RefundResult, error) {
	if r.Amount.GreaterThan(capturable) {
		return nil, fmt.Errorf("%w: requested %s, capturable %s", ErrInsufficientCapture, r.Amount, capturable)
	}

	payload := map[string]interface{}{
		"payment_intent": p.ProviderPaymentID,
		"amount":         r.Amount.String(),
		"reason":         r.Reason,
	}

	body, status, err := c.post(ctx, "/v1/refunds", r.ID, payload)
	if err != nil {
		return nil, err
	}

	var resp cardRefundResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding refund response: %v", ErrUnavailable, err)
	}

	if status >= 400 {
		if resp.Error.Code == "amount_too_large" {
			return nil, fmt.Errorf("%w: provider reports amount too large", ErrInsufficientCapture)
		}
		return nil, fmt.Errorf("%w: refund returned status %d", ErrRejected, status)
	}

	return &RefundResult{
		ProviderRef: resp.ID,
		Succeeded:   resp.Status == "succeeded",
		Raw:         body,
	}, nil
}

type cardWebhookPayload struct {
	Type string `json:"type"`
	Data struct {
		PaymentIntentID string `json:"payment_intent_id"`
		Status          string `json:"status"`
		TransactionID   string `json:"transaction_id"`
		Amount          string `json:"amount"`
		ErrorMessage    string `json:"error_message"`
	} `json:"data"`
}

// ParseWebhook verifies the HMAC signature when a secret is configured and
// decodes the notification into the rail-neutral callback form.
func (c *CardClient) ParseWebhook(raw []byte, signature string) (*CallbackResult, error) {
	if c.webhookSecret != "" {
		mac := hmac.New(sha256.New, []byte(c.webhookSecret))
		mac.Write(raw)
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(signature)) {
			return nil, fmt.Errorf("%w: signature mismatch", ErrMalformedCallback)
		}
	}

	var payload cardWebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if payload.Data.PaymentIntentID == "" {
		return nil, fmt.Errorf("%w: missing payment intent id", ErrMalformedCallback)
	}

	result := &CallbackResult{
		CorrelationID:     payload.Data.PaymentIntentID,
		ResultDescription: payload.Data.Status,
		ExternalTxnID:     payload.Data.TransactionID,
	}
	if payload.Data.Status == "succeeded" {
		result.ResultCode = 0
	} else {
		result.ResultCode = 1
		if payload.Data.ErrorMessage != "" {
			result.ResultDescription = payload.Data.ErrorMessage
		}
	}
	if payload.Data.Amount != "" {
		if amount, err := decimal.NewFromString(payload.Data.Amount); err == nil {
			result.Amount = &amount
		}
	}
	return result, nil
}

// post issues a JSON POST with the provider auth header and an idempotency
// key, mapping transport failures to ErrUnavailable.
func (c *CardClient) post(ctx context.Context, path, idempotencyKey string, payload interface{}) ([]byte, int, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("card provider request failed",
			"path", path,
			"error", err)
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return body, resp.StatusCode, fmt.Errorf("%w: provider returned status %d", ErrUnavailable, resp.StatusCode)
	}

	return body, resp.StatusCode, nil
}
