package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	paymentmodel "github.com/sokocart/sokocart/internal/core/datamodel/payment"
)

// MpesaClient implements the Daraja STK push flow: OAuth token, push
// request, status query and transaction reversal for refunds.
type MpesaClient struct {
	consumerKey    string
	consumerSecret string
	shortcode      string
	passkey        string
	callbackURL    string
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	logger         *slog.Logger
}

type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
	BaseURL        string
	Timeout        time.Duration
}

func NewMpesaClient(cfg MpesaConfig, logger *slog.Logger) *MpesaClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MpesaClient{
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortcode:      cfg.Shortcode,
		passkey:        cfg.Passkey,
		callbackURL:    cfg.CallbackURL,
		baseURL:        cfg.BaseURL,
		timeout:        timeout,
		client:         &http.Client{Timeout: timeout},
		logger:         logger,
	}
}

func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	url := c.baseURL + "/oauth/v1/generate?grant_type=client_credentials"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.consumerKey + ":" + c.consumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetching access token: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("%w: decoding token response: %v", ErrUnavailable, err)
	}
	return tokenResp.AccessToken, nil
}

// password is base64(shortcode + passkey + timestamp) per the Daraja spec.
func (c *MpesaClient) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.shortcode + c.passkey + timestamp))
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func (c *MpesaClient) STKPush(ctx context.Context, pushReq PushRequest) (*PushResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	payload := map[string]interface{}{
		"BusinessShortCode": c.shortcode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            pushReq.Amount.IntPart(),
		"PartyA":            pushReq.PhoneNumber,
		"PartyB":            c.shortcode,
		"PhoneNumber":       pushReq.PhoneNumber,
		"CallBackURL":       c.callbackURL,
		"AccountReference":  pushReq.AccountReference,
		"TransactionDesc":   pushReq.Description,
	}

	body, err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", token, payload)
	if err != nil {
		return nil, err
	}

	var resp stkPushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding stk push response: %v", ErrUnavailable, err)
	}

	if resp.ResponseCode != "0" {
		c.logger.Warn("stk push rejected by provider",
			"response_code", resp.ResponseCode,
			"description", resp.ResponseDescription)
		return nil, fmt.Errorf("%w: %s", ErrRejected, resp.ResponseDescription)
	}

	c.logger.Info("stk push accepted",
		"merchant_request_id", resp.MerchantRequestID,
		"checkout_request_id", resp.CheckoutRequestID)

	return &PushResult{
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
		Raw:               body,
	}, nil
}

// stkCallbackEnvelope is the Daraja callback body:
// Body.stkCallback carries the result and, on success, metadata items with
// the receipt number, amount and phone number.
type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (c *MpesaClient) ParseCallback(raw []byte) (*CallbackResult, error) {
	var envelope stkCallbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: missing checkout request id", ErrMalformedCallback)
	}

	result := &CallbackResult{
		CorrelationID:     cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDescription: cb.ResultDesc,
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				result.ExternalTxnID = v
			}
		case "Amount":
			switch v := item.Value.(type) {
			case float64:
				amount := decimal.NewFromFloat(v)
				result.Amount = &amount
			case string:
				if amount, err := decimal.NewFromString(v); err == nil {
					result.Amount = &amount
				}
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case float64:
				result.PhoneNumber = strconv.FormatFloat(v, 'f', -1, 64)
			case string:
				result.PhoneNumber = v
			}
		}
	}

	return result, nil
}

type stkQueryResponse struct {
	ResponseCode string `json:"ResponseCode"`
	ResultCode   string `json:"ResultCode"`
	ResultDesc   string `json:"ResultDesc"`
}

func (c *MpesaClient) QueryStatus(ctx context.Context, checkoutRequestID string) (*CallbackResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	payload := map[string]interface{}{
		"BusinessShortCode": c.shortcode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	body, err := c.post(ctx, "/mpesa/stkpushquery/v1/query", token, payload)
	if err != nil {
		return nil, err
	}

	var resp stkQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding query response: %v", ErrUnavailable, err)
	}

	resultCode, err := strconv.Atoi(resp.ResultCode)
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric result code %q", ErrUnavailable, resp.ResultCode)
	}

	return &CallbackResult{
		CorrelationID:     checkoutRequestID,
		ResultCode:        resultCode,
		ResultDescription: resp.ResultDesc,
	}, nil
}

type reversalResponse struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// Refund issues a transaction reversal against the original receipt.
func (c *MpesaClient) Refund(ctx context.Context, r *paymentmodel.Refund, p *paymentmodel.Payment, capturable decimal.Decimal) (*RefundResult, error) {
	if r.Amount.GreaterThan(capturable) {
		return nil, fmt.Errorf("%w: requested %s, capturable %s", ErrInsufficientCapture, r.Amount, capturable)
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"TransactionID":          p.ProviderPaymentID,
		"Amount":                 r.Amount.IntPart(),
		"ReceiverParty":          c.shortcode,
		"RecieverIdentifierType": "11",
		"Remarks":                r.Reason,
	}

	body, err := c.post(ctx, "/mpesa/reversal/v1/request", token, payload)
	if err != nil {
		return nil, err
	}

	var resp reversalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding reversal response: %v", ErrUnavailable, err)
	}

	if resp.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, resp.ResponseDescription)
	}

	return &RefundResult{
		ProviderRef: resp.OriginatorConversationID,
		Succeeded:   true,
		Raw:         body,
	}, nil
}

func (c *MpesaClient) post(ctx context.Context, path, token string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("mpesa request failed", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: provider returned status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		c.logger.Warn("mpesa request rejected",
			"path", path,
			"status", resp.StatusCode,
			"response", string(body))
		return nil, fmt.Errorf("%w: provider returned status %d", ErrRejected, resp.StatusCode)
	}

	return body, nil
}
