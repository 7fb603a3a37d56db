package toss

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/shopmall/shopmall-backend/pkg/config"
)

// Client talks to the Toss Payments REST API. The secret key is passed as
// basic-auth username with an empty password, per the provider contract.
type Client struct {
	http          *resty.Client
	webhookSecret string
}

// NewClient builds a Toss API client from configuration.
func NewClient(cfg config.TossConfig) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("toss secret key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("toss base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetBasicAuth(cfg.SecretKey, "").
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:          httpClient,
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

// ConfirmParams identifies the checkout session to approve.
type ConfirmParams struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// CancelParams describes a full or partial cancellation.
type CancelParams struct {
	CancelReason string `json:"cancelReason"`
	CancelAmount *int64 `json:"cancelAmount,omitempty"`
}

// Receipt links to the provider-hosted receipt page.
type Receipt struct {
	URL string `json:"url"`
}

// Cancellation is one cancel record attached to a payment resource.
type Cancellation struct {
	CancelAmount int64     `json:"cancelAmount"`
	CancelReason string    `json:"cancelReason"`
	CanceledAt   time.Time `json:"canceledAt"`
}

// Payment is the provider-side payment resource.
type Payment struct {
	PaymentKey  string         `json:"paymentKey"`
	OrderID     string         `json:"orderId"`
	Status      string         `json:"status"`
	Method      string         `json:"method"`
	TotalAmount int64          `json:"totalAmount"`
	RequestedAt *time.Time     `json:"requestedAt"`
	ApprovedAt  *time.Time     `json:"approvedAt"`
	Receipt     *Receipt       `json:"receipt"`
	Cancels     []Cancellation `json:"cancels"`
}

// Confirm approves a checkout session the buyer already authenticated.
func (c *Client) Confirm(ctx context.Context, params ConfirmParams) (*Payment, error) {
	if params.PaymentKey == "" || params.OrderID == "" {
		return nil, errors.New("payment key and order id are required")
	}
	if params.Amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	return c.post(ctx, "/v1/payments/confirm", params)
}

// Cancel reverses an approved payment, fully or partially.
func (c *Client) Cancel(ctx context.Context, paymentKey string, params CancelParams) (*Payment, error) {
	if paymentKey == "" {
		return nil, errors.New("payment key is required")
	}
	if strings.TrimSpace(params.CancelReason) == "" {
		return nil, errors.New("cancel reason is required")
	}
	path := fmt.Sprintf("/v1/payments/%s/cancel", paymentKey)
	return c.post(ctx, path, params)
}

// Query fetches the payment resource by the merchant-side order id.
func (c *Client) Query(ctx context.Context, orderID string) (*Payment, error) {
	if orderID == "" {
		return nil, errors.New("order id is required")
	}

	var (
		payment Payment
		apiErr  APIError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&payment).
		SetError(&apiErr).
		Get(fmt.Sprintf("/v1/payments/orders/%s", orderID))
	if err != nil {
		return nil, transportError(err)
	}
	if resp.IsError() {
		apiErr.HTTPStatus = resp.StatusCode()
		return nil, &apiErr
	}
	return &payment, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*Payment, error) {
	var (
		payment Payment
		apiErr  APIError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&payment).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return nil, transportError(err)
	}
	if resp.IsError() {
		apiErr.HTTPStatus = resp.StatusCode()
		return nil, &apiErr
	}
	return &payment, nil
}

func transportError(err error) *APIError {
	code := CodeNetworkError
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = CodeTimeout
	}
	return &APIError{Code: code, Message: err.Error()}
}

// WebhookSecret exposes the shared secret for controllers that need it.
func (c *Client) WebhookSecret() string {
	return c.webhookSecret
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature computed over
// the minified webhook body. Comparison is constant-time.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) bool {
	return VerifySignature(payload, c.webhookSecret, signature)
}

// VerifySignature verifies an HMAC-SHA256 hex signature over the minified
// JSON payload using the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	if len(payload) == 0 || secret == "" || signature == "" {
		return false
	}
	minified, err := minifyJSON(payload)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(minified)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign produces the signature VerifySignature expects. Used by tests and by
// local tooling that replays webhook deliveries.
func Sign(payload []byte, secret string) (string, error) {
	minified, err := minifyJSON(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(minified)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func minifyJSON(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
