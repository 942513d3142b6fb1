// Package billing wraps the payment gateway's order API and verifies its
// payment confirmation signatures. The gateway itself is an external
// collaborator; nothing here touches account state.
package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrInvalidGatewayConfig = errors.New("invalid gateway config")
)

const (
	defaultBaseURL = "https://api.razorpay.com"
	defaultTimeout = 10 * time.Second
	ordersPath     = "/v1/orders"
)

// Order is the gateway-issued order handle.
type Order struct {
	OrderID     string `json:"id"`
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// Config aggregates gateway credentials and endpoint settings.
type Config struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Timeout   time.Duration
}

// Gateway creates payment orders and verifies confirmation signatures.
type Gateway struct {
	cfg    Config
	client *http.Client
}

// New wires a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, fmt.Errorf("%w: key id and secret are required", ErrInvalidGatewayConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// KeyID exposes the publishable key id the client embeds in its checkout.
func (gateway *Gateway) KeyID() string {
	return gateway.cfg.KeyID
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// CreateOrder registers a payable order with the gateway and returns its
// handle. Amounts are minor currency units.
func (gateway *Gateway) CreateOrder(ctx context.Context, amountCents int64, currency string, notes map[string]string) (Order, error) {
	body, err := json.Marshal(orderRequest{
		Amount:   amountCents,
		Currency: currency,
		Receipt:  "rcpt_" + uuid.NewString(),
		Notes:    notes,
	})
	if err != nil {
		return Order{}, fmt.Errorf("marshal order: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, gateway.cfg.BaseURL+ordersPath, bytes.NewReader(body))
	if err != nil {
		return Order{}, fmt.Errorf("build order request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.SetBasicAuth(gateway.cfg.KeyID, gateway.cfg.KeySecret)

	response, err := gateway.client.Do(request)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode != http.StatusOK {
		return Order{}, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, response.StatusCode)
	}
	var order Order
	if err := json.NewDecoder(response.Body).Decode(&order); err != nil {
		return Order{}, fmt.Errorf("%w: decode order: %v", ErrGatewayUnavailable, err)
	}
	if order.OrderID == "" {
		return Order{}, fmt.Errorf("%w: empty order id", ErrGatewayUnavailable)
	}
	return order, nil
}

// VerifySignature recomputes the HMAC-SHA256 hex digest of
// "orderID|paymentID" under the key secret and compares in constant time.
func (gateway *Gateway) VerifySignature(orderID string, paymentID string, signature string) error {
	mac := hmac.New(sha256.New, []byte(gateway.cfg.KeySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
