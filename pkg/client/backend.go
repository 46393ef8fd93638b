package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"index-swap/pkg/swap"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8000"
	DefaultTimeout = 15 * time.Second

	maxErrorBody = 64 << 10
)

// BackendClient talks to the trading backend
type BackendClient struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logrus.Entry
}

// NewBackendClient creates a new backend client
func NewBackendClient(baseURL, token string, timeout time.Duration, log *logrus.Entry) *BackendClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type buyRequest struct {
	AmountOfUSDCSent json.Number `json:"amount_of_usdc_sent"`
	FrontendHash     string      `json:"frontend_hash"`
}

type sellRequest struct {
	AmountOfDSPYSent json.Number `json:"amount_of_dspy_sent"`
	FrontendHash     string      `json:"frontend_hash"`
}

// RegisterOrder records a pending order under the attempt's key.
// Buys go to /buy_spy and sells to /sell_spy.
func (c *BackendClient) RegisterOrder(ctx context.Context, order swap.Order) (*swap.OrderAck, error) {
	var path string
	var body interface{}
	amount := json.Number(order.Amount.String())

	switch order.Direction {
	case swap.Buy:
		path = "/buy_spy"
		body = buyRequest{AmountOfUSDCSent: amount, FrontendHash: order.Key.String()}
	case swap.Sell:
		path = "/sell_spy"
		body = sellRequest{AmountOfDSPYSent: amount, FrontendHash: order.Key.String()}
	default:
		return nil, swap.NewError(swap.KindValidation, "unknown direction %q", order.Direction)
	}

	var resp json.RawMessage
	if err := c.do(ctx, http.MethodPost, path, true, body, &resp); err != nil {
		return nil, err
	}

	// a 2xx means the order was accepted whatever the body looks like;
	// only an object carries fields worth reading
	raw := map[string]interface{}{}
	if err := json.Unmarshal(resp, &raw); err != nil {
		raw = nil
	}

	ack := &swap.OrderAck{Raw: raw}
	var message string
	if raw == nil && json.Unmarshal(resp, &message) == nil {
		ack.Event = message
	}
	for _, field := range []string{"order_id", "id", "reference", "frontend_hash"} {
		if v, ok := raw[field]; ok && v != nil {
			ack.Reference = fmt.Sprint(v)
			break
		}
	}
	if v, ok := raw["event"].(string); ok {
		ack.Event = v
	}
	if ack.Reference == "" {
		ack.Reference = order.Key.String()
	}

	c.log.WithFields(logrus.Fields{
		"idempotency_key": order.Key.String(),
		"path":            path,
		"order_ref":       ack.Reference,
	}).Debug("order registered with backend")

	return ack, nil
}

// MarketStatus is the backend's trading status
type MarketStatus struct {
	Message string `json:"message"`
	IsOpen  *bool  `json:"is_open"`
}

// MarketStatus retrieves whether the market is open
func (c *BackendClient) MarketStatus(ctx context.Context) (*MarketStatus, error) {
	var status MarketStatus
	if err := c.do(ctx, http.MethodGet, "/status", false, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RegisteredWallet returns the wallet address the backend pays out to,
// or "" when none is registered
func (c *BackendClient) RegisteredWallet(ctx context.Context) (string, error) {
	var resp struct {
		WalletAddress string `json:"wallet_address"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/get_wallet", true, nil, &resp); err != nil {
		return "", err
	}
	return resp.WalletAddress, nil
}

// RegisterWallet sets the wallet address the backend pays out to
func (c *BackendClient) RegisterWallet(ctx context.Context, address string) error {
	body := map[string]string{"erc20_address": address}
	return c.do(ctx, http.MethodPost, "/api/add_wallet", true, body, nil)
}

// BackendOrder is one order as the backend reports it
type BackendOrder struct {
	FrontendHash string                 `json:"frontend_hash"`
	Event        string                 `json:"event"`
	CreatedAt    string                 `json:"created_at"`
	USDCReceived *decimal.Decimal       `json:"usdc_received_from_user,omitempty"`
	DSPYReceived *decimal.Decimal       `json:"dspy_received_from_user,omitempty"`
	DSPYMinted   *decimal.Decimal       `json:"dspy_mint_filled_quantity,omitempty"`
	Fields       map[string]interface{} `json:"-"`
}

// Direction infers the order direction from its event name
func (o BackendOrder) Direction() string {
	switch {
	case strings.HasPrefix(o.Event, "BUY_"):
		return string(swap.Buy)
	case strings.Contains(o.Event, "SELL_ORDER"),
		strings.Contains(o.Event, "BURNING"),
		strings.Contains(o.Event, "REDEMPTION"):
		return string(swap.Sell)
	default:
		return "unknown"
	}
}

// Orders lists the caller's orders
func (c *BackendClient) Orders(ctx context.Context) ([]BackendOrder, error) {
	var resp struct {
		Orders []json.RawMessage `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/get_all_orders", true, nil, &resp); err != nil {
		return nil, err
	}

	orders := make([]BackendOrder, 0, len(resp.Orders))
	for _, raw := range resp.Orders {
		var o BackendOrder
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		if err := json.Unmarshal(raw, &o.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// FindOrder returns the order registered under the given frontend hash
func (c *BackendClient) FindOrder(ctx context.Context, hash string) (*BackendOrder, error) {
	orders, err := c.Orders(ctx)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if strings.EqualFold(orders[i].FrontendHash, hash) {
			return &orders[i], nil
		}
	}
	return nil, fmt.Errorf("order %s not found", hash)
}

// do sends a JSON request and classifies the response
func (c *BackendClient) do(ctx context.Context, method, path string, auth bool, in, out interface{}) error {
	if auth && c.token == "" {
		return swap.NewError(swap.KindUnauthenticated, "no auth token configured")
	}

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return swap.WrapError(swap.KindBackendUnreachable, err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(method, path, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return swap.WrapError(swap.KindBackendUnreachable, err, "failed to decode %s response", path)
	}
	return nil
}

func classifyStatus(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	reason := errorDetail(body)
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return swap.NewError(swap.KindUnauthenticated, "%s %s: %s", method, path, reason)
	case resp.StatusCode >= 500:
		return swap.NewError(swap.KindBackendUnreachable, "%s %s returned status %d: %s", method, path, resp.StatusCode, reason)
	default:
		return swap.NewError(swap.KindBackendRejected, "%s", reason)
	}
}

// errorDetail extracts a reason from {"detail": ...}, {"error": ...} or
// {"message": ...}. Structured details are re-encoded as JSON.
func errorDetail(body []byte) string {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return strings.TrimSpace(string(body))
	}

	for _, field := range []string{"detail", "error", "message"} {
		raw, ok := parsed[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}
	return ""
}
