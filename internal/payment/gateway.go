// Package payment talks to the external charge-authorization service. Only
// intent creation lives here; moving funds happens between the client and the
// gateway.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"codelab.org/internal/money"
	"codelab.org/internal/obs"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrInvalidAmount      = money.ErrInvalidAmount
)

const defaultTimeout = 10 * time.Second

// ChargeIntent is handed to the client to complete payment off-box. It is
// never persisted.
type ChargeIntent struct {
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Config configures Client.
type Config struct {
	SecretKey string
	BaseURL   string
	Currency  string
	Timeout   time.Duration
}

// Client creates charge intents against a Stripe-compatible
// /v1/payment_intents endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateChargeIntent converts amount to minor units (x100, truncated) and
// requests a card charge intent in the configured currency. Every transport,
// timeout or gateway-side failure is reported as ErrGatewayUnavailable.
// There is no retry: without an idempotency key a retry may double-authorize.
func (c *Client) CreateChargeIntent(ctx context.Context, amount decimal.Decimal) (ChargeIntent, error) {
	minor, err := money.MinorUnits(amount)
	if err != nil {
		return ChargeIntent{}, ErrInvalidAmount
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minor, 10))
	form.Set("currency", c.cfg.Currency)
	form.Add("payment_method_types[]", "card")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return ChargeIntent{}, c.unavailable(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ChargeIntent{}, c.unavailable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ChargeIntent{}, c.unavailable(err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return ChargeIntent{}, c.unavailable(fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	var out intentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return ChargeIntent{}, c.unavailable(fmt.Errorf("decode intent: %w", err))
	}
	if out.ClientSecret == "" {
		return ChargeIntent{}, c.unavailable(errors.New("intent without client secret"))
	}

	obs.ObserveGateway("ok")
	intent := ChargeIntent{ClientSecret: out.ClientSecret, Amount: minor, Currency: c.cfg.Currency}
	if out.Amount != 0 {
		intent.Amount = out.Amount
	}
	if out.Currency != "" {
		intent.Currency = out.Currency
	}
	return intent, nil
}

func (c *Client) unavailable(err error) error {
	outcome := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = "timeout"
	}
	obs.ObserveGateway(outcome)
	obs.Warn("payment_gateway_failed", map[string]any{
		"outcome": outcome,
		"error":   err.Error(),
	})
	return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
}
