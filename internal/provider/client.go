// Package provider is a client for the payment provider's transaction API.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/ashendes/payment-relay/internal/metrics"
	"github.com/ashendes/payment-relay/internal/models"
	"github.com/ashendes/payment-relay/internal/patterns"
)

// DefaultBaseURL is the provider's production API
const DefaultBaseURL = "https://api.paystack.co"

// Config configures a Client
type Config struct {
	BaseURL     string
	SecretKey   string
	Currency    string
	CallbackURL string
	Breaker     patterns.BreakerSettings
}

// InitializeParams describes a charge to open with the provider
type InitializeParams struct {
	Email     string
	Amount    decimal.Decimal
	Reference string
	Metadata  models.Metadata
}

// Authorization is the provider's answer to a successful initialize
type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification is the provider's current view of a transaction
type Verification struct {
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	GatewayResponse string          `json:"gateway_response"`
	PaidAt          string          `json:"paid_at"`
	Metadata        models.Metadata `json:"metadata"`
}

// envelope wraps every provider response body
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeBody struct {
	Email       string          `json:"email"`
	Amount      int64           `json:"amount"`
	Reference   string          `json:"reference"`
	Currency    string          `json:"currency,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
	Metadata    models.Metadata `json:"metadata,omitempty"`
}

// statusError marks a 5xx so the breaker counts it as a failure
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.code, e.body)
}

// Client calls the provider through a circuit breaker with a bounded timeout
type Client struct {
	http    *resty.Client
	circuit *patterns.CircuitBreakerWrapper
	cfg     Config
}

// NewClient builds a provider client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetAuthToken(cfg.SecretKey).
			SetHeader("Content-Type", "application/json").
			SetTimeout(patterns.DefaultTimeout).
			SetRetryCount(0),
		circuit: patterns.NewCircuitBreaker("Provider", "relay-service", cfg.Breaker),
		cfg:     cfg,
	}
}

// CircuitState reports the breaker state for status endpoints
func (c *Client) CircuitState() string {
	return c.circuit.GetState()
}

// Initialize opens a charge and returns the checkout handle
func (c *Client) Initialize(ctx context.Context, params InitializeParams) (*Authorization, error) {
	body := initializeBody{
		Email:       params.Email,
		Amount:      models.ToMinorUnits(params.Amount),
		Reference:   params.Reference,
		Currency:    c.cfg.Currency,
		CallbackURL: c.cfg.CallbackURL,
		Metadata:    params.Metadata,
	}

	var auth Authorization
	err := c.call(ctx, "initialize", func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(body).Post("/transaction/initialize")
	}, &auth)
	if err != nil {
		return nil, err
	}
	if auth.Reference == "" {
		auth.Reference = params.Reference
	}
	return &auth, nil
}

// Verify fetches the provider's current status for reference
func (c *Client) Verify(ctx context.Context, reference string) (*Verification, error) {
	var v Verification
	err := c.call(ctx, "verify", func(req *resty.Request) (*resty.Response, error) {
		return req.SetPathParam("reference", reference).Get("/transaction/verify/{reference}")
	}, &v)
	if err != nil {
		return nil, err
	}
	if v.Reference == "" {
		v.Reference = reference
	}
	return &v, nil
}

// call runs one request and classifies the failure: no response at all is
// ErrProviderUnavailable, any response the provider refused is ErrProviderRejected
func (c *Client) call(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error), out interface{}) error {
	ctx, cancel := patterns.WithTimeout(ctx)
	defer cancel()

	result, err := c.circuit.Execute(func() (interface{}, error) {
		resp, httpErr := send(c.http.R().SetContext(ctx))
		if httpErr != nil {
			return nil, fmt.Errorf("HTTP error: %w", httpErr)
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, &statusError{code: resp.StatusCode(), body: truncate(resp.String(), 200)}
		}
		return resp, nil
	})

	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			metrics.ProviderCallsTotal.WithLabelValues(op, "rejected").Inc()
			return fmt.Errorf("%s: %w: %v", op, models.ErrProviderRejected, err)
		}
		metrics.ProviderCallsTotal.WithLabelValues(op, "unavailable").Inc()
		log.WithFields(log.Fields{
			"operation": op,
			"error":     err.Error(),
		}).Warn("Payment provider unreachable")
		return fmt.Errorf("%s: %w: %v", op, models.ErrProviderUnavailable, err)
	}

	resp := result.(*resty.Response)

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		metrics.ProviderCallsTotal.WithLabelValues(op, "rejected").Inc()
		return fmt.Errorf("%s: %w: unreadable response (status %d): %v", op, models.ErrProviderRejected, resp.StatusCode(), err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 || !env.Status {
		metrics.ProviderCallsTotal.WithLabelValues(op, "rejected").Inc()
		message := env.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode())
		}
		return fmt.Errorf("%s: %w: %s (status %d)", op, models.ErrProviderRejected, message, resp.StatusCode())
	}

	if len(env.Data) > 0 && out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			metrics.ProviderCallsTotal.WithLabelValues(op, "rejected").Inc()
			return fmt.Errorf("%s: %w: unreadable data: %v", op, models.ErrProviderRejected, err)
		}
	}

	metrics.ProviderCallsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
