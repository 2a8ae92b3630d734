package models

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// InitializeRequest represents a request to start a payment
type InitializeRequest struct {
	Email             string           `json:"email" binding:"required"`
	Amount            decimal.Decimal  `json:"amount"`
	FirstName         string           `json:"firstName"`
	LastName          string           `json:"lastName"`
	Phone             string           `json:"phone"`
	DonationType      string           `json:"donationType"`
	OriginalAmountUSD *decimal.Decimal `json:"originalAmountUSD,omitempty"`
	Metadata          Metadata         `json:"metadata,omitempty"`
}

// InitializeResponse is returned once the provider has accepted a charge
type InitializeResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Status           Status `json:"status"`
}

// Webhook event names
const (
	EventChargeSuccess = "charge.success"
)

// WebhookEvent is the signed body pushed by the provider
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

// WebhookData is the charge payload inside a webhook event
type WebhookData struct {
	Reference       string   `json:"reference"`
	Status          string   `json:"status"`
	Amount          int64    `json:"amount"`
	Currency        string   `json:"currency,omitempty"`
	GatewayResponse string   `json:"gateway_response,omitempty"`
	PaidAt          string   `json:"paid_at,omitempty"`
	Metadata        Metadata `json:"metadata,omitempty"`
}

// WebhookAck is the acknowledgment body returned to the provider
type WebhookAck struct {
	Received  bool   `json:"received"`
	Outcome   string `json:"outcome,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Values reported in VerifyResponse.DBStatus
const (
	DBStatusCompletedByWebhook = "completed_by_webhook"
	DBStatusCompleted          = "completed"
	DBStatusUpdated            = "updated"
	DBStatusUnchanged          = "unchanged"
)

// VerifyResponse represents the outcome of a verify poll
type VerifyResponse struct {
	Reference     string           `json:"reference"`
	PaymentStatus string           `json:"paymentStatus"`
	Status        Status           `json:"status"`
	DBStatus      string           `json:"dbStatus"`
	Notified      bool             `json:"notified"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	PaidAt        string           `json:"paidAt,omitempty"`
	Transaction   *Transaction     `json:"transaction,omitempty"`
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}

// UnmarshalJSON accepts an object, null, or the empty string that some
// providers send when no metadata was attached.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`)) {
		*m = nil
		return nil
	}
	if trimmed[0] == '"' {
		// metadata sent as a JSON-encoded string
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if s == "" {
			*m = nil
			return nil
		}
		trimmed = []byte(s)
	}
	raw := map[string]any{}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	*m = Metadata(raw)
	return nil
}

// IncomingSecondaryAmount looks for originalAmountUSD in provider-echoed
// metadata, either at the top level or in the custom_fields list.
func IncomingSecondaryAmount(m Metadata) *decimal.Decimal {
	if d, ok := SecondaryAmount(m); ok {
		return &d
	}
	fields, ok := m["custom_fields"].([]any)
	if !ok {
		return nil
	}
	for _, f := range fields {
		field, ok := f.(map[string]any)
		if !ok {
			continue
		}
		name, _ := field["variable_name"].(string)
		if name != MetaOriginalAmountUSD && name != "original_amount_usd" {
			continue
		}
		if d, ok := toDecimal(field["value"]); ok {
			return &d
		}
	}
	return nil
}
