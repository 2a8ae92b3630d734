// Package notify formats payment status alerts and hands them to the
// external message relay.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/ashendes/payment-relay/internal/metrics"
	"github.com/ashendes/payment-relay/internal/models"
	"github.com/ashendes/payment-relay/internal/patterns"
)

// Config configures a Gateway
type Config struct {
	RelayURL      string
	Recipient     string
	Currency      string
	Location      *time.Location
	MaxConcurrent int
}

// RelayMessage is the body accepted by the relay's /send-message endpoint
type RelayMessage struct {
	Recipient           string `json:"recipient"`
	Message             string `json:"message"`
	IsAdminNotification bool   `json:"isAdminNotification"`
}

// Gateway delivers one admin alert per call and never fails the caller
type Gateway struct {
	client   *resty.Client
	bulkhead *patterns.Bulkhead
	cfg      Config
	now      func() time.Time
}

// NewGateway builds a relay gateway
func NewGateway(cfg Config) *Gateway {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Gateway{
		client: resty.New().
			SetBaseURL(strings.TrimRight(cfg.RelayURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetTimeout(patterns.DefaultTimeout).
			SetRetryCount(0),
		bulkhead: patterns.NewBulkhead(cfg.MaxConcurrent, "relay", "relay-service"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Notify formats tx under label and posts it to the relay. It reports whether
// the relay answered 200; every failure is logged and swallowed.
func (g *Gateway) Notify(ctx context.Context, tx *models.Transaction, label string) bool {
	fields := log.Fields{
		"reference": tx.Reference,
		"label":     label,
	}

	if g.cfg.RelayURL == "" || g.cfg.Recipient == "" {
		metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
		log.WithFields(fields).Warn("Message relay not configured, notification skipped")
		return false
	}

	msg := RelayMessage{
		Recipient:           g.cfg.Recipient,
		Message:             FormatMessage(tx, label, g.cfg.Currency, g.now().In(g.cfg.Location)),
		IsAdminNotification: true,
	}

	ctx, cancel := patterns.WithTimeout(ctx)
	defer cancel()

	var status int
	err := g.bulkhead.Execute(ctx, func(ctx context.Context) error {
		resp, httpErr := g.client.R().
			SetContext(ctx).
			SetBody(msg).
			Post("/send-message")
		if httpErr != nil {
			return fmt.Errorf("HTTP error: %w", httpErr)
		}
		status = resp.StatusCode()
		if status != http.StatusOK {
			return fmt.Errorf("relay returned status %d: %s", status, resp.String())
		}
		return nil
	})

	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		fields["error"] = err.Error()
		log.WithFields(fields).Error("Failed to deliver notification")
		return false
	}

	metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
	log.WithFields(fields).Info("Notification delivered")
	return true
}

var glyphs = map[models.Status]string{
	models.StatusInitiated: "🔄",
	models.StatusPending:   "⏳",
	models.StatusCompleted: "✅",
	models.StatusFailed:    "❌",
	models.StatusAbandoned: "⚠️",
}

var currencySymbols = map[string]string{
	"NGN": "₦",
	"GHS": "GH₵",
	"KES": "KSh",
	"ZAR": "R",
	"USD": "$",
}

// FormatMessage renders the admin alert text for tx
func FormatMessage(tx *models.Transaction, label, currency string, at time.Time) string {
	glyph, ok := glyphs[tx.Status]
	if !ok {
		glyph = "ℹ️"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Payment %s\n\n", glyph, label)
	fmt.Fprintf(&b, "Reference: %s\n", tx.Reference)

	amount := formatMoney(currency, tx.Amount.StringFixed(2))
	if usd, ok := tx.SecondaryAmount(); ok {
		amount += fmt.Sprintf(" (≈ $%s USD)", groupThousands(usd.StringFixed(2)))
	}
	fmt.Fprintf(&b, "Amount: %s\n", amount)
	fmt.Fprintf(&b, "Email: %s\n", tx.Email)

	if name := tx.FullName(); name != "" {
		fmt.Fprintf(&b, "Name: %s\n", name)
	}
	if tx.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", tx.Phone)
	}
	if tx.DonationType != "" {
		fmt.Fprintf(&b, "Donation Type: %s\n", tx.DonationType)
	}
	fmt.Fprintf(&b, "Time: %s", at.Format("Mon, 02 Jan 2006 15:04:05 MST"))

	return b.String()
}

func formatMoney(currency, fixed string) string {
	grouped := groupThousands(fixed)
	if symbol, ok := currencySymbols[strings.ToUpper(currency)]; ok {
		return symbol + grouped
	}
	if currency == "" {
		return grouped
	}
	return strings.ToUpper(currency) + " " + grouped
}

// groupThousands inserts commas into the integer part of a fixed-point string
func groupThousands(fixed string) string {
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, frac := fixed, ""
	if i := strings.IndexByte(fixed, '.'); i >= 0 {
		intPart, frac = fixed[:i], fixed[i:]
	}
	var out []byte
	for i := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, intPart[i])
	}
	return sign + string(out) + frac
}
