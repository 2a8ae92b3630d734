// Package reconcile decides the authoritative status of a payment from the
// three triggers that race to report it: the initialize call, the provider
// webhook and the client's verify poll.
//
// Every status write goes through TransactionStore.Transition, a
// compare-and-swap on the status the decision was made from. A notification
// is sent only by the caller whose swap applied, so a payment that completes
// through both the webhook and a verify poll is announced once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/ashendes/payment-relay/internal/metrics"
	"github.com/ashendes/payment-relay/internal/models"
	"github.com/ashendes/payment-relay/internal/provider"
	"github.com/ashendes/payment-relay/internal/store"
)

// Trigger channels, used as the metrics channel label
const (
	ChannelInitialize = "initialize"
	ChannelWebhook    = "webhook"
	ChannelVerify     = "verify"
)

// WebhookOutcome is what HandleWebhook did with an event
type WebhookOutcome string

// Webhook outcomes. Every one of them is acknowledged to the provider.
const (
	OutcomeIgnored   WebhookOutcome = "ignored"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeCompleted WebhookOutcome = "completed"
	OutcomeUpdated   WebhookOutcome = "updated"
	OutcomeUnchanged WebhookOutcome = "unchanged"
)

// DefaultMaxAttempts bounds the re-read loop after a lost compare-and-swap
const DefaultMaxAttempts = 3

// Notifier delivers an admin alert. It reports delivery and never fails.
type Notifier interface {
	Notify(ctx context.Context, tx *models.Transaction, label string) bool
}

// Provider is the subset of the payment provider the engine calls
type Provider interface {
	Initialize(ctx context.Context, params provider.InitializeParams) (*provider.Authorization, error)
	Verify(ctx context.Context, reference string) (*provider.Verification, error)
}

// Engine reconciles transaction status across the three trigger channels
type Engine struct {
	store       store.TransactionStore
	notifier    Notifier
	provider    Provider
	validate    *validator.Validate
	now         func() time.Time
	prefix      string
	maxAttempts int
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithReferencePrefix sets the prefix of generated references
func WithReferencePrefix(prefix string) Option {
	return func(e *Engine) {
		if prefix != "" {
			e.prefix = prefix
		}
	}
}

// WithMaxAttempts bounds how often a decision is retried after losing a race
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// NewEngine wires an engine from its collaborators
func NewEngine(s store.TransactionStore, n Notifier, p Provider, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		notifier:    n,
		provider:    p,
		validate:    validator.New(),
		now:         time.Now,
		prefix:      models.DefaultReferencePrefix,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize opens a charge with the provider, records it as initiated and
// announces it. Nothing is written when the provider refuses or is unreachable.
func (e *Engine) Initialize(ctx context.Context, req models.InitializeRequest) (*models.InitializeResponse, error) {
	if err := e.validateInitialize(&req); err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(ChannelInitialize, models.KindValidation).Inc()
		return nil, err
	}

	now := e.now().UTC()
	reference := models.NewReference(e.prefix, now)

	metadata := models.MergeMetadata(req.Metadata, models.Metadata{
		"firstName":    nonEmpty(req.FirstName),
		"lastName":     nonEmpty(req.LastName),
		"phone":        nonEmpty(req.Phone),
		"donationType": nonEmpty(req.DonationType),
	})
	metadata = models.WithSecondaryAmount(metadata, req.OriginalAmountUSD)

	fields := log.Fields{
		"reference": reference,
		"email":     req.Email,
		"amount":    req.Amount.String(),
	}

	auth, err := e.provider.Initialize(ctx, provider.InitializeParams{
		Email:     req.Email,
		Amount:    req.Amount,
		Reference: reference,
		Metadata:  metadata,
	})
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(ChannelInitialize, models.ErrorKind(err)).Inc()
		fields["error"] = err.Error()
		log.WithFields(fields).Error("Provider refused to initialize payment")
		return nil, err
	}

	tx := &models.Transaction{
		Reference:    reference,
		Amount:       req.Amount,
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		DonationType: req.DonationType,
		Metadata:     metadata,
		Status:       models.StatusInitiated,
	}
	if err := e.store.Create(ctx, tx); err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(ChannelInitialize, models.ErrorKind(err)).Inc()
		fields["error"] = err.Error()
		log.WithFields(fields).Error("Failed to record initialized payment")
		return nil, err
	}

	amount, _ := req.Amount.Float64()
	metrics.PaymentAmount.Observe(amount)
	metrics.ReconciliationsTotal.WithLabelValues(ChannelInitialize, string(models.StatusInitiated)).Inc()
	log.WithFields(fields).Info("Payment initialized")

	e.notifier.Notify(ctx, tx, string(models.StatusInitiated))

	return &models.InitializeResponse{
		Reference:        reference,
		AuthorizationURL: auth.AuthorizationURL,
		AccessCode:       auth.AccessCode,
		Status:           tx.Status,
	}, nil
}

func (e *Engine) validateInitialize(req *models.InitializeRequest) error {
	req.Email = strings.TrimSpace(req.Email)
	if err := e.validate.Var(req.Email, "required,email"); err != nil {
		return fmt.Errorf("%w: email %q is not a valid address", models.ErrValidation, req.Email)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", models.ErrValidation)
	}
	if req.OriginalAmountUSD != nil && req.OriginalAmountUSD.IsNegative() {
		return fmt.Errorf("%w: originalAmountUSD must not be negative", models.ErrValidation)
	}
	return nil
}

// HandleWebhook applies a provider event whose signature the caller has
// already checked. Only a storage fault is returned as an error; every other
// case is an outcome the provider should see acknowledged.
func (e *Engine) HandleWebhook(ctx context.Context, event models.WebhookEvent) (WebhookOutcome, error) {
	reference := event.Data.Reference
	fields := log.Fields{
		"event":     event.Event,
		"reference": reference,
		"status":    event.Data.Status,
	}

	if event.Event != models.EventChargeSuccess || reference == "" {
		metrics.ReconciliationsTotal.WithLabelValues(ChannelWebhook, string(OutcomeIgnored)).Inc()
		log.WithFields(fields).Info("Webhook event ignored")
		return OutcomeIgnored, nil
	}

	target := models.StatusFromProvider(event.Data.Status)
	incoming := models.IncomingSecondaryAmount(event.Data.Metadata)

	var outcome WebhookOutcome
	for attempt := 1; ; attempt++ {
		tx, err := e.store.Get(ctx, reference)
		if errors.Is(err, models.ErrNotFound) {
			metrics.ReconciliationsTotal.WithLabelValues(ChannelWebhook, string(OutcomeIgnored)).Inc()
			log.WithFields(fields).Warn("Webhook for unknown reference ignored")
			return OutcomeIgnored, nil
		}
		if err != nil {
			metrics.ReconciliationsTotal.WithLabelValues(ChannelWebhook, models.KindStorageFault).Inc()
			return "", err
		}

		if tx.Status == models.StatusCompleted {
			outcome = OutcomeUnchanged
			if target == models.StatusCompleted {
				outcome = OutcomeDuplicate
			}
			break
		}
		if !tx.Status.CanTransitionTo(target) {
			outcome = OutcomeUnchanged
			break
		}

		patch := e.transitionPatch(tx, target, incoming)
		applied, err := e.store.Transition(ctx, reference, tx.Status, patch)
		if err != nil {
			metrics.ReconciliationsTotal.WithLabelValues(ChannelWebhook, models.KindStorageFault).Inc()
			return "", err
		}
		if !applied {
			if attempt >= e.maxAttempts {
				log.WithFields(fields).Warn("Webhook lost every status race, leaving record as is")
				outcome = OutcomeUnchanged
				break
			}
			continue
		}

		fields["from"] = tx.Status
		patch.Apply(tx, e.now().UTC())
		if target == models.StatusCompleted {
			e.notifier.Notify(ctx, tx, "completed (via Webhook)")
			outcome = OutcomeCompleted
		} else {
			outcome = OutcomeUpdated
		}
		break
	}

	metrics.ReconciliationsTotal.WithLabelValues(ChannelWebhook, string(outcome)).Inc()
	fields["outcome"] = outcome
	log.WithFields(fields).Info("Webhook reconciled")
	return outcome, nil
}

// Verify asks the provider for the current status of reference and
// reconciles the stored record against it
func (e *Engine) Verify(ctx context.Context, reference string) (*models.VerifyResponse, error) {
	tx, err := e.store.Get(ctx, reference)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(ChannelVerify, models.ErrorKind(err)).Inc()
		return nil, err
	}

	v, err := e.provider.Verify(ctx, reference)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues(ChannelVerify, models.ErrorKind(err)).Inc()
		log.WithFields(log.Fields{
			"reference": reference,
			"error":     err.Error(),
		}).Error("Failed to verify payment with provider")
		return nil, err
	}

	amount := models.FromMinorUnits(v.Amount)
	result := &models.VerifyResponse{
		Reference:     reference,
		PaymentStatus: v.Status,
		Amount:        &amount,
		PaidAt:        v.PaidAt,
	}
	target := models.StatusFromProvider(v.Status)
	incoming := models.IncomingSecondaryAmount(v.Metadata)

	for attempt := 1; ; attempt++ {
		if tx.Status == models.StatusCompleted {
			result.DBStatus = models.DBStatusCompletedByWebhook
			break
		}
		if tx.Status == target || !tx.Status.CanTransitionTo(target) {
			result.DBStatus = models.DBStatusUnchanged
			break
		}

		from := tx.Status
		patch := e.transitionPatch(tx, target, incoming)
		applied, err := e.store.Transition(ctx, reference, from, patch)
		if err != nil {
			metrics.ReconciliationsTotal.WithLabelValues(ChannelVerify, models.KindStorageFault).Inc()
			return nil, err
		}
		if !applied {
			if attempt >= e.maxAttempts {
				result.DBStatus = models.DBStatusUnchanged
				break
			}
			if tx, err = e.store.Get(ctx, reference); err != nil {
				metrics.ReconciliationsTotal.WithLabelValues(ChannelVerify, models.ErrorKind(err)).Inc()
				return nil, err
			}
			continue
		}

		patch.Apply(tx, e.now().UTC())
		result.Notified = e.notifier.Notify(ctx, tx, fmt.Sprintf("%s (via Verification)", target))
		result.DBStatus = models.DBStatusUpdated
		if target == models.StatusCompleted {
			result.DBStatus = models.DBStatusCompleted
		}
		log.WithFields(log.Fields{
			"reference": reference,
			"from":      from,
			"to":        target,
		}).Info("Payment status updated by verification")
		break
	}

	result.Status = tx.Status
	result.Transaction = tx
	metrics.ReconciliationsTotal.WithLabelValues(ChannelVerify, result.DBStatus).Inc()
	return result, nil
}

// Get returns the stored record without contacting the provider
func (e *Engine) Get(ctx context.Context, reference string) (*models.Transaction, error) {
	return e.store.Get(ctx, reference)
}

func (e *Engine) transitionPatch(tx *models.Transaction, target models.Status, incoming *decimal.Decimal) models.Patch {
	patch := models.Patch{
		Status:   &target,
		Metadata: models.WithSecondaryAmount(tx.Metadata, incoming),
	}
	if target == models.StatusCompleted {
		verifiedAt := e.now().UTC()
		patch.VerifiedAt = &verifiedAt
	}
	return patch
}

func nonEmpty(s string) any {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}
