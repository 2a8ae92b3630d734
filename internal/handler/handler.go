// Package handler exposes the reconciliation engine over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ashendes/payment-relay/internal/metrics"
	"github.com/ashendes/payment-relay/internal/models"
	"github.com/ashendes/payment-relay/internal/reconcile"
	"github.com/ashendes/payment-relay/internal/signature"
)

// MaxWebhookBody caps how much of a webhook body is read
const MaxWebhookBody = 1 << 20

// Reconciler is the engine surface the handlers drive
type Reconciler interface {
	Initialize(ctx context.Context, req models.InitializeRequest) (*models.InitializeResponse, error)
	HandleWebhook(ctx context.Context, event models.WebhookEvent) (reconcile.WebhookOutcome, error)
	Verify(ctx context.Context, reference string) (*models.VerifyResponse, error)
	Get(ctx context.Context, reference string) (*models.Transaction, error)
}

// Options configures a Handler
type Options struct {
	ServiceName     string
	WebhookSecret   string
	SignatureHeader string
	// CircuitState reports the provider breaker state for /payment/status
	CircuitState func() string
}

// Handler serves the payment routes
type Handler struct {
	engine Reconciler
	opts   Options
}

// New creates a Handler
func New(engine Reconciler, opts Options) *Handler {
	if opts.ServiceName == "" {
		opts.ServiceName = "relay-service"
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = signature.DefaultHeader
	}
	return &Handler{engine: engine, opts: opts}
}

// NewRouter builds the gin engine with middleware, health and metrics routes
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Add Prometheus middleware
	router.Use(metrics.PrometheusMiddleware(h.opts.ServiceName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	h.Register(router)

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// Register mounts the payment routes on r
func (h *Handler) Register(r gin.IRouter) {
	payment := r.Group("/payment")
	payment.POST("/initialize", h.initialize)
	payment.POST("/webhook", h.webhook)
	payment.GET("/verify/:reference", h.verify)
	payment.GET("/transaction/:reference", h.transaction)
	payment.GET("/status", h.status)
}

func (h *Handler) initialize(c *gin.Context) {
	var req models.InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, "", fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}

	resp, err := h.engine.Initialize(c.Request.Context(), req)
	if err != nil {
		respondError(c, "", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// webhook authenticates the raw body before anything else touches it
func (h *Handler) webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBody))
	if err != nil {
		respondError(c, "", fmt.Errorf("%w: unreadable body: %v", models.ErrValidation, err))
		return
	}

	if !signature.Verify(h.opts.WebhookSecret, body, c.GetHeader(h.opts.SignatureHeader)) {
		metrics.WebhookSignatureFailures.Inc()
		log.WithFields(log.Fields{
			"client_ip": c.ClientIP(),
			"bytes":     len(body),
		}).Warn("Rejected webhook with invalid signature")
		respondError(c, "", models.ErrSignatureInvalid)
		return
	}

	var event models.WebhookEvent
	if err := binding.JSON.BindBody(body, &event); err != nil {
		respondError(c, "", fmt.Errorf("%w: malformed event: %v", models.ErrValidation, err))
		return
	}

	outcome, err := h.engine.HandleWebhook(c.Request.Context(), event)
	if err != nil {
		respondError(c, event.Data.Reference, err)
		return
	}

	c.JSON(http.StatusOK, models.WebhookAck{
		Received:  true,
		Outcome:   string(outcome),
		Reference: event.Data.Reference,
	})
}

func (h *Handler) verify(c *gin.Context) {
	reference := c.Param("reference")

	result, err := h.engine.Verify(c.Request.Context(), reference)
	if err != nil {
		respondError(c, reference, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) transaction(c *gin.Context) {
	reference := c.Param("reference")

	tx, err := h.engine.Get(c.Request.Context(), reference)
	if err != nil {
		respondError(c, reference, err)
		return
	}

	c.JSON(http.StatusOK, tx)
}

func (h *Handler) status(c *gin.Context) {
	circuit := "unknown"
	if h.opts.CircuitState != nil {
		circuit = h.opts.CircuitState()
	}
	c.JSON(http.StatusOK, gin.H{
		"service":          h.opts.ServiceName,
		"status":           "healthy",
		"provider_circuit": circuit,
		"timestamp":        time.Now().Format(time.RFC3339),
	})
}

// StatusCode maps an error kind onto its HTTP status
func StatusCode(err error) int {
	switch models.ErrorKind(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindSignatureInvalid:
		return http.StatusUnauthorized
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindDuplicateReference:
		return http.StatusConflict
	case models.KindProviderRejected:
		return http.StatusBadGateway
	case models.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, reference string, err error) {
	code := StatusCode(err)
	kind := models.ErrorKind(err)

	fields := log.Fields{
		"path":   c.FullPath(),
		"status": code,
		"kind":   kind,
		"error":  err.Error(),
	}
	if reference != "" {
		fields["reference"] = reference
	}
	if code >= http.StatusInternalServerError {
		log.WithFields(fields).Error("Request failed")
	} else {
		log.WithFields(fields).Warn("Request rejected")
	}

	message := err.Error()
	if errors.Is(err, models.ErrStorageFault) {
		message = "transaction store unavailable"
	}

	c.JSON(code, models.ErrorResponse{
		Error:     kind,
		Message:   message,
		Reference: reference,
	})
}
