package handler

import (
	"context"
	"sync"

	"github.com/ashendes/payment-relay/internal/models"
	"github.com/ashendes/payment-relay/internal/provider"
	"github.com/ashendes/payment-relay/internal/reconcile"
)

// fakeReconciler returns canned results and counts calls
type fakeReconciler struct {
	mu           sync.Mutex
	webhookCalls int
	lastEvent    models.WebhookEvent
	lastInit     models.InitializeRequest

	initResp   *models.InitializeResponse
	outcome    reconcile.WebhookOutcome
	verifyResp *models.VerifyResponse
	tx         *models.Transaction
	err        error
}

func (f *fakeReconciler) Initialize(_ context.Context, req models.InitializeRequest) (*models.InitializeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastInit = req
	if f.err != nil {
		return nil, f.err
	}
	return f.initResp, nil
}

func (f *fakeReconciler) HandleWebhook(_ context.Context, event models.WebhookEvent) (reconcile.WebhookOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookCalls++
	f.lastEvent = event
	if f.err != nil {
		return "", f.err
	}
	return f.outcome, nil
}

func (f *fakeReconciler) Verify(_ context.Context, _ string) (*models.VerifyResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.verifyResp, nil
}

func (f *fakeReconciler) Get(_ context.Context, _ string) (*models.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tx, nil
}

// stubProvider backs the end-to-end tests with a fixed provider status
type stubProvider struct {
	mu     sync.Mutex
	status string
}

func (p *stubProvider) Initialize(_ context.Context, params provider.InitializeParams) (*provider.Authorization, error) {
	return &provider.Authorization{
		AuthorizationURL: "https://checkout.example/" + params.Reference,
		AccessCode:       "ac",
		Reference:        params.Reference,
	}, nil
}

func (p *stubProvider) Verify(_ context.Context, reference string) (*provider.Verification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &provider.Verification{Reference: reference, Status: p.status, Amount: 500000}, nil
}

// countingNotifier counts alerts by label
type countingNotifier struct {
	mu     sync.Mutex
	labels []string
}

func (n *countingNotifier) Notify(_ context.Context, _ *models.Transaction, label string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.labels = append(n.labels, label)
	return true
}

func (n *countingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.labels...)
}
