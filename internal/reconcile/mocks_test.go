package reconcile

import (
	"context"
	"sync"

	"github.com/ashendes/payment-relay/internal/models"
	"github.com/ashendes/payment-relay/internal/provider"
	"github.com/ashendes/payment-relay/internal/store"
)

// spyStore wraps a MemoryStore, counts calls and injects faults
type spyStore struct {
	*store.MemoryStore

	mu          sync.Mutex
	creates     int
	gets        int
	transitions int
	applied     int

	getErr        error
	transitionErr error
	createErr     error
	// beforeTransition runs once, ahead of the next Transition call
	beforeTransition func()
}

func newSpyStore() *spyStore {
	return &spyStore{MemoryStore: store.NewMemoryStore()}
}

func (s *spyStore) Create(ctx context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	s.creates++
	err := s.createErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Create(ctx, tx)
}

func (s *spyStore) Get(ctx context.Context, reference string) (*models.Transaction, error) {
	s.mu.Lock()
	s.gets++
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Get(ctx, reference)
}

func (s *spyStore) Transition(ctx context.Context, reference string, from models.Status, patch models.Patch) (bool, error) {
	s.mu.Lock()
	s.transitions++
	err := s.transitionErr
	hook := s.beforeTransition
	s.beforeTransition = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return false, err
	}

	applied, err := s.MemoryStore.Transition(ctx, reference, from, patch)
	if applied {
		s.mu.Lock()
		s.applied++
		s.mu.Unlock()
	}
	return applied, err
}

func (s *spyStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

type notification struct {
	reference string
	label     string
	status    models.Status
}

// fakeNotifier records every alert it is asked to send
type fakeNotifier struct {
	mu     sync.Mutex
	sent   []notification
	result bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{result: true}
}

func (n *fakeNotifier) Notify(_ context.Context, tx *models.Transaction, label string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{reference: tx.Reference, label: label, status: tx.Status})
	return n.result
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) labels() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	labels := make([]string, len(n.sent))
	for i, s := range n.sent {
		labels[i] = s.label
	}
	return labels
}

// fakeProvider answers with canned results
type fakeProvider struct {
	mu          sync.Mutex
	initCalls   int
	verifyCalls int
	lastInit    provider.InitializeParams

	initErr      error
	verification provider.Verification
	verifyErr    error
}

func (p *fakeProvider) Initialize(_ context.Context, params provider.InitializeParams) (*provider.Authorization, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initCalls++
	p.lastInit = params
	if p.initErr != nil {
		return nil, p.initErr
	}
	return &provider.Authorization{
		AuthorizationURL: "https://checkout.example/" + params.Reference,
		AccessCode:       "code_" + params.Reference,
		Reference:        params.Reference,
	}, nil
}

func (p *fakeProvider) Verify(_ context.Context, reference string) (*provider.Verification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifyCalls++
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	v := p.verification
	v.Reference = reference
	return &v, nil
}

func (p *fakeProvider) setStatus(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verification.Status = status
}
