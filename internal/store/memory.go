package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashendes/payment-relay/internal/models"
)

// MemoryStore keeps transactions in a map guarded by a RWMutex
type MemoryStore struct {
	transactions map[string]*models.Transaction
	mutex        sync.RWMutex
	now          func() time.Time
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*models.Transaction),
		now:          time.Now,
	}
}

// Create inserts a new transaction
func (s *MemoryStore) Create(_ context.Context, tx *models.Transaction) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.transactions[tx.Reference]; exists {
		return duplicate(tx.Reference)
	}

	now := s.now().UTC()
	record := tx.Clone()
	record.Status = models.StatusInitiated
	record.CreatedAt = now
	record.UpdatedAt = now
	s.transactions[tx.Reference] = record

	tx.Status = record.Status
	tx.CreatedAt = now
	tx.UpdatedAt = now
	return nil
}

// Update merges patch into the stored record
func (s *MemoryStore) Update(_ context.Context, reference string, patch models.Patch) (*models.Transaction, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, exists := s.transactions[reference]
	if !exists {
		return nil, notFound(reference)
	}

	patch.Apply(record, s.now().UTC())
	return record.Clone(), nil
}

// Get returns a copy of the stored record
func (s *MemoryStore) Get(_ context.Context, reference string) (*models.Transaction, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, exists := s.transactions[reference]
	if !exists {
		return nil, notFound(reference)
	}
	return record.Clone(), nil
}

// Transition applies patch only if the status is still from
func (s *MemoryStore) Transition(_ context.Context, reference string, from models.Status, patch models.Patch) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, exists := s.transactions[reference]
	if !exists {
		return false, notFound(reference)
	}
	if record.Status != from {
		return false, nil
	}

	patch.Apply(record, s.now().UTC())
	return true, nil
}

// Len reports how many transactions are held
func (s *MemoryStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.transactions)
}
