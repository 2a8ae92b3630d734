// Package store persists transactions keyed by payment reference.
//
// Every backend implements TransactionStore with the same semantics: Create
// rejects duplicate references, Update merges a Patch and touches UpdatedAt,
// and Transition is a compare-and-swap on the status column so that two
// racing triggers cannot both move a record into the same new state.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashendes/payment-relay/internal/models"
)

// TransactionStore is the persistence contract the reconciliation engine needs
type TransactionStore interface {
	// Create inserts tx with status initiated. Fails with ErrDuplicateReference.
	Create(ctx context.Context, tx *models.Transaction) error
	// Update merges patch into the stored record. Fails with ErrNotFound.
	Update(ctx context.Context, reference string, patch models.Patch) (*models.Transaction, error)
	// Get returns the current record. Fails with ErrNotFound.
	Get(ctx context.Context, reference string) (*models.Transaction, error)
	// Transition applies patch only while the stored status still equals from.
	// It reports false, without error, when another writer got there first.
	Transition(ctx context.Context, reference string, from models.Status, patch models.Patch) (bool, error)
}

// Backend names accepted by Open
const (
	BackendMemory   = "memory"
	BackendMySQL    = "mysql"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
	BackendDynamoDB = "dynamodb"
)

// Options selects and configures a backend
type Options struct {
	Backend string
	// DSN is the gorm data source (mysql or sqlite) or the MongoDB URI
	DSN string
	// Database is the MongoDB database name
	Database string
	// Table is the SQL table, Mongo collection or DynamoDB table name
	Table string
	// Region and Endpoint configure the DynamoDB client
	Region   string
	Endpoint string
}

// Open builds the backend named in opts
func Open(ctx context.Context, opts Options) (TransactionStore, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendMySQL, BackendSQLite:
		s, err := OpenGormStore(opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMongo:
		s, err := OpenMongoStore(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendDynamoDB:
		s, err := OpenDynamoStore(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

// Close releases the backend's connections, if it holds any
func Close(ctx context.Context, s TransactionStore) error {
	switch c := s.(type) {
	case interface{ Close(context.Context) error }:
		return c.Close(ctx)
	case interface{ Close() error }:
		return c.Close()
	}
	return nil
}

func storageFault(op, reference string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", op, reference, models.ErrStorageFault, err)
}

func notFound(reference string) error {
	return fmt.Errorf("reference %s: %w", reference, models.ErrNotFound)
}

func duplicate(reference string) error {
	return fmt.Errorf("reference %s: %w", reference, models.ErrDuplicateReference)
}
