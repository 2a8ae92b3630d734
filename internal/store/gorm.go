package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ashendes/payment-relay/internal/models"
)

// DefaultTable is the table, collection or DynamoDB table used when none is configured
const DefaultTable = "transactions"

// transactionRow is the relational shape of a transaction
type transactionRow struct {
	Reference    string          `gorm:"primaryKey;size:100"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Email        string          `gorm:"size:255;not null"`
	FirstName    string          `gorm:"size:100"`
	LastName     string          `gorm:"size:100"`
	Phone        string          `gorm:"size:40"`
	DonationType string          `gorm:"size:60"`
	Metadata     datatypes.JSONMap
	Status       string `gorm:"size:20;index;not null;default:'initiated'"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	VerifiedAt   *time.Time
}

func rowFromModel(tx *models.Transaction) *transactionRow {
	return &transactionRow{
		Reference:    tx.Reference,
		Amount:       tx.Amount,
		Email:        tx.Email,
		FirstName:    tx.FirstName,
		LastName:     tx.LastName,
		Phone:        tx.Phone,
		DonationType: tx.DonationType,
		Metadata:     datatypes.JSONMap(tx.Metadata.Clone()),
		Status:       string(tx.Status),
		CreatedAt:    tx.CreatedAt,
		UpdatedAt:    tx.UpdatedAt,
		VerifiedAt:   tx.VerifiedAt,
	}
}

func (r *transactionRow) toModel() *models.Transaction {
	var meta models.Metadata
	if r.Metadata != nil {
		meta = models.Metadata(r.Metadata)
	}
	return &models.Transaction{
		Reference:    r.Reference,
		Amount:       r.Amount,
		Email:        r.Email,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Phone:        r.Phone,
		DonationType: r.DonationType,
		Metadata:     meta,
		Status:       models.Status(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		VerifiedAt:   r.VerifiedAt,
	}
}

// GormStore persists transactions through gorm (MySQL in production, SQLite locally)
type GormStore struct {
	db    *gorm.DB
	table string
	now   func() time.Time
}

// OpenGormStore opens the configured SQL backend and migrates the table
func OpenGormStore(opts Options) (*GormStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(opts.Backend) {
	case BackendMySQL:
		dialector = mysql.Open(opts.DSN)
	case BackendSQLite:
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("gorm store does not support backend %q", opts.Backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Backend, err)
	}

	if opts.Backend == BackendSQLite {
		// sqlite allows one writer at a time
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return NewGormStore(db, opts.Table)
}

// NewGormStore wraps an existing gorm handle and migrates the table
func NewGormStore(db *gorm.DB, table string) (*GormStore, error) {
	if table == "" {
		table = DefaultTable
	}
	s := &GormStore{db: db, table: table, now: time.Now}
	if err := s.db.Table(table).AutoMigrate(&transactionRow{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", table, err)
	}
	return s, nil
}

// Close releases the underlying connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) scoped(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// Create inserts a new transaction
func (s *GormStore) Create(ctx context.Context, tx *models.Transaction) error {
	now := s.now().UTC()
	row := rowFromModel(tx)
	row.Status = string(models.StatusInitiated)
	row.CreatedAt = now
	row.UpdatedAt = now

	if err := s.scoped(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return duplicate(tx.Reference)
		}
		// not every driver translates constraint errors
		if _, getErr := s.Get(ctx, tx.Reference); getErr == nil {
			return duplicate(tx.Reference)
		}
		return storageFault("create", tx.Reference, err)
	}

	tx.Status = models.StatusInitiated
	tx.CreatedAt = now
	tx.UpdatedAt = now
	return nil
}

// Update merges patch into the stored record
func (s *GormStore) Update(ctx context.Context, reference string, patch models.Patch) (*models.Transaction, error) {
	var updated *models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var row transactionRow
		if err := db.Table(s.table).Where("reference = ?", reference).Take(&row).Error; err != nil {
			return err
		}
		if err := db.Table(s.table).Where("reference = ?", reference).Updates(s.values(patch)).Error; err != nil {
			return err
		}
		if err := db.Table(s.table).Where("reference = ?", reference).Take(&row).Error; err != nil {
			return err
		}
		updated = row.toModel()
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(reference)
	}
	if err != nil {
		return nil, storageFault("update", reference, err)
	}
	return updated, nil
}

// Get returns the stored record
func (s *GormStore) Get(ctx context.Context, reference string) (*models.Transaction, error) {
	var row transactionRow
	err := s.scoped(ctx).Where("reference = ?", reference).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(reference)
	}
	if err != nil {
		return nil, storageFault("get", reference, err)
	}
	return row.toModel(), nil
}

// Transition runs a conditional UPDATE keyed on the current status
func (s *GormStore) Transition(ctx context.Context, reference string, from models.Status, patch models.Patch) (bool, error) {
	res := s.scoped(ctx).
		Where("reference = ? AND status = ?", reference, string(from)).
		Updates(s.values(patch))
	if res.Error != nil {
		return false, storageFault("transition", reference, res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// Zero rows: either the reference is gone, the status moved on, or MySQL
	// reported an update that changed no values.
	current, err := s.Get(ctx, reference)
	if err != nil {
		return false, err
	}
	return current.Status == from && patch.Status != nil && *patch.Status == from, nil
}

func (s *GormStore) values(patch models.Patch) map[string]interface{} {
	values := map[string]interface{}{"updated_at": s.now().UTC()}
	if patch.Status != nil {
		values["status"] = string(*patch.Status)
	}
	if patch.VerifiedAt != nil {
		values["verified_at"] = patch.VerifiedAt.UTC()
	}
	if patch.Metadata != nil {
		values["metadata"] = datatypes.JSONMap(patch.Metadata.Clone())
	}
	return values
}
