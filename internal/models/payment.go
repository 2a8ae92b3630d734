package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction represents one payment attempt, keyed by its reference
type Transaction struct {
	Reference    string          `json:"reference"`
	Amount       decimal.Decimal `json:"amount"`
	Email        string          `json:"email"`
	FirstName    string          `json:"first_name,omitempty"`
	LastName     string          `json:"last_name,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	DonationType string          `json:"donation_type,omitempty"`
	Metadata     Metadata        `json:"metadata,omitempty"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	VerifiedAt   *time.Time      `json:"verified_at,omitempty"`
}

// Clone returns a deep enough copy for handing records across store boundaries
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.Metadata = t.Metadata.Clone()
	if t.VerifiedAt != nil {
		v := *t.VerifiedAt
		c.VerifiedAt = &v
	}
	return &c
}

// FullName joins first and last name, skipping empty parts
func (t *Transaction) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(t.FirstName) + " " + strings.TrimSpace(t.LastName))
}

// SecondaryAmount returns the stored originalAmountUSD, if any
func (t *Transaction) SecondaryAmount() (decimal.Decimal, bool) {
	return SecondaryAmount(t.Metadata)
}

// Patch carries the partial fields of an update. Nil fields are left alone.
// Metadata, when set, replaces the stored map and is expected to be the
// result of MergeMetadata.
type Patch struct {
	Status     *Status
	VerifiedAt *time.Time
	Metadata   Metadata
}

// IsEmpty reports whether the patch would change nothing besides UpdatedAt
func (p Patch) IsEmpty() bool {
	return p.Status == nil && p.VerifiedAt == nil && p.Metadata == nil
}

// Apply merges the patch into t and touches UpdatedAt
func (p Patch) Apply(t *Transaction, now time.Time) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.VerifiedAt != nil {
		v := *p.VerifiedAt
		t.VerifiedAt = &v
	}
	if p.Metadata != nil {
		t.Metadata = p.Metadata.Clone()
	}
	t.UpdatedAt = now
}

// DefaultReferencePrefix is used when no prefix is configured
const DefaultReferencePrefix = "PAY"

// NewReference builds a reference of the form <prefix>_<unixMillis>_<random>
func NewReference(prefix string, now time.Time) string {
	if prefix == "" {
		prefix = DefaultReferencePrefix
	}
	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), random)
}

// ToMinorUnits converts a base-currency amount to the provider's integer minor units
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits converts provider minor units back to a base-currency amount
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
