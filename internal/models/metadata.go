package models

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// MetaOriginalAmountUSD is the one metadata key reconciliation understands
const MetaOriginalAmountUSD = "originalAmountUSD"

// Metadata is an open string-keyed bag stored alongside a transaction
type Metadata map[string]any

// Clone copies the top level of the map
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	c := make(Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// MergeMetadata returns prior overlaid with incoming. Incoming values win;
// keys that are absent or nil in incoming keep their prior value.
func MergeMetadata(prior, incoming Metadata) Metadata {
	merged := make(Metadata, len(prior)+len(incoming))
	for k, v := range prior {
		merged[k] = v
	}
	for k, v := range incoming {
		if v == nil {
			continue
		}
		merged[k] = v
	}
	return merged
}

// WithSecondaryAmount merges the secondary-currency amount into prior. When
// amount is nil the prior value is retained.
func WithSecondaryAmount(prior Metadata, amount *decimal.Decimal) Metadata {
	incoming := Metadata{}
	if amount != nil {
		f, _ := amount.Float64()
		incoming[MetaOriginalAmountUSD] = f
	}
	return MergeMetadata(prior, incoming)
}

// SecondaryAmount extracts originalAmountUSD from m. Providers echo metadata
// back with numbers as JSON numbers or strings, so both are accepted.
func SecondaryAmount(m Metadata) (decimal.Decimal, bool) {
	if m == nil {
		return decimal.Zero, false
	}
	return toDecimal(m[MetaOriginalAmountUSD])
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, false
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case decimal.Decimal:
		return n, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}
