package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMergeMetadata(t *testing.T) {
	t.Parallel()

	prior := Metadata{"source": "web", MetaOriginalAmountUSD: 3.25, "campaign": "spring"}
	incoming := Metadata{"source": "mobile", MetaOriginalAmountUSD: nil, "channel": "card"}

	merged := MergeMetadata(prior, incoming)

	if merged["source"] != "mobile" {
		t.Errorf("Expected incoming value to win, got %v", merged["source"])
	}
	if merged[MetaOriginalAmountUSD] != 3.25 {
		t.Errorf("Expected prior secondary amount to be retained, got %v", merged[MetaOriginalAmountUSD])
	}
	if merged["campaign"] != "spring" {
		t.Errorf("Expected prior key to be preserved, got %v", merged["campaign"])
	}
	if merged["channel"] != "card" {
		t.Errorf("Expected new key to be added, got %v", merged["channel"])
	}

	// inputs must not be mutated
	if prior["source"] != "web" {
		t.Error("MergeMetadata mutated prior")
	}
}

func TestMergeMetadataNilInputs(t *testing.T) {
	t.Parallel()

	merged := MergeMetadata(nil, nil)
	if merged == nil || len(merged) != 0 {
		t.Errorf("Expected empty non-nil map, got %v", merged)
	}
}

func TestWithSecondaryAmount(t *testing.T) {
	t.Parallel()

	prior := Metadata{MetaOriginalAmountUSD: 10.0, "note": "x"}

	kept := WithSecondaryAmount(prior, nil)
	if kept[MetaOriginalAmountUSD] != 10.0 {
		t.Errorf("Expected fallback to prior amount, got %v", kept[MetaOriginalAmountUSD])
	}

	amount := decimal.RequireFromString("12.5")
	updated := WithSecondaryAmount(prior, &amount)
	if updated[MetaOriginalAmountUSD] != 12.5 {
		t.Errorf("Expected incoming amount, got %v", updated[MetaOriginalAmountUSD])
	}
	if updated["note"] != "x" {
		t.Error("Expected other keys to survive")
	}
}

func TestSecondaryAmountAcceptsStrings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		meta Metadata
		want string
		ok   bool
	}{
		{"float", Metadata{MetaOriginalAmountUSD: 3.5}, "3.5", true},
		{"string", Metadata{MetaOriginalAmountUSD: "4.75"}, "4.75", true},
		{"json number", Metadata{MetaOriginalAmountUSD: json.Number("7")}, "7", true},
		{"garbage", Metadata{MetaOriginalAmountUSD: "abc"}, "0", false},
		{"missing", Metadata{}, "0", false},
		{"nil map", nil, "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SecondaryAmount(tt.meta)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestIncomingSecondaryAmountCustomFields(t *testing.T) {
	t.Parallel()

	var event WebhookEvent
	body := `{"event":"charge.success","data":{"reference":"R","status":"success","metadata":{"custom_fields":[{"display_name":"USD","variable_name":"original_amount_usd","value":"8.20"}]}}}`
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	got := IncomingSecondaryAmount(event.Data.Metadata)
	if got == nil {
		t.Fatal("Expected amount from custom_fields")
	}
	if !got.Equal(decimal.RequireFromString("8.2")) {
		t.Errorf("Expected 8.2, got %s", got)
	}
}

func TestMetadataUnmarshalEmptyString(t *testing.T) {
	t.Parallel()

	var data WebhookData
	if err := json.Unmarshal([]byte(`{"reference":"R","metadata":""}`), &data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if data.Metadata != nil {
		t.Errorf("Expected nil metadata, got %v", data.Metadata)
	}

	if err := json.Unmarshal([]byte(`{"reference":"R","metadata":"{\"originalAmountUSD\":2}"}`), &data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, ok := SecondaryAmount(data.Metadata); !ok {
		t.Error("Expected string-encoded metadata to be decoded")
	}
}
