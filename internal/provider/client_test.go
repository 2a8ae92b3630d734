package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ashendes/payment-relay/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:     srv.URL,
		SecretKey:   "sk_test",
		Currency:    "NGN",
		CallbackURL: "https://example.org/callback",
	})
}

func TestInitializeSendsMinorUnits(t *testing.T) {
	var got initializeBody
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("Expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Bad body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout/abc","access_code":"abc","reference":"REF_1"}}`))
	})

	auth, err := client.Initialize(context.Background(), InitializeParams{
		Email:     "a@b.com",
		Amount:    decimal.RequireFromString("5000"),
		Reference: "REF_1",
		Metadata:  models.Metadata{models.MetaOriginalAmountUSD: 3.25},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if got.Amount != 500000 {
		t.Errorf("Expected 500000 minor units, got %d", got.Amount)
	}
	if got.Currency != "NGN" || got.CallbackURL != "https://example.org/callback" {
		t.Errorf("Expected configured currency and callback, got %+v", got)
	}
	if auth.AuthorizationURL != "https://checkout/abc" || auth.AccessCode != "abc" {
		t.Errorf("Unexpected authorization: %+v", auth)
	}
}

func TestInitializeClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "status false",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
			},
			want: models.ErrProviderRejected,
		},
		{
			name: "client error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"status":false,"message":"Duplicate Transaction Reference"}`))
			},
			want: models.ErrProviderRejected,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			want: models.ErrProviderRejected,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>maintenance</html>`))
			},
			want: models.ErrProviderRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.Initialize(context.Background(), InitializeParams{Email: "a@b.com", Amount: decimal.NewFromInt(1), Reference: "R"})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestUnreachableProviderIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: url, SecretKey: "sk"})

	_, err := client.Verify(context.Background(), "R")
	if !errors.Is(err, models.ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable, got %v", err)
	}
	if errors.Is(err, models.ErrProviderRejected) {
		t.Error("Unavailable must not also be classified as rejected")
	}
}

func TestVerify(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/verify/REF_9" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"reference":"REF_9","status":"abandoned","amount":500000,"currency":"NGN","paid_at":null,"metadata":""}}`))
	})

	v, err := client.Verify(context.Background(), "REF_9")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if v.Status != "abandoned" {
		t.Errorf("Expected abandoned, got %s", v.Status)
	}
	if v.Amount != 500000 {
		t.Errorf("Expected 500000, got %d", v.Amount)
	}
	if v.Metadata != nil {
		t.Errorf("Expected empty-string metadata to decode as nil, got %v", v.Metadata)
	}
}
