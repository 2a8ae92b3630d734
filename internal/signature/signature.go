// Package signature authenticates provider webhooks.
//
// The provider signs the raw request body with HMAC-SHA-512 keyed by the
// account's secret key and sends the lowercase hex digest in a header.
package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// DefaultHeader carries the signature on inbound webhooks
const DefaultHeader = "X-Paystack-Signature"

// Sign returns the hex HMAC-SHA-512 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid signature of body. An empty
// secret never verifies.
func Verify(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(header)))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
