package models

import "errors"

// Error taxonomy shared by every layer. Components wrap these with %w and
// callers match them with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrDuplicateReference  = errors.New("duplicate reference")
	ErrNotFound            = errors.New("transaction not found")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderRejected    = errors.New("payment provider rejected request")
	ErrSignatureInvalid    = errors.New("webhook signature invalid")
	ErrStorageFault        = errors.New("storage fault")
)

// Error kinds as reported in API error bodies
const (
	KindValidation          = "validation_error"
	KindDuplicateReference  = "duplicate_reference"
	KindNotFound            = "not_found"
	KindProviderUnavailable = "provider_unavailable"
	KindProviderRejected    = "provider_rejected"
	KindSignatureInvalid    = "signature_invalid"
	KindStorageFault        = "storage_fault"
	KindInternal            = "internal_error"
)

// ErrorKind classifies err into one of the Kind constants
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrDuplicateReference):
		return KindDuplicateReference
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrProviderUnavailable):
		return KindProviderUnavailable
	case errors.Is(err, ErrProviderRejected):
		return KindProviderRejected
	case errors.Is(err, ErrSignatureInvalid):
		return KindSignatureInvalid
	case errors.Is(err, ErrStorageFault):
		return KindStorageFault
	default:
		return KindInternal
	}
}
