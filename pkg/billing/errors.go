package billing

import "errors"

var (
	// ErrValidation is returned for missing or malformed input
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned when a concurrent transition won a uniqueness race
	ErrConflict = errors.New("conflicting subscription change")
	// ErrInvalidSignature is returned when a webhook signature does not verify
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is returned when a webhook body cannot be parsed
	ErrMalformedEvent = errors.New("malformed webhook event")
)
