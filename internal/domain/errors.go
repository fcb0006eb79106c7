package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrDuplicateRefund     = errors.New("job already refunded")
	ErrSubmissionRejected  = errors.New("submission rejected")
	ErrServiceUnavailable  = errors.New("generation service unavailable")
	ErrAssetUnavailable    = errors.New("generated asset unavailable")
)
