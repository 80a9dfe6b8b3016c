package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrInvalidSide   = errors.New("invalid side")
	ErrSigningFailed = errors.New("signing failed")
	ErrSubmission    = errors.New("order submission failed")
	ErrInsufficient  = errors.New("insufficient balance")
	ErrLockHeld      = errors.New("lock already held")
	ErrDuplicate     = errors.New("duplicate trade")
	ErrLegSkipped    = errors.New("leg skipped after earlier leg failed")

	// Risk-gate rejections.
	ErrDuplicatePosition = errors.New("position already open for market")
	ErrPositionTooLarge  = errors.New("position size exceeds limit")
	ErrExposureLimit     = errors.New("exposure limit exceeded")
	ErrLowConfidence     = errors.New("confidence below floor")
)
