// Package common defines shared constants and sentinel errors used across
// the webvh service layers. Callers should use errors.Is to match these
// values; the protocol router is the only place that translates them into
// wire-level problem-report codes.
package common

import "errors"

var (
	// Storage-level errors.
	ErrorNotFound = errors.New("not found")
	ErrorStore    = errors.New("store error")

	// Authorization / ownership errors.
	ErrorUnauthorized = errors.New("unauthorized")

	// Reservation-time errors.
	ErrorPathUnavailable = errors.New("path unavailable")
	ErrorPathInvalid     = errors.New("path invalid")

	// Quota errors (count and size are distinct wire codes).
	ErrorQuotaExceeded = errors.New("quota exceeded")
	ErrorSizeExceeded  = errors.New("size exceeded")

	// Log chain validation errors.
	ErrorInvalidLog   = errors.New("invalid log")
	ErrorProofInvalid = errors.New("proof invalid")

	// Witness errors.
	ErrorWitnessInvalid = errors.New("witness invalid")
	ErrorNotPublished   = errors.New("not published")

	// Message body / input validation.
	ErrorValidation = errors.New("validation error")

	// Token lifecycle errors.
	ErrorInvalidToken = errors.New("invalid token")
	ErrorTokenExpired = errors.New("token expired")

	// Catch-all for unexpected faults.
	ErrorInternal = errors.New("internal error")
)
