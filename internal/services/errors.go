// Package services holds the console backend's use-cases. This file
// centralizes service-level error values so callers can branch on them with
// errors.Is; mapping to HTTP statuses happens in the handler layer.
package services

import "errors"

// Audit-related errors.
var (
	// ErrAuditRecordNotFound indicates no audit record matches the lookup.
	ErrAuditRecordNotFound = errors.New("audit record not found")

	// ErrInvalidFilter is returned when a list filter value is malformed
	// (e.g., an over-long idempotency key).
	ErrInvalidFilter = errors.New("invalid audit filter")

	// ErrRetentionDisabled is returned by Prune when no retention window is
	// configured.
	ErrRetentionDisabled = errors.New("audit retention disabled")
)
