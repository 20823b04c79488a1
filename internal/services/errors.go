// Package services defines the business logic for receipt scanning and
// receipt synchronization. This file centralizes service-level error values
// so that they can be consistently returned by service methods and checked
// by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Scan errors.
var (
	// ErrEmptyImage is returned when a scan request carries no image bytes.
	ErrEmptyImage = errors.New("image is empty")

	// ErrExtractionFailed wraps a failed call to the extraction model
	// (network, provider error, timeout). It is the only fatal path of the
	// scan pipeline; the client may retry.
	ErrExtractionFailed = errors.New("extraction failed")
)

// Sync errors.
var (
	// ErrEmptyBatch is returned when a push carries no entries.
	ErrEmptyBatch = errors.New("no entries to sync")

	// ErrBatchTooLarge is returned when a push exceeds MaxBatch entries.
	ErrBatchTooLarge = errors.New("too many entries in one batch")

	// ErrInvalidEntry is returned when an entry fails validation.
	ErrInvalidEntry = errors.New("invalid sync entry")

	// ErrReceiptNotFound indicates that the requested receipt does not exist
	// or is not owned by the caller.
	ErrReceiptNotFound = errors.New("receipt not found")
)
