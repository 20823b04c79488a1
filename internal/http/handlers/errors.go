// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Every error response carries one of these stable, snake_case codes in the
// ErrorResponse envelope (see response.go). Clients branch on the code; the
// message is for humans.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "extraction_failed",
//	  "message": "receipt extraction is temporarily unavailable"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeUnsupportedMedia = "unsupported_media_type"
	ErrCodeInternal         = "internal_error"

	// Scan:
	ErrCodeExtractionInvalid = "extraction_invalid"
	ErrCodeExtractionFailed  = "extraction_failed"

	// Sync:
	ErrCodeInvalidEntry = "invalid_entry"
	ErrCodeSyncFailed   = "sync_failed"
)
