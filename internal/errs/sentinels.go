// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers. Callers wrap these with
// fmt.Errorf("...: %w", ...) to attach field names and ids.
var (
	// ErrNotFound indicates the requested reply does not exist.
	ErrNotFound = errors.New("reply not found")

	// ErrUnknownField indicates a field name not present in the form schema.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidFieldValue indicates a value whose shape does not match the field type.
	ErrInvalidFieldValue = errors.New("invalid field value")

	// ErrImmutableReply indicates a write against an archived revision.
	ErrImmutableReply = errors.New("immutable reply")

	// ErrMalformedFilter indicates a filter expression that does not match the grammar.
	ErrMalformedFilter = errors.New("malformed filter expression")
)
