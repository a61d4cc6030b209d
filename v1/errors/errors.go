package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTemplateArity is returned when a key template and its parameters
	// disagree on the number of positional placeholders.
	ErrTemplateArity = errors.New("tiercache: template parameter count mismatch")
	// ErrMalformedTemplate is returned for unterminated or non-numeric placeholders.
	ErrMalformedTemplate = errors.New("tiercache: malformed key template")

	// ErrTypeMismatch is returned when a cached value cannot be used as the requested type.
	ErrTypeMismatch = errors.New("tiercache: cached value type mismatch")
	// ErrLoadPanic wraps the value of a loader panic.
	ErrLoadPanic = errors.New("tiercache: loader panicked")

	ErrNilStore   = errors.New("tiercache: store is required")
	ErrInvalidTTL = errors.New("tiercache: ttl must be positive")
)
