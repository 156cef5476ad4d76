// Package errs defines the typed error kinds the chat engine reasons
// about, following the same small-struct-plus-discriminator pattern the
// agent runtime used for permission.RejectedError / IsRejectedError.
package errs

import "fmt"

// Kind discriminates the handling policy for an error.
type Kind string

const (
	KindConfigMissing           Kind = "config_missing"
	KindQuotaExceeded           Kind = "quota_exceeded"
	KindTransient               Kind = "transient"
	KindURLRejected              Kind = "url_rejected"
	KindSchemaInvariantViolated Kind = "schema_invariant_violated"
	KindPrecondition            Kind = "precondition_violation"
)

// Error is the common shape for all typed chat-engine errors.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// ConfigMissing indicates the user has no API key configured.
func ConfigMissing(msg string) *Error { return new_(KindConfigMissing, msg, nil) }

// QuotaExceeded indicates the user's token_limit has been reached.
func QuotaExceeded(msg string) *Error { return new_(KindQuotaExceeded, msg, nil) }

// Transient wraps a network/rate-limit/timeout failure that the caller
// should treat as retryable-but-not-within-this-turn.
func Transient(msg string, err error) *Error { return new_(KindTransient, msg, err) }

// URLRejected indicates the SSRF gate refused a URL.
func URLRejected(msg string) *Error { return new_(KindURLRejected, msg, nil) }

// SchemaInvariantViolated indicates a cache/sync invariant broke; the
// caller restores dirty sets and lets the next sync cycle retry.
func SchemaInvariantViolated(msg string, err error) *Error {
	return new_(KindSchemaInvariantViolated, msg, err)
}

// Precondition indicates a command-level precondition failed (e.g.
// deleting the default persona). This is the one class of error whose
// message is shown to the user verbatim.
func Precondition(msg string) *Error { return new_(KindPrecondition, msg, nil) }

func isKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}

func IsConfigMissing(err error) bool           { return isKind(err, KindConfigMissing) }
func IsQuotaExceeded(err error) bool            { return isKind(err, KindQuotaExceeded) }
func IsTransient(err error) bool                { return isKind(err, KindTransient) }
func IsURLRejected(err error) bool              { return isKind(err, KindURLRejected) }
func IsSchemaInvariantViolated(err error) bool  { return isKind(err, KindSchemaInvariantViolated) }
func IsPrecondition(err error) bool             { return isKind(err, KindPrecondition) }

// KindOf returns the Kind of err and whether err is a typed *Error.
func KindOf(err error) (Kind, bool) {
	e, ok := err.(*Error)
	if !ok {
		return "", false
	}
	return e.Kind, true
}
