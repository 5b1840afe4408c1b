// Package errkit implements the small closed error taxonomy shared by every
// subsystem: erasure coding, storage, buffering and the update pipelines.
package errkit

import "fmt"

// Kind classifies the origin of an error so callers can branch on it with
// errors.Is/errors.As instead of parsing strings.
type Kind int

const (
	// Other wraps a foreign-origin error with no more specific kind.
	Other Kind = iota
	// IO covers file-system and broker transport failures.
	IO
	// Range covers bounds mismatches: wrong block size, offset out of
	// block, range out of block.
	Range
	// ErasureCode covers shape mismatches between a stripe and the
	// configured (k, p), too many absent blocks to decode, a singular
	// decode matrix, or invalid Hitchhiker preconditions.
	ErasureCode
	// InvalidArg covers malformed input at a boundary (config, CLI, wire).
	InvalidArg
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case Range:
		return "range"
	case ErasureCode:
		return "erasure_code"
	case InvalidArg:
		return "invalid_arg"
	default:
		return "other"
	}
}

// Error is the concrete error type carried across the whole module. It keeps
// the offending component name (e.g. "ec", "buffer") so log lines and
// Nak payloads stay useful without a stack trace.
type Error struct {
	Kind      Kind
	Component string
	Msg       string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Component, e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Component, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// sentinel is a zero-payload error value, distinct from *Error, used only as
// an errors.Is comparison target, e.g. errors.Is(err, errkit.ErrRange).
type sentinel struct{ kind Kind }

func (s sentinel) Error() string { return s.kind.String() }

var (
	ErrIO          error = sentinel{IO}
	ErrRange       error = sentinel{Range}
	ErrErasureCode error = sentinel{ErasureCode}
	ErrInvalidArg  error = sentinel{InvalidArg}
	ErrOther       error = sentinel{Other}
)

// Is lets errors.Is(err, errkit.ErrRange) (etc.) match any *Error of that
// kind without comparing messages or wrapped causes.
func (e *Error) Is(target error) bool {
	if s, ok := target.(sentinel); ok {
		return e.Kind == s.kind
	}
	return false
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, component, msg string) error {
	return &Error{Kind: kind, Component: component, Msg: msg}
}

// Wrap constructs an *Error around an existing cause.
func Wrap(kind Kind, component, msg string, cause error) error {
	return &Error{Kind: kind, Component: component, Msg: msg, Cause: cause}
}

// Wrapf is Wrap with fmt-style message formatting.
func Wrapf(kind Kind, component string, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Component: component, Msg: fmt.Sprintf(format, args...), Cause: cause}
}
