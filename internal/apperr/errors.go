// Package apperr defines the kind-tagged errors shared by every layer.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes a failure. Every error leaving the pipeline carries one.
type Kind string

// Error kinds.
const (
	KindInvalidExtraction Kind = "InvalidExtraction"
	KindUnsafeLabel       Kind = "UnsafeLabel"
	KindTenantNotFound    Kind = "TenantNotFound"
	KindResolutionFailure Kind = "ResolutionFailure"
	KindUnsafeQuery       Kind = "UnsafeQuery"
	KindStoreUnavailable  Kind = "StoreUnavailable"
	KindOracleMalformed   Kind = "OracleMalformed"
	KindOracleUnavailable Kind = "OracleUnavailable"
	KindTimeout           Kind = "Timeout"
	KindQueryFailed       Kind = "QueryFailed"
	KindInvalidRequest    Kind = "InvalidRequest"
)

// Sentinels for errors.Is matching on kind alone.
var (
	ErrInvalidExtraction = &Error{Kind: KindInvalidExtraction}
	ErrUnsafeLabel       = &Error{Kind: KindUnsafeLabel}
	ErrTenantNotFound    = &Error{Kind: KindTenantNotFound}
	ErrResolutionFailure = &Error{Kind: KindResolutionFailure}
	ErrUnsafeQuery       = &Error{Kind: KindUnsafeQuery}
	ErrStoreUnavailable  = &Error{Kind: KindStoreUnavailable}
	ErrOracleMalformed   = &Error{Kind: KindOracleMalformed}
	ErrOracleUnavailable = &Error{Kind: KindOracleUnavailable}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrQueryFailed       = &Error{Kind: KindQueryFailed}
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
)

// Error is a kind-tagged error.
//
// Op names the operation that failed (e.g. "graphstore.Upsert"). Fragment holds
// the offending input piece, such as a label, a JSON path or a query token,
// and is reported back to the caller verbatim.
type Error struct {
	Kind     Kind
	Op       string
	Fragment string
	Err      error
}

// New creates a kind-tagged error with a message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Newf creates a kind-tagged error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithFragment returns a copy of e carrying the offending fragment.
func (e *Error) WithFragment(fragment string) *Error {
	cp := *e
	cp.Fragment = fragment
	return &cp
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Fragment != "" {
		msg += fmt.Sprintf(" (at %q)", e.Fragment)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind; an empty target Op matches any op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FragmentOf returns the offending fragment recorded on err, if any.
func FragmentOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fragment
	}
	return ""
}

// Retryable reports whether the caller may safely retry the whole request.
// The core itself never retries.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindStoreUnavailable, KindTimeout, KindOracleUnavailable:
		return true
	default:
		return false
	}
}

// Ensure tags an untagged error so nothing escapes without a kind.
// Context deadlines become Timeout, everything else StoreUnavailable.
func Ensure(op string, err error) error {
	if err == nil || KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, op, err)
	}
	return Wrap(KindStoreUnavailable, op, err)
}
