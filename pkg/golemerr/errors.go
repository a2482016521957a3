// Package golemerr defines the typed error taxonomy shared by the worker
// executor, shard manager and worker proxy, along with its mapping to gRPC
// status codes. It plays the role the teacher's bare fmt.Errorf/%w chains
// play in warren, but distributed-worker errors need to cross the wire with
// their kind intact, so each variant is a concrete type instead of a
// sentinel.
package golemerr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Code classifies an Error for translation to a gRPC status and for
// retry/backoff decisions in the worker proxy.
type Code string

const (
	CodeNotFound         Code = "not_found"
	CodeAlreadyExists     Code = "already_exists"
	CodeInvalidRequest    Code = "invalid_request"
	CodeUnauthorized      Code = "unauthorized"
	CodeLimitExceeded     Code = "limit_exceeded"
	CodeShardUnavailable  Code = "shard_unavailable"
	CodeWorkerInterrupted Code = "worker_interrupted"
	CodeConcurrentUpdate  Code = "concurrent_update"
	CodeInternal          Code = "internal"
	// CodeNonDeterministicReplay marks a replayed imported-function call
	// whose recorded entry doesn't match the call site driving replay
	// (spec §4.4's "assert entry.name == expected_name"), the Go
	// counterpart of the original's GolemError::Unknown /
	// unexpected-oplog-entry replay failure.
	CodeNonDeterministicReplay Code = "non_deterministic_replay"
	// CodeUnrecoverable marks a failure that must not be retried -- the
	// worker transitions straight to Failed rather than Retrying.
	CodeUnrecoverable Code = "unrecoverable"
	// CodeTransient marks a failure the retry policy should back off and
	// retry, as opposed to CodeUnrecoverable.
	CodeTransient Code = "transient"
	// CodeOplogFormatMismatch marks an oplog whose on-disk encoding can't
	// be decoded by this binary's codec (version skew between writer and
	// reader).
	CodeOplogFormatMismatch Code = "oplog_format_mismatch"
)

// Error is the concrete error type returned by every Golem service package.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new_(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error        { return new_(CodeNotFound, format, args...) }
func AlreadyExists(format string, args ...any) *Error    { return new_(CodeAlreadyExists, format, args...) }
func InvalidRequest(format string, args ...any) *Error   { return new_(CodeInvalidRequest, format, args...) }
func Unauthorized(format string, args ...any) *Error     { return new_(CodeUnauthorized, format, args...) }
func LimitExceeded(format string, args ...any) *Error    { return new_(CodeLimitExceeded, format, args...) }
func ShardUnavailable(format string, args ...any) *Error { return new_(CodeShardUnavailable, format, args...) }
func WorkerInterrupted(format string, args ...any) *Error {
	return new_(CodeWorkerInterrupted, format, args...)
}
func ConcurrentUpdate(format string, args ...any) *Error { return new_(CodeConcurrentUpdate, format, args...) }
func NonDeterministicReplay(format string, args ...any) *Error {
	return new_(CodeNonDeterministicReplay, format, args...)
}
func Unrecoverable(format string, args ...any) *Error { return new_(CodeUnrecoverable, format, args...) }
func Transient(format string, args ...any) *Error     { return new_(CodeTransient, format, args...) }
func OplogFormatMismatch(format string, args ...any) *Error {
	return new_(CodeOplogFormatMismatch, format, args...)
}

// Wrap attaches a code and cause to an underlying error, e.g. a storage
// backend failure that should surface as Internal.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Internal(cause error, format string, args ...any) *Error {
	return Wrap(CodeInternal, cause, format, args...)
}

// Is reports whether err is a *Error of the given code, unwrapping through
// any wrapping chain.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GRPCCode maps a Code to the closest google.golang.org/grpc/codes value,
// used by the rpc server interceptor when translating a returned *Error
// into a status.Status.
func GRPCCode(code Code) codes.Code {
	switch code {
	case CodeNotFound:
		return codes.NotFound
	case CodeAlreadyExists:
		return codes.AlreadyExists
	case CodeInvalidRequest:
		return codes.InvalidArgument
	case CodeUnauthorized:
		return codes.PermissionDenied
	case CodeLimitExceeded:
		return codes.ResourceExhausted
	case CodeShardUnavailable:
		return codes.Unavailable
	case CodeWorkerInterrupted:
		return codes.Aborted
	case CodeConcurrentUpdate:
		return codes.FailedPrecondition
	case CodeNonDeterministicReplay:
		return codes.DataLoss
	case CodeUnrecoverable:
		return codes.FailedPrecondition
	case CodeTransient:
		return codes.Unavailable
	case CodeOplogFormatMismatch:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}
