package sqpoll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error represents a structured scenario error with context and errno mapping
type Error struct {
	Op    string        // Step that failed (e.g., "SETUP_RING", "WAIT_CQE")
	Ring  int           // Ring index (-1 if not applicable)
	Code  ErrorCode     // High-level error category
	Errno syscall.Errno // Kernel errno (0 if not applicable)
	Res   int32         // Completion result for unexpected completions
	Msg   string        // Human-readable message
	Inner error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Ring >= 0 {
		parts = append(parts, fmt.Sprintf("ring=%d", e.Ring))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}
	if e.Code == ErrCodeUnexpectedResult {
		parts = append(parts, fmt.Sprintf("res=%d", e.Res))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("sqpoll: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("sqpoll: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches sentinel errors and structured errors by code
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if se, ok := target.(SentinelError); ok {
		return e.Code == ErrorCode(se)
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeSharingUnsupported ErrorCode = "SQPOLL sharing not supported"
	ErrCodeKernelNotSupported ErrorCode = "kernel does not support io_uring"
	ErrCodePermissionDenied   ErrorCode = "permission denied"
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeRingBusy           ErrorCode = "ring busy"
	ErrCodeBadDescriptor      ErrorCode = "bad descriptor"
	ErrCodeSubmitFailed       ErrorCode = "submit failed"
	ErrCodeUnexpectedResult   ErrorCode = "unexpected completion result"
	ErrCodeDataMismatch       ErrorCode = "data does not match pattern"
	ErrCodeIOError            ErrorCode = "I/O error"
	ErrCodeTimeout            ErrorCode = "timeout"
	ErrCodeCanceled           ErrorCode = "canceled"
)

// SentinelError is a comparable error for errors.Is checks
type SentinelError string

func (e SentinelError) Error() string {
	return "sqpoll: " + string(e)
}

// Sentinel errors, matching structured errors of the same code
const (
	ErrSharingUnsupported SentinelError = SentinelError(ErrCodeSharingUnsupported)
	ErrKernelNotSupported SentinelError = SentinelError(ErrCodeKernelNotSupported)
	ErrPermissionDenied   SentinelError = SentinelError(ErrCodePermissionDenied)
	ErrInvalidParameters  SentinelError = SentinelError(ErrCodeInvalidParameters)
	ErrUnexpectedResult   SentinelError = SentinelError(ErrCodeUnexpectedResult)
	ErrDataMismatch       SentinelError = SentinelError(ErrCodeDataMismatch)
	ErrSubmitFailed       SentinelError = SentinelError(ErrCodeSubmitFailed)
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Ring: -1,
		Code: code,
		Msg:  msg,
	}
}

// NewRingError creates an error attributed to one ring
func NewRingError(op string, ring int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Ring: ring,
		Code: code,
		Msg:  msg,
	}
}

// NewResultError reports a completion whose result differs from the
// expected read size.
func NewResultError(ring int, res int32, want int) *Error {
	e := &Error{
		Op:   "WAIT_CQE",
		Ring: ring,
		Code: ErrCodeUnexpectedResult,
		Res:  res,
		Msg:  fmt.Sprintf("Unexpected ret %d, want %d", res, want),
	}
	if res < 0 {
		e.Errno = syscall.Errno(-res)
		e.Inner = e.Errno
	}
	return e
}

// WrapError wraps an existing error with scenario context
func WrapError(op string, inner error) *Error {
	return WrapRingError(op, -1, inner)
}

// WrapRingError wraps an existing error with scenario and ring context
func WrapRingError(op string, ring int, inner error) *Error {
	if inner == nil {
		return nil
	}

	// An already structured error keeps its classification
	var se *Error
	if errors.As(inner, &se) {
		return &Error{
			Op:    op,
			Ring:  ring,
			Code:  se.Code,
			Errno: se.Errno,
			Res:   se.Res,
			Msg:   se.Msg,
			Inner: se.Inner,
		}
	}

	// Errnos may sit under pkg/errors or fmt wrapping
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:    op,
			Ring:  ring,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   inner.Error(),
			Inner: inner,
		}
	}

	code := ErrCodeIOError
	switch {
	case errors.Is(inner, ErrSharingUnsupported):
		code = ErrCodeSharingUnsupported
	case errors.Is(inner, context.Canceled), errors.Is(inner, context.DeadlineExceeded):
		code = ErrCodeCanceled
	}
	return &Error{
		Op:    op,
		Ring:  ring,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps syscall errno to error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeKernelNotSupported
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.EBUSY, syscall.EAGAIN:
		return ErrCodeRingBusy
	case syscall.EBADF, syscall.EBADFD:
		return ErrCodeBadDescriptor
	case syscall.ETIME, syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.ECANCELED:
		return ErrCodeCanceled
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Errno == errno
	}
	return false
}
