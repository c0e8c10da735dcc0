// Package errors provides unified error handling with structured error codes.
// Codes are stable strings shared by the HTTP and gRPC surfaces.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies a class of failure.
type Code string

const (
	Unknown           Code = "UNKNOWN"
	Internal          Code = "INTERNAL"
	InvalidArgument   Code = "INVALID_ARGUMENT"
	NotFound          Code = "NOT_FOUND"
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	OutOfRange        Code = "OUT_OF_RANGE"
	Released          Code = "RELEASED"
	NotInitialized    Code = "NOT_INITIALIZED"
	Configuration     Code = "CONFIGURATION"
	NotReady          Code = "NOT_READY"
	Assertion         Code = "ASSERTION"
	CaptureFailed     Code = "CAPTURE_FAILED"
	IO                Code = "IO"
)

// Domain is reported in gRPC ErrorInfo details.
const Domain = "indicator-watch"

var grpcCodeMap = map[Code]codes.Code{
	Unknown:           codes.Unknown,
	Internal:          codes.Internal,
	InvalidArgument:   codes.InvalidArgument,
	NotFound:          codes.NotFound,
	UnsupportedFormat: codes.InvalidArgument,
	OutOfRange:        codes.OutOfRange,
	Released:          codes.FailedPrecondition,
	NotInitialized:    codes.FailedPrecondition,
	Configuration:     codes.FailedPrecondition,
	NotReady:          codes.FailedPrecondition,
	Assertion:         codes.Internal,
	CaptureFailed:     codes.Unavailable,
	IO:                codes.Internal,
}

var httpCodeMap = map[Code]int{
	InvalidArgument:   http.StatusBadRequest,
	UnsupportedFormat: http.StatusUnsupportedMediaType,
	OutOfRange:        http.StatusBadRequest,
	NotFound:          http.StatusNotFound,
	NotReady:          http.StatusConflict,
	CaptureFailed:     http.StatusServiceUnavailable,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code, so sentinel
// values can be matched with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// HTTPStatus returns the HTTP status code reported for this error.
func (e *AppError) HTTPStatus() int {
	if c, ok := httpCodeMap[e.Code]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// GRPCStatus returns a gRPC status with an ErrorInfo detail attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	info := &errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   Domain,
		Metadata: e.Metadata,
	}
	if withDetails, err := st.WithDetails(info); err == nil {
		st = withDetails
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError recovers the AppError behind a gRPC error. Errors without
// an ErrorInfo detail are mapped from their status code.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == Domain {
			return &AppError{
				Code:     Code(info.GetReason()),
				Message:  st.Message(),
				Metadata: info.GetMetadata(),
			}
		}
	}

	// Fallback: map gRPC code to our error code
	return &AppError{Code: grpcToErrorCode(st.Code()), Message: st.Message()}
}

// grpcToErrorCode maps gRPC codes back to our error codes (best effort).
func grpcToErrorCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.NotFound:
		return NotFound
	case codes.OutOfRange:
		return OutOfRange
	case codes.Unavailable, codes.DeadlineExceeded:
		return IO
	case codes.FailedPrecondition:
		return NotReady
	case codes.Internal:
		return Internal
	default:
		return Unknown
	}
}

// CodeOf returns the code of the first AppError in err's chain, or Unknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CaptureFailed, IO:
		return true
	default:
		return false
	}
}
