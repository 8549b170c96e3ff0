// Package errors provides the structured, typed error used across every
// component instead of ad-hoc error strings or panics (design note §9:
// "exception-driven control flow around I/O failures -> explicit result
// types"). It is adapted from the teacher repository's errors/Error.go:
// the tagged *Error{Code, Message, WrappedErr, Data} shape, Is/As/Unwrap,
// and the gRPC status-code classification are kept. The teacher's
// protobuf-detail round trip through anypb/TError is dropped — see
// DESIGN.md for why — since nothing in this module crosses a wire
// boundary that needs typed error detail preserved across a gRPC hop.
package errors

import (
	"errors"
	"fmt"
	"reflect"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrData lets an Error carry additional structured context (e.g. the
// rejected parameter name) that still satisfies the error interface.
type ErrData interface {
	Error() string
}

// Error is the tagged error every component returns instead of a bare
// error value.
type Error struct {
	Code       ERR
	Message    string
	WrappedErr error
	Data       ErrData
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	dataMsg := ""
	if e.Data != nil {
		dataMsg = e.Data.Error()
	}

	if e.WrappedErr == nil {
		if dataMsg == "" {
			return fmt.Sprintf("%s: %v", e.Code, e.Message)
		}
		return fmt.Sprintf("%s: %v, data: %s", e.Code, e.Message, dataMsg)
	}

	if dataMsg == "" {
		return fmt.Sprintf("%s (code %d): %v: %v", e.Code, e.Code, e.Message, e.WrappedErr)
	}

	return fmt.Sprintf("%s (code %d): %v: %v, data: %s", e.Code, e.Code, e.Message, e.WrappedErr, dataMsg)
}

// Is reports whether error codes match, recursing into wrapped errors the
// same way the teacher's Error.Is does.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	var ue *Error
	if errors.As(target, &ue) {
		if e.Code == ue.Code {
			return true
		}
		if e.WrappedErr == nil {
			return false
		}
	}

	if unwrapped := errors.Unwrap(e); unwrapped != nil {
		if ue, ok := unwrapped.(*Error); ok {
			return ue.Is(target)
		}
	}

	return false
}

func (e *Error) As(target interface{}) bool {
	if e == nil {
		return false
	}

	if targetErr, ok := target.(**Error); ok {
		*targetErr = e
		return true
	}

	if e.Data != nil {
		if data, ok := e.Data.(error); ok {
			return errors.As(data, target)
		}
	}

	if e.WrappedErr != nil {
		if reflect.ValueOf(e.WrappedErr).IsValid() && reflect.ValueOf(e.WrappedErr).Kind() == reflect.Ptr && reflect.ValueOf(e.WrappedErr).IsNil() {
			return false
		}
		return errors.As(e.WrappedErr, target)
	}

	return false
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.WrappedErr
}

// New builds a tagged Error. The last element of params may be an error
// (or *Error) to wrap; remaining params are applied as fmt.Sprintf
// arguments to message, mirroring the teacher's New().
func New(code ERR, message string, params ...interface{}) *Error {
	var wrapped error

	if len(params) > 0 {
		last := params[len(params)-1]
		if err, ok := last.(error); ok {
			wrapped = err
			params = params[:len(params)-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	if !code.valid() {
		return &Error{Code: ERR_UNKNOWN, Message: "invalid error code", WrappedErr: wrapped}
	}

	return &Error{Code: code, Message: message, WrappedErr: wrapped}
}

// ErrorCodeToGRPCCode maps an application error kind to the closest gRPC
// status code, exactly as ErrorCodeToGRPCCode did in the teacher, used when
// surfacing consensus/governance errors across a service boundary (spec §7).
func ErrorCodeToGRPCCode(code ERR) codes.Code {
	switch code {
	case ERR_UNKNOWN:
		return codes.Unknown
	case ERR_INVALID_ARGUMENT, ERR_INVALID_PARAMETER_VALUE:
		return codes.InvalidArgument
	case ERR_NOT_FOUND, ERR_TX_NOT_FOUND, ERR_UNKNOWN_PARAMETER:
		return codes.NotFound
	case ERR_THRESHOLD_EXCEEDED, ERR_CAPACITY_EXCEEDED:
		return codes.ResourceExhausted
	case ERR_OUT_OF_BOUNDS:
		return codes.OutOfRange
	default:
		return codes.Internal
	}
}

// WrapGRPC turns an Error into a gRPC status error, preserving the code and
// message so a caller across a service boundary receives a classified
// status rather than an opaque Internal error.
func WrapGRPC(err *Error) error {
	if err == nil {
		return nil
	}
	return status.Error(ErrorCodeToGRPCCode(err.Code), err.Error())
}

// Is and As re-export the standard library so callers that already import
// this package don't also need "errors" for the common case.
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }

// Predefined sentinel constructors used throughout the component packages.

func NewInvalidPoWError(msg string, params ...interface{}) *Error {
	return New(ERR_INVALID_POW, msg, params...)
}

func NewInvalidMerkleError(msg string, params ...interface{}) *Error {
	return New(ERR_INVALID_MERKLE, msg, params...)
}

func NewInvalidOrderingError(msg string, params ...interface{}) *Error {
	return New(ERR_INVALID_ORDERING, msg, params...)
}

func NewSizeOverLimitError(msg string, params ...interface{}) *Error {
	return New(ERR_SIZE_OVER_LIMIT, msg, params...)
}

func NewInvalidTransitionError(msg string, params ...interface{}) *Error {
	return New(ERR_INVALID_TRANSITION, msg, params...)
}

func NewInsufficientSignaturesError(msg string, params ...interface{}) *Error {
	return New(ERR_INSUFFICIENT_SIGNATURES, msg, params...)
}

func NewCheckpointConflictError(msg string, params ...interface{}) *Error {
	return New(ERR_CHECKPOINT_CONFLICT, msg, params...)
}

func NewMissingTxError(msg string, params ...interface{}) *Error {
	return New(ERR_MISSING_TX, msg, params...)
}

func NewDecodeFailureError(msg string, params ...interface{}) *Error {
	return New(ERR_DECODE_FAILURE, msg, params...)
}

func NewDuplicateVoteError(msg string, params ...interface{}) *Error {
	return New(ERR_DUPLICATE_VOTE, msg, params...)
}

func NewInsufficientStakeError(msg string, params ...interface{}) *Error {
	return New(ERR_INSUFFICIENT_STAKE, msg, params...)
}

func NewConflictingProposalError(msg string, params ...interface{}) *Error {
	return New(ERR_CONFLICTING_PROPOSAL, msg, params...)
}

func NewInvalidParameterValueError(msg string, params ...interface{}) *Error {
	return New(ERR_INVALID_PARAMETER_VALUE, msg, params...)
}

func NewUnknownParameterError(msg string, params ...interface{}) *Error {
	return New(ERR_UNKNOWN_PARAMETER, msg, params...)
}

func NewOutOfBoundsError(msg string, params ...interface{}) *Error {
	return New(ERR_OUT_OF_BOUNDS, msg, params...)
}

func NewDuplicateError(msg string, params ...interface{}) *Error {
	return New(ERR_DUPLICATE, msg, params...)
}

func NewCapacityExceededError(msg string, params ...interface{}) *Error {
	return New(ERR_CAPACITY_EXCEEDED, msg, params...)
}

func NewTxNotFoundError(msg string, params ...interface{}) *Error {
	return New(ERR_TX_NOT_FOUND, msg, params...)
}

func NewNotFoundError(msg string, params ...interface{}) *Error {
	return New(ERR_NOT_FOUND, msg, params...)
}

func NewInvalidArgumentError(msg string, params ...interface{}) *Error {
	return New(ERR_INVALID_ARGUMENT, msg, params...)
}
