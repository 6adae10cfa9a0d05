// Package proverr defines the failure categories shared by the proving pipeline, the encoder and
// the proving service.
package proverr

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
)

// Category is a stable, caller-visible failure class.
type Category string

const (
	CategoryNone                 Category = ""
	CategoryInputRejected        Category = "input_rejected"
	CategoryProvingFailed        Category = "proving_failed"
	CategoryEncodingPrecondition Category = "encoding_precondition_failed"
	CategoryServiceBusy          Category = "service_busy"
	CategoryCancelled            Category = "cancelled"
)

var (
	// ErrInputRejected marks malformed or oversized attestations caught before proving starts.
	ErrInputRejected = errors.New("input rejected")

	// ErrProvingFailed marks guest traps and backend failures.
	ErrProvingFailed = errors.New("proving failed")

	// ErrAttestationRejected is returned when the guest program judged the attestation invalid. It
	// is a proving failure with its own reason.
	ErrAttestationRejected = errors.New("attestation rejected by guest program")

	// ErrEncodingPrecondition marks an attempt to encode a receipt without a SNARK seal.
	ErrEncodingPrecondition = errors.New("encoding precondition failed")

	// ErrServiceBusy is returned when the proving queue is full.
	ErrServiceBusy = errors.New("service busy")

	// ErrCancelled marks an explicit timeout or a client cancellation.
	ErrCancelled = errors.New("cancelled")

	// ErrBackendStopped marks a job the proving backend timed out or aborted on its own side.
	ErrBackendStopped = errors.New("stopped by backend")
)

// categoryError binds a cause to a sentinel so that errors.Is matches both.
type categoryError struct {
	sentinel error
	cause    error
}

func (e *categoryError) Error() string {
	return e.sentinel.Error() + ": " + e.cause.Error()
}

func (e *categoryError) Unwrap() []error {
	return []error{e.sentinel, e.cause}
}

// Cause lets github.com/pkg/errors.Cause walk to the underlying failure.
func (e *categoryError) Cause() error { return e.cause }

func mark(sentinel, cause error, msg string) error {
	if cause == nil {
		if msg == "" {
			return errors.WithStack(sentinel)
		}
		return errors.Wrap(sentinel, msg)
	}
	if msg != "" {
		cause = errors.WithMessage(cause, msg)
	}
	return &categoryError{sentinel: sentinel, cause: cause}
}

// InputRejected wraps err as an input-rejected failure.
func InputRejected(err error, msg string) error { return mark(ErrInputRejected, err, msg) }

// ProvingFailed wraps err as a proving failure.
func ProvingFailed(err error, msg string) error { return mark(ErrProvingFailed, err, msg) }

// AttestationRejected reports a negative guest verdict.
func AttestationRejected(reason string) error {
	return &categoryError{sentinel: ErrProvingFailed, cause: errors.WithMessage(ErrAttestationRejected, reason)}
}

// EncodingPrecondition wraps err as an encoding precondition failure.
func EncodingPrecondition(err error, msg string) error {
	return mark(ErrEncodingPrecondition, err, msg)
}

// Cancelled wraps err as a cancellation.
func Cancelled(err error, msg string) error { return mark(ErrCancelled, err, msg) }

// FromContext converts a context error into a cancellation, leaving other errors untouched.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Cancelled(err, "proving timeout")
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled(err, "request cancelled")
	}
	return err
}

// Of returns the category of err. Errors carrying no sentinel are reported as proving failures,
// since nothing else can fail after the input has been accepted.
func Of(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrServiceBusy):
		return CategoryServiceBusy
	case errors.Is(err, ErrCancelled):
		return CategoryCancelled
	case errors.Is(err, ErrInputRejected):
		return CategoryInputRejected
	case errors.Is(err, ErrEncodingPrecondition):
		return CategoryEncodingPrecondition
	case errors.Is(err, ErrProvingFailed), errors.Is(err, ErrAttestationRejected):
		return CategoryProvingFailed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CategoryCancelled
	default:
		return CategoryProvingFailed
	}
}

// IsMarked reports whether err already carries a category sentinel.
func IsMarked(err error) bool {
	for _, sentinel := range []error{
		ErrInputRejected, ErrProvingFailed, ErrAttestationRejected,
		ErrEncodingPrecondition, ErrServiceBusy, ErrCancelled,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// Retryable reports whether a caller may reasonably resubmit the same request.
func Retryable(err error) bool {
	switch Of(err) {
	case CategoryServiceBusy, CategoryCancelled:
		return true
	default:
		return false
	}
}

// StatusClientClosedRequest is the non-standard status used when the client went away.
const StatusClientClosedRequest = 499

// HTTPStatus maps err to the status code returned by the proving service.
func HTTPStatus(err error) int {
	switch Of(err) {
	case CategoryNone:
		return http.StatusOK
	case CategoryInputRejected:
		return http.StatusBadRequest
	case CategoryServiceBusy:
		return http.StatusServiceUnavailable
	case CategoryCancelled:
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrBackendStopped) {
			return http.StatusGatewayTimeout
		}
		return StatusClientClosedRequest
	case CategoryProvingFailed:
		if errors.Is(err, ErrAttestationRejected) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
