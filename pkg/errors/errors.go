// Package errors holds the domain error types shared by the WorkMate services.
//
// Sentinels are matched with errors.Is, typed errors carry the details the
// HTTP layer and the pipeline need (validation code and limit, provider message).
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested resource was not found or is not visible yet.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the request collides with a run already in progress or finished.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation error")

	// ErrForbidden indicates the caller is not allowed to perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState indicates a transition that the status machine does not allow.
	ErrInvalidState = errors.New("invalid state")

	// ErrProvider indicates a speech or language provider failure.
	ErrProvider = errors.New("provider error")

	// ErrUnavailable indicates the service cannot accept more work right now.
	ErrUnavailable = errors.New("unavailable")

	// ErrInternal indicates an unexpected fault.
	ErrInternal = errors.New("internal error")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func IsProvider(err error) bool {
	return errors.Is(err, ErrProvider)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// ValidationCode classifies a ValidationError.
type ValidationCode string

const (
	CodeUnsupportedFormat ValidationCode = "unsupported_format"
	CodeFileTooLarge      ValidationCode = "file_too_large"
	CodeEmptyUpload       ValidationCode = "empty_upload"
	CodeInvalidTier       ValidationCode = "invalid_tier"
	CodeInvalidInput      ValidationCode = "invalid_input"
)

// ValidationError is returned for rejected input. Limit is set for CodeFileTooLarge.
type ValidationError struct {
	Code    ValidationCode
	Message string
	Limit   int64
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func UnsupportedFormat(mimeType string) *ValidationError {
	return &ValidationError{
		Code:    CodeUnsupportedFormat,
		Message: fmt.Sprintf("Unsupported audio format: %s", mimeType),
	}
}

// FileTooLarge cites the ceiling in whole megabytes.
func FileTooLarge(tier string, limit int64) *ValidationError {
	return &ValidationError{
		Code:    CodeFileTooLarge,
		Message: fmt.Sprintf("File too large for %s tier. Maximum size: %dMB", tier, limit/(1024*1024)),
		Limit:   limit,
	}
}

func EmptyUpload() *ValidationError {
	return &ValidationError{
		Code:    CodeEmptyUpload,
		Message: "Uploaded audio file is empty",
	}
}

func InvalidTier(tier string) *ValidationError {
	return &ValidationError{
		Code:    CodeInvalidTier,
		Message: fmt.Sprintf("Unknown subscription tier: %q", tier),
	}
}

func InvalidInput(format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf(format, args...),
	}
}

// ProviderError wraps a failure reported by an external engine. Message is kept
// verbatim so it can be surfaced as the meeting's error message.
type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return ErrProvider
}

func Provider(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Message: message}
}

// ProviderMessage returns the provider's own message when err carries one,
// otherwise err's text.
func ProviderMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}
