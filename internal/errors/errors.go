package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsAppError checks if an error is an AppError anywhere in its chain
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the error code of the nearest AppError in the chain,
// otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Predefined error codes
const (
	// CodeDegenerateFit marks a replicate whose curve fit could not produce
	// coefficients (too few points, nothing significant, non-convergence).
	// Recovered per replicate: dropped from the distribution and counted.
	CodeDegenerateFit = "DEGENERATE_FIT"
	// CodeEmptyGroup marks a subgroup partition with zero studies. Fatal
	// precondition, raised before any Monte Carlo loop starts.
	CodeEmptyGroup = "EMPTY_GROUP"
	// CodeMismatchedContrast marks distributions whose lengths or replicate
	// indices do not correspond. Fails fast, never truncates silently.
	CodeMismatchedContrast = "MISMATCHED_CONTRAST"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeStorageError       = "STORAGE_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Common error constructors

func DegenerateFit(reason string) *AppError {
	return New(CodeDegenerateFit, fmt.Sprintf("degenerate fit: %s", reason))
}

func DegenerateFitf(format string, args ...interface{}) *AppError {
	return DegenerateFit(fmt.Sprintf(format, args...))
}

func EmptyGroup(dimension, label string) *AppError {
	return New(CodeEmptyGroup, fmt.Sprintf("group %q in dimension %q has no studies", label, dimension))
}

func MismatchedContrast(message string) *AppError {
	return New(CodeMismatchedContrast, message)
}

func MismatchedContrastf(format string, args ...interface{}) *AppError {
	return MismatchedContrast(fmt.Sprintf(format, args...))
}

func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func ConfigInvalidf(format string, args ...interface{}) *AppError {
	return ConfigInvalid(fmt.Sprintf(format, args...))
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func InvalidInputf(format string, args ...interface{}) *AppError {
	return InvalidInput(fmt.Sprintf(format, args...))
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func StorageError(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeStorageError,
		Message: message,
		Cause:   cause,
	}
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

// Classification helpers

// IsDegenerateFit reports whether the error marks a recoverable
// degenerate-fit replicate.
func IsDegenerateFit(err error) bool {
	return GetCode(err) == CodeDegenerateFit
}

// IsEmptyGroup reports whether the error marks an empty subgroup.
func IsEmptyGroup(err error) bool {
	return GetCode(err) == CodeEmptyGroup
}

// IsMismatchedContrast reports whether the error marks unpaired
// distributions.
func IsMismatchedContrast(err error) bool {
	return GetCode(err) == CodeMismatchedContrast
}

// IsConfigInvalid reports whether the error marks invalid configuration.
func IsConfigInvalid(err error) bool {
	return GetCode(err) == CodeConfigInvalid
}
