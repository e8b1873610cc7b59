// Package errors provides standardized error handling for Splatcast components.
// It combines an error-kind taxonomy (what the caller should report) with a
// retry classification (what the caller should do), plus helper functions for
// consistent error wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the category of failure surfaced to callers. Each kind maps
// to exactly one boundary signal (WebSocket close code, HTTP status).
type Kind int

const (
	// KindInternal is the catch-all for unexpected failures. Internal
	// details are never leaked alongside it.
	KindInternal Kind = iota
	// KindNotFound covers missing apps, topics, schemas, and transformers.
	KindNotFound
	// KindValidation covers malformed requests, schema mismatches, and
	// missing required references.
	KindValidation
	// KindDuplicate covers name and content collisions.
	KindDuplicate
	// KindQuotaExceeded is the rate-limit signal; callers may retry later.
	KindQuotaExceeded
	// KindTransformExecution covers all sandbox failures. The specific
	// failure mode is carried by the sentinel error in the chain.
	KindTransformExecution
	// KindQueuePublish means the broker append failed.
	KindQueuePublish
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindDuplicate:
		return "duplicate"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTransformExecution:
		return "transform_execution"
	case KindQueuePublish:
		return "queue_publish"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// ErrorClass represents the retry classification of errors
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Lookup failures
	ErrAppNotFound         = errors.New("app not found")
	ErrTopicNotFound       = errors.New("topic not found")
	ErrSchemaNotFound      = errors.New("schema not found")
	ErrTransformerNotFound = errors.New("transformer not found")

	// Request validation
	ErrSchemaRequired    = errors.New("schema id or name is required")
	ErrSchemaMismatch    = errors.New("event schema does not match topic default schema")
	ErrAmbiguousRef      = errors.New("id and name refer to different records")
	ErrInvalidData       = errors.New("invalid data format")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidTransition = errors.New("invalid schema status transition")

	// Conflicts
	ErrDuplicateName        = errors.New("name already in use")
	ErrDuplicateTransformer = errors.New("enabled transformer with identical schemas and code already exists")

	// Rate limiting
	ErrQuotaExceeded = errors.New("quota exceeded")

	// Transform sandbox failure modes. Each sandbox failure wraps exactly
	// one of these so callers can report the specific mode.
	ErrTransformSyntax    = errors.New("transform code is not a valid function")
	ErrTransformTimeout   = errors.New("transform execution timed out")
	ErrTransformBudget    = errors.New("transform exceeded execution step budget")
	ErrTransformRuntime   = errors.New("transform raised an error")
	ErrTransformBadOutput = errors.New("transform must return an object")
	ErrTransformOversized = errors.New("transform output exceeds size limit")

	// Broker
	ErrQueuePublish = errors.New("failed to append to broker")

	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connection and networking errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

// transformSentinels lists the sandbox failure modes that classify as
// KindTransformExecution.
var transformSentinels = []error{
	ErrTransformSyntax,
	ErrTransformTimeout,
	ErrTransformBudget,
	ErrTransformRuntime,
	ErrTransformBadOutput,
	ErrTransformOversized,
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// KindOf returns the error kind for an error, walking the wrap chain.
// Unrecognized errors classify as KindInternal so boundary handlers never
// leak details of unexpected failures.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrAppNotFound),
		errors.Is(err, ErrTopicNotFound),
		errors.Is(err, ErrSchemaNotFound),
		errors.Is(err, ErrTransformerNotFound):
		return KindNotFound
	case errors.Is(err, ErrSchemaRequired),
		errors.Is(err, ErrSchemaMismatch),
		errors.Is(err, ErrAmbiguousRef),
		errors.Is(err, ErrInvalidData),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrInvalidTransition):
		return KindValidation
	case errors.Is(err, ErrDuplicateName),
		errors.Is(err, ErrDuplicateTransformer):
		return KindDuplicate
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrQueuePublish):
		return KindQueuePublish
	}
	for _, sentinel := range transformSentinels {
		if errors.Is(err, sentinel) {
			return KindTransformExecution
		}
	}
	return KindInternal
}

// IsNotFound reports whether err classifies as a lookup failure.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsValidation reports whether err classifies as a request validation failure.
func IsValidation(err error) bool { return err != nil && KindOf(err) == KindValidation }

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrQueuePublish) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Common transient patterns from library errors
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "unavailable", "temporary"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	switch KindOf(err) {
	case KindNotFound, KindValidation, KindDuplicate:
		return true
	}
	return false
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	return ErrorTransient
}

// newClassified creates a new classified error.
// Internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// New returns a plain error. Provided so callers don't need to import both
// this package and the standard library errors package.
func New(text string) error { return errors.New(text) }

// Errorf formats an error, supporting the %w verb.
func Errorf(format string, args ...any) error { return fmt.Errorf(format, args...) }

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }
