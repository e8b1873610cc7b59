// Package errors provides standardized error handling patterns for Splatcast components.
//
// # Overview
//
// The errors package combines two orthogonal classifications:
//
//   - Kind: the category of failure reported to callers (not found, validation,
//     duplicate, quota exceeded, transform execution, queue publish, internal).
//     Boundary handlers map each Kind to exactly one HTTP status or WebSocket
//     close code.
//   - ErrorClass: the retry classification (transient, invalid, fatal) used by
//     internal components to decide between retrying, rejecting, and stopping.
//
// Both integrate with Go's standard error handling, supporting errors.Is(),
// errors.As(), and wrap chains.
//
// # Quick Start
//
// Return standard error variables for known conditions:
//
//	if topic == nil {
//	    return errors.ErrTopicNotFound
//	}
//
// Wrap errors with component context for debugging:
//
//	if err := producer.Append(ctx, channel, event); err != nil {
//	    return errors.WrapTransient(err, "Producer", "Append", "broker publish")
//	}
//
// Map failures to boundary signals:
//
//	switch errors.KindOf(err) {
//	case errors.KindNotFound:
//	    http.Error(w, err.Error(), http.StatusNotFound)
//	case errors.KindQuotaExceeded:
//	    http.Error(w, err.Error(), http.StatusTooManyRequests)
//	}
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: underlying error"
//
// This produces consistent, greppable messages while preserving the full
// error chain for programmatic inspection.
//
// # Transform Sandbox Errors
//
// Sandbox failures all classify as KindTransformExecution, but each concrete
// failure mode has its own sentinel (ErrTransformTimeout, ErrTransformBudget,
// ErrTransformRuntime, ErrTransformBadOutput, ErrTransformOversized,
// ErrTransformSyntax) so callers can report the specific mode without string
// matching.
package errors
