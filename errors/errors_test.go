package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindInternal, "internal"},
		{KindNotFound, "not_found"},
		{KindValidation, "validation"},
		{KindDuplicate, "duplicate"},
		{KindQuotaExceeded, "quota_exceeded"},
		{KindTransformExecution, "transform_execution"},
		{KindQueuePublish, "queue_publish"},
		{Kind(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.kind.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil error", nil, KindInternal},
		{"app not found", ErrAppNotFound, KindNotFound},
		{"topic not found", ErrTopicNotFound, KindNotFound},
		{"schema not found", ErrSchemaNotFound, KindNotFound},
		{"transformer not found", ErrTransformerNotFound, KindNotFound},
		{"schema required", ErrSchemaRequired, KindValidation},
		{"schema mismatch", ErrSchemaMismatch, KindValidation},
		{"ambiguous reference", ErrAmbiguousRef, KindValidation},
		{"invalid data", ErrInvalidData, KindValidation},
		{"invalid transition", ErrInvalidTransition, KindValidation},
		{"duplicate name", ErrDuplicateName, KindDuplicate},
		{"duplicate transformer", ErrDuplicateTransformer, KindDuplicate},
		{"quota exceeded", ErrQuotaExceeded, KindQuotaExceeded},
		{"transform timeout", ErrTransformTimeout, KindTransformExecution},
		{"transform budget", ErrTransformBudget, KindTransformExecution},
		{"transform runtime", ErrTransformRuntime, KindTransformExecution},
		{"transform bad output", ErrTransformBadOutput, KindTransformExecution},
		{"transform oversized", ErrTransformOversized, KindTransformExecution},
		{"transform syntax", ErrTransformSyntax, KindTransformExecution},
		{"queue publish", ErrQueuePublish, KindQueuePublish},
		{"unknown error", fmt.Errorf("something unexpected"), KindInternal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := KindOf(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestKindOf_WrappedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			"wrapped not found",
			Wrap(ErrTopicNotFound, "Resolver", "ResolveTopic", "topic lookup"),
			KindNotFound,
		},
		{
			"double wrapped quota",
			Wrap(Wrap(ErrQuotaExceeded, "Limiter", "Check", "rate check"), "Publisher", "Publish", "quota"),
			KindQuotaExceeded,
		},
		{
			"classified transform error",
			WrapInvalid(ErrTransformTimeout, "Sandbox", "Execute", "transform"),
			KindTransformExecution,
		},
		{
			"classified transient queue error",
			WrapTransient(ErrQueuePublish, "Producer", "Append", "broker publish"),
			KindQueuePublish,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := KindOf(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"no connection", ErrNoConnection, true},
		{"circuit open", ErrCircuitOpen, true},
		{"queue publish", ErrQueuePublish, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"topic not found", ErrTopicNotFound, false},
		{"schema mismatch", ErrSchemaMismatch, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network connection failed"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"connection timeout", ErrConnectionTimeout, false},
		{"topic not found", ErrTopicNotFound, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"topic not found", ErrTopicNotFound, true},
		{"schema mismatch", ErrSchemaMismatch, true},
		{"duplicate name", ErrDuplicateName, true},
		{"connection timeout", ErrConnectionTimeout, false},
		{"queue publish", ErrQueuePublish, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"invalid config is fatal", ErrInvalidConfig, ErrorFatal},
		{"not found is invalid", ErrSchemaNotFound, ErrorInvalid},
		{"connection lost is transient", ErrConnectionLost, ErrorTransient},
		{"unknown is transient", fmt.Errorf("boom"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Classify(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := fmt.Errorf("connection refused")
	wrapped := Wrap(base, "Producer", "Connect", "broker connection")

	expected := "Producer.Connect: broker connection failed: connection refused"
	if wrapped.Error() != expected {
		t.Errorf("expected %q, got %q", expected, wrapped.Error())
	}

	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should match base via errors.Is")
	}

	if Wrap(nil, "X", "Y", "Z") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := fmt.Errorf("boom")

	tests := []struct {
		name     string
		wrap     func(error, string, string, string) error
		expected ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"fatal", WrapFatal, ErrorFatal},
		{"invalid", WrapInvalid, ErrorInvalid},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.wrap(base, "Component", "Method", "action")

			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatal("expected a ClassifiedError")
			}
			if ce.Class != test.expected {
				t.Errorf("expected class %v, got %v", test.expected, ce.Class)
			}
			if ce.Component != "Component" {
				t.Errorf("expected component Component, got %s", ce.Component)
			}
			if !strings.Contains(err.Error(), "Component.Method: action failed") {
				t.Errorf("unexpected message: %s", err.Error())
			}
			if !errors.Is(err, base) {
				t.Error("classified error should preserve the chain")
			}

			if test.wrap(nil, "X", "Y", "Z") != nil {
				t.Error("wrapping nil should return nil")
			}
		})
	}
}

func TestIsNotFoundAndIsValidation(t *testing.T) {
	if !IsNotFound(Wrap(ErrAppNotFound, "Resolver", "ResolveApp", "app lookup")) {
		t.Error("wrapped app-not-found should report IsNotFound")
	}
	if IsNotFound(ErrSchemaMismatch) {
		t.Error("schema mismatch should not report IsNotFound")
	}
	if !IsValidation(ErrSchemaRequired) {
		t.Error("schema-required should report IsValidation")
	}
	if IsValidation(nil) {
		t.Error("nil should not report IsValidation")
	}
}
