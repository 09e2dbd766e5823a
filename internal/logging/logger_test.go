package logging_test

import (
	"context"
	"testing"

	"postflow/internal/logging"
	"postflow/internal/services"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewDefaultsToConsole(t *testing.T) {
	logger, err := logging.New(logging.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger")
	}
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	if fields := logging.ContextFields(ctx); len(fields) != 0 {
		t.Fatalf("expected no fields on empty context, got %d", len(fields))
	}

	ctx = services.WithProjectID(ctx, "proj-1")
	ctx = services.WithJobID(ctx, "job-2")
	ctx = services.WithStep(ctx, "extract_insights")
	ctx = services.WithRequestID(ctx, "req-3")

	fields := logging.ContextFields(ctx)
	if len(fields) != 4 {
		t.Fatalf("expected 4 fields, got %d", len(fields))
	}
	want := map[string]string{
		logging.FieldProjectID:     "proj-1",
		logging.FieldJobID:         "job-2",
		logging.FieldStep:          "extract_insights",
		logging.FieldCorrelationID: "req-3",
	}
	for _, field := range fields {
		if want[field.Key] != field.Value.String() {
			t.Errorf("field %s = %q, want %q", field.Key, field.Value.String(), want[field.Key])
		}
	}
}

func TestWithContextNilLogger(t *testing.T) {
	logger := logging.WithContext(context.Background(), nil)
	if logger == nil {
		t.Fatal("expected fallback logger")
	}
	logger.Info("no-op")
}
