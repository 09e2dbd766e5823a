package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks lookups whose entity id did not resolve.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition marks stage changes with no edge in the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidOperation marks operations whose stage or state precondition failed.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrValidation marks malformed caller input.
	ErrValidation = errors.New("validation error")
	// ErrExternal marks adapter or AI call failures eligible for retry.
	ErrExternal = errors.New("external failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExternal
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether an error should go through the retry/backoff
// path. Synchronous precondition and validation failures are surfaced to the
// caller directly and never retried; everything else is treated as external.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidOperation),
		errors.Is(err, ErrValidation):
		return false
	default:
		return true
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
