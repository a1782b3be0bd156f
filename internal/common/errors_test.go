package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := NewValidationError("frequency", "must be one of daily, weekly, biweekly, monthly, quarterly, yearly")

	if !IsValidation(err) {
		t.Error("IsValidation() = false for a ValidationError")
	}
	if IsValidation(errors.New("boom")) {
		t.Error("IsValidation() = true for a plain error")
	}

	wrapped := fmt.Errorf("failed to create definition: %w", err)
	if !IsValidation(wrapped) {
		t.Error("IsValidation() = false for a wrapped ValidationError")
	}

	var ve *ValidationError
	if !errors.As(wrapped, &ve) {
		t.Fatal("errors.As failed to unwrap ValidationError")
	}
	if ve.Field != "frequency" {
		t.Errorf("Field = %q, want %q", ve.Field, "frequency")
	}
}

func TestStoreError_Retryable(t *testing.T) {
	cause := errors.New("database is locked")
	err := NewStoreError("advance definition", "def-123", cause)

	if !IsRetryable(err) {
		t.Error("IsRetryable() = false for a StoreError")
	}
	if !errors.Is(err, cause) {
		t.Error("StoreError does not unwrap to its cause")
	}
	if got := err.Error(); got != "advance definition def-123: database is locked" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsRetryable_ValidationNotRetryable(t *testing.T) {
	if IsRetryable(NewValidationError("amount", "must be positive")) {
		t.Error("validation errors must not be retried")
	}
	if IsRetryable(fmt.Errorf("definition %q: %w", "abc", ErrNotFound)) {
		t.Error("not-found errors must not be retried")
	}
}
