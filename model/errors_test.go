package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	err := NewNotFoundError("case \"abc\" not found")
	want := "NOT_FOUND: case \"abc\" not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConstructors_codes(t *testing.T) {
	tests := []struct {
		err  *ErrorEnvelope
		code string
	}{
		{NewBadRequestError("x"), ErrBadRequest},
		{NewUnauthorizedError("x"), ErrUnauthorized},
		{NewNotFoundError("x"), ErrNotFound},
		{NewConflictError("x"), ErrConflict},
		{NewInternalError(), ErrInternalError},
		{NewStoreError("x"), ErrStoreError},
		{NewInvalidTransitionError("x"), ErrInvalidTransition},
		{NewInvariantViolationError("x"), ErrInvariantViolation},
		{NewBackendUnavailableError("x"), ErrBackendUnavailable},
		{NewBackendTimeoutError("x"), ErrBackendTimeout},
	}
	for _, tt := range tests {
		if tt.err.Code != tt.code {
			t.Errorf("code = %s, want %s", tt.err.Code, tt.code)
		}
	}
}

func TestNewValidationError_details(t *testing.T) {
	err := NewValidationError([]FieldError{
		{Field: "priority_hint", Code: "invalid_enum", Message: "bad"},
	})
	if err.Code != ErrValidationError {
		t.Errorf("code = %s", err.Code)
	}
	if len(err.Details) != 1 || err.Details[0].Field != "priority_hint" {
		t.Errorf("details = %+v", err.Details)
	}
}

func TestIsCode(t *testing.T) {
	var err error = NewStoreError("db down")
	if !IsCode(err, ErrStoreError) {
		t.Error("IsCode should match STORE_ERROR")
	}
	if IsCode(err, ErrNotFound) {
		t.Error("IsCode should not match NOT_FOUND")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if IsCode(wrapped, ErrStoreError) {
		t.Error("IsCode is intentionally non-unwrapping")
	}
	if IsCode(errors.New("plain"), ErrStoreError) {
		t.Error("plain errors never match")
	}
}
