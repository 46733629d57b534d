package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationErrorMatchesInvalidTransaction(t *testing.T) {
	err := NewValidationError("descricao", "must be 1 to 10 characters")
	if !IsInvalidTransaction(err) {
		t.Fatalf("validation error should match ErrInvalidTransaction: %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "descricao" {
		t.Fatalf("field not preserved: %v", err)
	}
}

func TestStoreErrorMatchesUnavailableAndKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreError("commit", cause)

	if !IsStoreUnavailable(err) {
		t.Fatalf("store error should match ErrStoreUnavailable: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost: %v", err)
	}
	if IsConflict(err) || IsNotFound(err) {
		t.Fatalf("store error matched unrelated classes: %v", err)
	}
}

func TestWrappedSentinelsStayDistinct(t *testing.T) {
	wrapped := fmt.Errorf("apply: %w", ErrInconsistentBalance)
	if !IsInconsistentBalance(wrapped) {
		t.Fatal("wrapping should preserve the class")
	}
	if IsInvalidTransaction(wrapped) || IsNotFound(wrapped) || IsStoreUnavailable(wrapped) {
		t.Fatal("classes must never be conflated")
	}
}
