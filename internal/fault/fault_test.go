package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := Validationf("owner_user_id", "required")
	if !IsValidation(err) {
		t.Error("IsValidation returned false")
	}
	if IsConflict(err) || IsNotFound(err) {
		t.Error("misclassified validation error")
	}

	wrapped := fmt.Errorf("importing: %w", err)
	if !IsValidation(wrapped) {
		t.Error("IsValidation should see through wrapping")
	}

	var ve *ValidationError
	if !errors.As(wrapped, &ve) {
		t.Fatal("errors.As failed")
	}
	if ve.Field != "owner_user_id" {
		t.Errorf("Field: got %q", ve.Field)
	}
}

func TestConflictError(t *testing.T) {
	err := &ConflictError{Key: "email", Value: "a@example.com"}
	if !IsConflict(err) {
		t.Error("IsConflict returned false")
	}
	if err.Error() == "" {
		t.Error("empty message")
	}

	// Value is optional for secrets like refresh tokens.
	bare := &ConflictError{Key: "refresh_token"}
	if bare.Error() == "" {
		t.Error("empty message without value")
	}
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Entity: "account", ID: "abc"}
	if !IsNotFound(err) {
		t.Error("IsNotFound returned false")
	}
	if IsValidation(err) {
		t.Error("misclassified not-found error")
	}
}
