package utils

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/turtacn/taskgate/pkg/errors"
)

// Validator holds the singleton instance of the validator.
var defaultValidator = validator.New()

// User ids are opaque: any non-empty string names a user, spaces and braces included.
const userIDTag = "required"

// ValidateUserID checks that id can be used as a task owner.
// The returned error always carries the client facing message.
func ValidateUserID(id string) errors.AppError {
	if err := defaultValidator.Var(id, userIDTag); err != nil {
		return errors.ErrValidation("User ID is required.").
			WithMetadata("reason", formatValidationError(err))
	}
	return nil
}

// formatValidationError creates a user-friendly error message for a validation error.
func formatValidationError(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return "is required"
	default:
		return fmt.Sprintf("failed on the '%s' tag", fe.Tag())
	}
}
