package service

import (
	"fmt"
	"strings"

	"kit-notes-server/internal/domain"
)

// noteError names the note a store error refers to.
func noteError(ref NoteRef, err error) error {
	if domain.IsNotFound(err) && !strings.Contains(err.Error(), ref.String()) {
		return fmt.Errorf("note %s: %w", ref, err)
	}
	return err
}

// isUserError reports whether err came from bad input rather than a broken
// dependency. User errors are explained to the user as feedback.
func isUserError(err error) bool {
	if _, ok := domain.AsValidationError(err); ok {
		return true
	}
	return domain.IsNotFound(err)
}

func failureFeedback(intentName string, err error) string {
	if domain.IsNotFound(err) {
		return fmt.Sprintf("Could not complete the request: %v. It may not exist or may have been deleted.", err)
	}
	if ve, ok := domain.AsValidationError(err); ok {
		if ve.Field == "intent" {
			return fmt.Sprintf("I don't know how to perform %q.", intentName)
		}
		return fmt.Sprintf("Could not complete the request: %v.", ve)
	}
	return "Could not complete the request due to an internal error."
}
