package chat

import (
	"errors"
	"fmt"

	"social-chat/internal/repositories"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// storeError maps repository sentinels onto the chat taxonomy and wraps the rest.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		return fmt.Errorf("%w: conversation", ErrNotFound)
	case errors.Is(err, repositories.ErrMessageNotFound):
		return fmt.Errorf("%w: message", ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Reason returns the client-facing text of err. Storage failures are not described.
func Reason(err error) string {
	if IsClientError(err) {
		return err.Error()
	}
	return "internal error"
}

// IsClientError reports whether err was caused by the request rather than the service.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden)
}

// Outcome labels err for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
