package order

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation signals malformed or incomplete input, rejected before any write.
	ErrValidation = errors.New("order: validation failed")
	// ErrAuthorization signals a customer asking for another user's order.
	ErrAuthorization = errors.New("order: not authorized")
	// ErrInvalidTransition signals a status edge outside the lifecycle table,
	// including a transition that lost a race with a concurrent one.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrNotFound signals an unknown order, product or variant id.
	ErrNotFound = errors.New("order: not found")
	// ErrPersistence signals a storage or transaction failure.
	ErrPersistence = errors.New("order: persistence failure")
)

// KindOf returns the taxonomy name of err, or "internal" for unclassified errors.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrAuthorization):
		return "authorization_error"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	}
	return "internal"
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// persistence wraps a storage error unless it already carries a taxonomy kind.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "internal" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: transaction timed out: %w", ErrPersistence, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
