package services

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error taxonomy surfaced by the lifecycle engine, dispute resolver and chat
// service. Handlers map these onto HTTP status codes; the deadline sweeper
// logs them and moves on to the next candidate.

// ValidationError — bad input shape (unknown kind, non-positive wager, ...).
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// EligibilityError — actor or squad fails a guard: insufficient balance,
// roster too small, deadline passed, actor not a leader.
type EligibilityError struct{ Msg string }

func (e *EligibilityError) Error() string { return e.Msg }

// StateConflictError — transition attempted from an illegal state, including
// the loser of a race with the deadline sweeper.
type StateConflictError struct{ Msg string }

func (e *StateConflictError) Error() string { return e.Msg }

// NotFoundError — unknown match or squad.
type NotFoundError struct{ Msg string }

func (e *NotFoundError) Error() string { return e.Msg }

func errValidationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func errEligibilityf(format string, args ...interface{}) error {
	return &EligibilityError{Msg: fmt.Sprintf(format, args...)}
}

func errStateConflictf(format string, args ...interface{}) error {
	return &StateConflictError{Msg: fmt.Sprintf(format, args...)}
}

func errNotFoundf(format string, args ...interface{}) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps a domain error to the status code the handlers return.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		eligible   *EligibilityError
		conflict   *StateConflictError
		notFound   *NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		return fiber.StatusBadRequest
	case errors.As(err, &eligible):
		return fiber.StatusForbidden
	case errors.As(err, &conflict):
		return fiber.StatusConflict
	case errors.As(err, &notFound):
		return fiber.StatusNotFound
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	return c.Status(HTTPStatus(err)).JSON(fiber.Map{"error": err.Error()})
}
