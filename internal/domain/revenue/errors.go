package revenue

import (
	"errors"
	"fmt"

	"github.com/billerly/rcm/internal/platform/auth"
)

// ValidationError rejects malformed entity construction. Never corrected
// silently; the caller sees the specific rule that failed.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error %s: %s", e.Code, e.Message)
}

const (
	ValidationInconsistentTotals = "inconsistent_totals"
	ValidationBadAmount          = "bad_amount"
	ValidationBadLineItem        = "bad_line_item"
	ValidationMissingField       = "missing_field"
	ValidationBadReference       = "bad_reference"
)

func validationErrorf(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// LifecycleError rejects an illegal or stale transition.
type LifecycleError struct {
	Code    string
	Entity  auth.Entity
	Message string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("lifecycle error %s on %s: %s", e.Code, e.Entity, e.Message)
}

const (
	LifecycleInvalidTransition = "invalid_transition"
	LifecycleStaleState        = "stale_state"
	LifecycleDeadlinePassed    = "deadline_passed"
	LifecycleOverPayment       = "over_payment"
	LifecycleIncompleteCoding  = "incomplete_coding"
)

// ErrInvalidTransition rejects an action invoked outside its declared source
// states.
func ErrInvalidTransition(entity auth.Entity, from, action string) *LifecycleError {
	return &LifecycleError{
		Code:    LifecycleInvalidTransition,
		Entity:  entity,
		Message: fmt.Sprintf("cannot %s from status %s", action, from),
	}
}

// ErrStaleState rejects a transition whose expected status no longer matches
// the stored one. The caller must re-read and retry.
func ErrStaleState(entity auth.Entity, id string) *LifecycleError {
	return &LifecycleError{
		Code:    LifecycleStaleState,
		Entity:  entity,
		Message: fmt.Sprintf("%s %s was modified concurrently", entity, id),
	}
}

func ErrDeadlinePassed(deadline string) *LifecycleError {
	return &LifecycleError{
		Code:    LifecycleDeadlinePassed,
		Entity:  auth.EntityDenial,
		Message: fmt.Sprintf("appeal deadline %s has passed", deadline),
	}
}

func ErrOverPayment(attempted, remaining int64) *LifecycleError {
	return &LifecycleError{
		Code:    LifecycleOverPayment,
		Entity:  auth.EntityInvoice,
		Message: fmt.Sprintf("payment of %d cents exceeds remaining responsibility of %d cents", attempted, remaining),
	}
}

func ErrIncompleteCoding() *LifecycleError {
	return &LifecycleError{
		Code:    LifecycleIncompleteCoding,
		Entity:  auth.EntityCharge,
		Message: "charge has no line items",
	}
}

// PolicyError rejects an action the actor's role is not granted.
type PolicyError struct {
	Role   auth.Role
	Entity auth.Entity
	Action auth.Action
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("role %s may not %s %s", e.Role, e.Action, e.Entity)
}

// ErrNotFound marks a lookup of an entity that does not exist.
type NotFoundError struct {
	Entity auth.Entity
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// LifecycleCode extracts the lifecycle error code from err, or "".
func LifecycleCode(err error) string {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
