package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors
var (
	// Precondition errors, raised before any lock is taken
	ErrNotBookable = errors.New("target is not bookable")
	ErrInvalidSeat = errors.New("invalid seat")
	ErrValidation  = errors.New("validation error")

	// Contention errors, raised under held locks
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrSeatUnavailable       = errors.New("seat unavailable")
	ErrContention            = errors.New("store contention")

	// Cancellation and status errors
	ErrNotRefundable           = errors.New("booking is not refundable")
	ErrAlreadyTerminal         = errors.New("booking is already in a terminal state")
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// Collaborator errors
	ErrRefundFailed  = errors.New("refund failed")
	ErrPaymentFailed = errors.New("payment gateway error")

	// Not found errors
	ErrBookingNotFound    = errors.New("booking not found")
	ErrEventNotFound      = errors.New("event not found")
	ErrShowtimeNotFound   = errors.New("showtime not found")
	ErrTicketTypeNotFound = errors.New("ticket type not found")
	ErrDiscountNotFound   = errors.New("discount not found")

	// Store uniqueness errors
	ErrDuplicateReference      = errors.New("duplicate booking reference")
	ErrDuplicateTicketNumber   = errors.New("duplicate ticket number")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Bugs: pricing or locking discipline was violated
	ErrInvariantViolation = errors.New("invariant violation")
)

// ValidationError is a structurally invalid request
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidSeatError lists seats that do not exist on the layout or are disabled
type InvalidSeatError struct {
	Seats []string
}

func (e *InvalidSeatError) Error() string {
	return fmt.Sprintf("invalid seat: %s", strings.Join(e.Seats, ", "))
}

func (e *InvalidSeatError) Is(target error) bool { return target == ErrInvalidSeat }

// SeatUnavailableError lists requested seats already held by another booking
type SeatUnavailableError struct {
	Seats []string
}

func (e *SeatUnavailableError) Error() string {
	return fmt.Sprintf("seat unavailable: %s", strings.Join(e.Seats, ", "))
}

func (e *SeatUnavailableError) Is(target error) bool { return target == ErrSeatUnavailable }

// InsufficientInventoryError reports a quota that cannot cover the request
type InsufficientInventoryError struct {
	TicketTypeID string
	Requested    int
	Remaining    int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for ticket type %s: requested %d, remaining %d",
		e.TicketTypeID, e.Requested, e.Remaining)
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// StatusTransitionError is an illegal move in one of the status machines
type StatusTransitionError struct {
	Machine string
	From    string
	To      string
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition: %s -> %s", e.Machine, e.From, e.To)
}

func (e *StatusTransitionError) Is(target error) bool { return target == ErrInvalidStatusTransition }

// ErrorCategory groups errors by how callers should react to them
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryPrecondition
	CategoryContention
	CategoryCollaborator
	CategoryInvariant
	CategoryNotFound
	CategoryConflict
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryPrecondition:
		return "precondition"
	case CategoryContention:
		return "contention"
	case CategoryCollaborator:
		return "collaborator"
	case CategoryInvariant:
		return "invariant"
	case CategoryNotFound:
		return "not_found"
	case CategoryConflict:
		return "conflict"
	}
	return "unknown"
}

// CategoryOf classifies err. Invariant violations win over everything else.
func CategoryOf(err error) ErrorCategory {
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.Is(err, ErrInvariantViolation):
		return CategoryInvariant
	case errors.Is(err, ErrNotBookable), errors.Is(err, ErrInvalidSeat), errors.Is(err, ErrValidation):
		return CategoryPrecondition
	case errors.Is(err, ErrInsufficientInventory), errors.Is(err, ErrSeatUnavailable), errors.Is(err, ErrContention):
		return CategoryContention
	case errors.Is(err, ErrRefundFailed), errors.Is(err, ErrPaymentFailed):
		return CategoryCollaborator
	case errors.Is(err, ErrBookingNotFound), errors.Is(err, ErrEventNotFound),
		errors.Is(err, ErrShowtimeNotFound), errors.Is(err, ErrTicketTypeNotFound),
		errors.Is(err, ErrDiscountNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrNotRefundable), errors.Is(err, ErrAlreadyTerminal),
		errors.Is(err, ErrInvalidStatusTransition):
		return CategoryConflict
	}
	return CategoryUnknown
}

// IsPrecondition reports a request that will fail the same way on every retry
func IsPrecondition(err error) bool { return CategoryOf(err) == CategoryPrecondition }

// IsContention reports a lost race or a store-level abort
func IsContention(err error) bool { return CategoryOf(err) == CategoryContention }

// IsNotFound reports a missing entity
func IsNotFound(err error) bool { return CategoryOf(err) == CategoryNotFound }
