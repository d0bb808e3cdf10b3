package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// PostgreSQL SQLSTATE codes the store reacts to
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// unique constraint names from schema.go
const (
	constraintBookingReference   = "bookings_reference_key"
	constraintBookingIdempotency = "bookings_idempotency_key_key"
	constraintTicketNumber       = "tickets_ticket_number_key"
)

// mapPgError translates driver errors into domain errors, keeping the original wrapped
func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return fmt.Errorf("%w: %s: %s", domain.ErrContention, op, pgErr.Message)
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case constraintBookingReference:
			return domain.ErrDuplicateReference
		case constraintBookingIdempotency:
			return domain.ErrDuplicateIdempotencyKey
		case constraintTicketNumber:
			return domain.ErrDuplicateTicketNumber
		}
	case pgCheckViolation:
		// counters are guarded by CHECK constraints as a backstop
		return fmt.Errorf("%w: %s violated %s", domain.ErrInvariantViolation, op, pgErr.ConstraintName)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
