package appointment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/practitioner-scheduling/internal/calendar"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrPractitionerNotFound = calendar.ErrPractitionerNotFound
	ErrSlotUnavailable      = errors.New("slot is no longer available")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrStorageFailure       = errors.New("storage failure")
	ErrPractitionerBusy     = errors.New("practitioner is currently being booked, please retry")
)

// ValidationError is a user-correctable problem with a request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidRequest }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports the interval that made a slot unavailable.
type ConflictError struct {
	Start time.Time
	End   time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot is no longer available: conflicts with %s-%s",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (e *ConflictError) Is(target error) bool { return target == ErrSlotUnavailable }

func conflictWith(a *Appointment) error {
	return &ConflictError{Start: a.ScheduledStart, End: a.OccupiedUntil}
}

type TransitionError struct {
	From   AppointmentStatus
	To     AppointmentStatus
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("invalid status transition %s -> %s: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// StorageError wraps a ledger failure. Retryable marks connectivity-class
// failures that are safe to try again.
type StorageError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageFailure }

func storageErr(op string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err, Retryable: isTransient(err)}
}

// isTransient separates connectivity-class failures from logical ones.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08": // connection exception
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isLogical reports domain outcomes that must never be retried.
func isLogical(err error) bool {
	return errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrPractitionerNotFound) ||
		errors.Is(err, ErrAppointmentNotFound)
}
