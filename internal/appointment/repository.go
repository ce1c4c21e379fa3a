package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrDuplicateNumber is returned when a generated appointment number
	// collides; the caller draws a new one.
	ErrDuplicateNumber = errors.New("appointment number already in use")
	// ErrDuplicateIdempotencyKey is returned when another booking already
	// holds the idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already in use")
)

// Ledger is the durable store of appointments. Writes that would leave two
// active appointments of one practitioner overlapping fail with a
// *ConflictError regardless of caller discipline.
type Ledger interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListActiveInRange returns active appointments whose occupied interval
	// intersects [from, to), ordered by start.
	ListActiveInRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// Re-check after ambiguous writes and replays
	FindBySignature(ctx context.Context, sig Signature) (*Appointment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Appointment, error)

	// Read views
	ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Creation and updates
	NextAppointmentNumber(ctx context.Context, at time.Time) (string, error)
	InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	// UpdateAppointmentStatus moves id from `from` to `to`. It returns
	// ErrAppointmentNotFound when no row in status `from` matched.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, cancelReason *string) (*Appointment, error)
	// ReplaceAppointment marks the original rescheduled and inserts its
	// replacement in one atomic step.
	ReplaceAppointment(ctx context.Context, originalID uuid.UUID, from AppointmentStatus, replacement *Appointment) (*Appointment, *Appointment, error)

	// Ledger audit
	FindOverlaps(ctx context.Context) ([]Overlap, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
