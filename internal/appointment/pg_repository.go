package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"

	constraintNoOverlap      = "appointments_no_overlap"
	constraintIdempotencyKey = "appointments_idempotency_key_key"
)

const appointmentColumns = `
	id, appointment_number, practitioner_id, requester_id, scheduled_start,
	duration_minutes, occupied_until, appointment_type, reason, notes, status,
	cancel_reason, predecessor_id, idempotency_key, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.AppointmentNumber,
		&a.PractitionerID,
		&a.RequesterID,
		&a.ScheduledStart,
		&a.DurationMinutes,
		&a.OccupiedUntil,
		&a.AppointmentType,
		&a.Reason,
		&a.Notes,
		&status,
		&a.CancelReason,
		&a.PredecessorID,
		&a.IdempotencyKey,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	a.ScheduledStart = a.ScheduledStart.UTC()
	a.OccupiedUntil = a.OccupiedUntil.UTC()
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// mapWriteError turns constraint violations into ledger errors.
func mapWriteError(err error, a *Appointment) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgExclusionViolation:
		return &ConflictError{Start: a.ScheduledStart, End: a.OccupiedUntil}
	case pgUniqueViolation:
		if pgErr.ConstraintName == constraintIdempotencyKey {
			return ErrDuplicateIdempotencyKey
		}
		return ErrDuplicateNumber
	}
	return err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertAppointment(ctx context.Context, q querier, a *Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, appointment_number, practitioner_id, requester_id, scheduled_start,
			duration_minutes, occupied_until, appointment_type, reason, notes, status,
			predecessor_id, idempotency_key, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.AppointmentNumber, a.PractitionerID, a.RequesterID, a.ScheduledStart,
		a.DurationMinutes, a.OccupiedUntil, a.AppointmentType, a.Reason, a.Notes, string(a.Status),
		a.PredecessorID, a.IdempotencyKey,
	)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err, a)
	}
	return created, nil
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListActiveInRange(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND status IN ('scheduled', 'confirmed')
		  AND scheduled_start < $3
		  AND occupied_until > $2
		ORDER BY scheduled_start
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindBySignature(ctx context.Context, sig Signature) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND requester_id = $2
		  AND scheduled_start = $3
		  AND duration_minutes = $4
		  AND status IN ('scheduled', 'confirmed')
		LIMIT 1
	`, sig.PractitionerID, sig.RequesterID, sig.Start, sig.DurationMinutes)
	return scanAppointment(row)
}

func (r *PgRepository) FindByIdempotencyKey(ctx context.Context, key string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE idempotency_key = $1
	`, key)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND scheduled_start >= $2
		  AND scheduled_start < $3
		ORDER BY scheduled_start, created_at
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE requester_id = $1
		ORDER BY scheduled_start DESC
		LIMIT $2 OFFSET $3
	`, requesterID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) NextAppointmentNumber(ctx context.Context, at time.Time) (string, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('appointment_number_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("next appointment number: %w", err)
	}
	return FormatAppointmentNumber(at, seq), nil
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	return insertAppointment(ctx, r.pool, a)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, cancelReason *string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = COALESCE($4, cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, string(to), string(from), cancelReason)

	return scanAppointment(row)
}

func (r *PgRepository) ReplaceAppointment(ctx context.Context, originalID uuid.UUID, from AppointmentStatus, replacement *Appointment) (*Appointment, *Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin reschedule: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'rescheduled',
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns, originalID, string(from))
	original, err := scanAppointment(row)
	if err != nil {
		return nil, nil, err
	}

	replacement.PredecessorID = &original.ID
	created, err := insertAppointment(ctx, tx, replacement)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit reschedule: %w", err)
	}
	return original, created, nil
}

func (r *PgRepository) FindOverlaps(ctx context.Context) ([]Overlap, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, b.id
		FROM appointments a
		JOIN appointments b
		  ON a.practitioner_id = b.practitioner_id
		 AND a.id < b.id
		 AND a.scheduled_start < b.occupied_until
		 AND b.scheduled_start < a.occupied_until
		WHERE a.status IN ('scheduled', 'confirmed')
		  AND b.status IN ('scheduled', 'confirmed')
	`)
	if err != nil {
		return nil, err
	}

	type pair struct{ a, b uuid.UUID }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.a, &p.b); err != nil {
			rows.Close()
			return nil, err
		}
		pairs = append(pairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]Overlap, 0, len(pairs))
	for _, p := range pairs {
		first, err := r.GetAppointmentByID(ctx, p.a)
		if err != nil {
			return nil, err
		}
		second, err := r.GetAppointmentByID(ctx, p.b)
		if err != nil {
			return nil, err
		}
		result = append(result, Overlap{First: *first, Second: *second})
	}
	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
