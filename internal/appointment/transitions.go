package appointment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// guard decides whether a transition may happen at now.
type guard func(a *Appointment, now time.Time, cancelGrace time.Duration) string

var transitions = map[AppointmentStatus]struct {
	from  []AppointmentStatus
	guard guard
}{
	StatusConfirmed: {
		from: []AppointmentStatus{StatusScheduled},
		guard: func(a *Appointment, now time.Time, _ time.Duration) string {
			if !now.Before(a.ScheduledStart) {
				return "appointment has already started"
			}
			return ""
		},
	},
	StatusCancelled: {
		from: []AppointmentStatus{StatusScheduled, StatusConfirmed},
		guard: func(a *Appointment, now time.Time, grace time.Duration) string {
			if !now.Before(a.ScheduledStart.Add(grace)) {
				return "cancellation window has closed"
			}
			return ""
		},
	},
	StatusCompleted: {
		from: []AppointmentStatus{StatusScheduled, StatusConfirmed},
		guard: func(a *Appointment, now time.Time, _ time.Duration) string {
			if now.Before(a.ScheduledStart) {
				return "appointment has not started yet"
			}
			return ""
		},
	},
	StatusRescheduled: {
		from: []AppointmentStatus{StatusScheduled, StatusConfirmed},
		guard: func(a *Appointment, now time.Time, _ time.Duration) string {
			if !now.Before(a.ScheduledStart) {
				return "appointment has already started"
			}
			return ""
		},
	},
}

// CheckTransition reports whether a may move to status to at now.
func CheckTransition(a *Appointment, to AppointmentStatus, now time.Time, cancelGrace time.Duration) error {
	rule, ok := transitions[to]
	if !ok {
		return &TransitionError{From: a.Status, To: to, Reason: "unknown target status"}
	}
	allowed := false
	for _, from := range rule.from {
		if a.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return &TransitionError{From: a.Status, To: to}
	}
	if reason := rule.guard(a, now, cancelGrace); reason != "" {
		return &TransitionError{From: a.Status, To: to, Reason: reason}
	}
	return nil
}

// Confirm moves a scheduled appointment to confirmed
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, nil, EventAppointmentConfirmed)
}

// Cancel releases the appointment's interval and records why.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "must not be empty")
	}
	return s.transition(ctx, id, StatusCancelled, &reason, EventAppointmentCancelled)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, nil, EventAppointmentCompleted)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, cancelReason *string, eventType string) (*Appointment, error) {
	appt, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(appt, to, s.now(), s.cfg.CancelGrace); err != nil {
		return nil, err
	}

	updated, err := s.ledger.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to, cancelReason)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Someone else moved it first.
		return nil, s.staleTransition(ctx, id, to)
	}
	if err != nil {
		return nil, storageErr("update status", err)
	}

	s.logger.Info("appointment status changed",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("from", string(appt.Status)),
		zap.String("to", string(to)),
	)
	payload := map[string]any{"from": appt.Status, "to": to}
	if cancelReason != nil {
		payload["reason"] = *cancelReason
	}
	s.logEvent(ctx, updated.ID, eventType, payload)

	return updated, nil
}

func (s *Service) staleTransition(ctx context.Context, id uuid.UUID, to AppointmentStatus) error {
	current, err := s.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	if terr := CheckTransition(current, to, s.now(), s.cfg.CancelGrace); terr != nil {
		return terr
	}
	return &TransitionError{From: current.Status, To: to, Reason: "concurrent update, retry"}
}

type RescheduleRequest struct {
	AppointmentID   uuid.UUID
	Start           time.Time
	DurationMinutes int // zero keeps the original duration
	// Details overrides the original's details field by field when non-empty.
	Details Details
}

// Reschedule books the new interval and marks the original rescheduled in
// one atomic ledger write. Either both happen or neither does.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (*Appointment, *Appointment, error) {
	original, err := s.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckTransition(original, StatusRescheduled, s.now(), s.cfg.CancelGrace); err != nil {
		return nil, nil, err
	}

	next := ReserveRequest{
		PractitionerID:  original.PractitionerID,
		RequesterID:     original.RequesterID,
		Start:           req.Start.UTC(),
		DurationMinutes: req.DurationMinutes,
		Details: Details{
			AppointmentType: firstNonEmpty(req.Details.AppointmentType, original.AppointmentType),
			Reason:          firstNonEmpty(req.Details.Reason, original.Reason),
			Notes:           firstNonEmpty(req.Details.Notes, original.Notes),
		},
	}
	if next.DurationMinutes == 0 {
		next.DurationMinutes = original.DurationMinutes
	}
	if err := validateReserve(next); err != nil {
		return nil, nil, err
	}

	tmpl, err := s.template(ctx, original.PractitionerID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkCandidate(tmpl, next.Start, next.DurationMinutes); err != nil {
		return nil, nil, err
	}

	var replaced, created *Appointment
	err = s.locker.WithPractitionerLock(ctx, original.PractitionerID, func(lockCtx context.Context) error {
		commitCtx, cancel := s.detach(lockCtx)
		defer cancel()

		// Re-read under the lock; a concurrent transition may have won.
		current, err := s.ledger.GetAppointmentByID(commitCtx, original.ID)
		if err != nil {
			return err
		}
		if err := CheckTransition(current, StatusRescheduled, s.now(), s.cfg.CancelGrace); err != nil {
			return err
		}

		created, err = s.commit(commitCtx, next, current.ID, func(ctx context.Context, a *Appointment) (*Appointment, error) {
			orig, made, err := s.ledger.ReplaceAppointment(ctx, current.ID, current.Status, a)
			if err != nil {
				return nil, err
			}
			replaced = orig
			return made, nil
		})
		if errors.Is(err, ErrAppointmentNotFound) {
			return s.staleTransition(commitCtx, current.ID, StatusRescheduled)
		}
		if err != nil {
			return err
		}
		if replaced == nil {
			// An ambiguous write landed; reload the original's final state.
			replaced, err = s.ledger.GetAppointmentByID(commitCtx, current.ID)
		}
		return err
	})
	if err != nil {
		return nil, nil, s.lockErr("reschedule", err)
	}

	s.logger.Info("appointment rescheduled",
		zap.String("original_id", replaced.ID.String()),
		zap.String("appointment_id", created.ID.String()),
		zap.Time("start", created.ScheduledStart),
	)
	s.logEvent(ctx, replaced.ID, EventAppointmentRescheduled, map[string]any{
		"successor_id": created.ID.String(),
		"start":        created.ScheduledStart,
	})
	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"practitioner_id":    created.PractitionerID.String(),
		"requester_id":       created.RequesterID.String(),
		"start":              created.ScheduledStart,
		"duration_minutes":   created.DurationMinutes,
		"appointment_number": created.AppointmentNumber,
		"predecessor_id":     replaced.ID.String(),
	})

	return replaced, created, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
