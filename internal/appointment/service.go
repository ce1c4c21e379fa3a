package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-scheduling/internal/calendar"
	"github.com/hackgods/practitioner-scheduling/internal/config"
	"github.com/hackgods/practitioner-scheduling/internal/lock"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventLedgerOverlap          = "LEDGER_OVERLAP_DETECTED"
)

// maxNumberAttempts bounds redraws after an appointment number collision.
const maxNumberAttempts = 3

type Service struct {
	ledger    Ledger
	templates calendar.Store
	locker    lock.Locker
	cfg       config.Config
	logger    *zap.Logger
	now       func() time.Time
	retryBase time.Duration
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRetryBackoff sets the base delay between retries of transient ledger failures.
func WithRetryBackoff(base time.Duration) Option {
	return func(s *Service) { s.retryBase = base }
}

func NewService(ledger Ledger, templates calendar.Store, locker lock.Locker, cfg config.Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		ledger:    ledger,
		templates: templates,
		locker:    locker,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		retryBase: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve commits a new appointment for the requested interval. The overlap
// check and the write run under the practitioner's lock, against the ledger
// rather than any earlier availability answer.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	req.Start = req.Start.UTC()
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if err := validateReserve(req); err != nil {
		return nil, err
	}

	tmpl, err := s.template(ctx, req.PractitionerID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCandidate(tmpl, req.Start, req.DurationMinutes); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.replay(ctx, req)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	var created *Appointment
	err = s.locker.WithPractitionerLock(ctx, req.PractitionerID, func(lockCtx context.Context) error {
		commitCtx, cancel := s.detach(lockCtx)
		defer cancel()

		appt, err := s.commit(commitCtx, req, uuid.Nil, func(ctx context.Context, a *Appointment) (*Appointment, error) {
			return s.ledger.InsertAppointment(ctx, a)
		})
		created = appt
		return err
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// Lost a race with a replay of the same key.
		existing, rerr := s.replay(ctx, req)
		if rerr != nil {
			return nil, rerr
		}
		if existing == nil {
			return nil, storageErr("reserve", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, s.lockErr("reserve", err)
	}

	s.logger.Info("appointment reserved",
		zap.String("appointment_id", created.ID.String()),
		zap.String("appointment_number", created.AppointmentNumber),
		zap.String("practitioner_id", created.PractitionerID.String()),
		zap.Time("start", created.ScheduledStart),
		zap.Int("duration_minutes", created.DurationMinutes),
	)
	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"practitioner_id":    created.PractitionerID.String(),
		"requester_id":       created.RequesterID.String(),
		"start":              created.ScheduledStart,
		"duration_minutes":   created.DurationMinutes,
		"appointment_number": created.AppointmentNumber,
	})

	return created, nil
}

// detach keeps a locked write alive if the caller goes away, bounded by the
// lock lifetime.
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if s.cfg.LockTTL > 0 {
		return context.WithTimeout(detached, s.cfg.LockTTL)
	}
	return detached, func() {}
}

// commit runs the overlap check and write for req. It must be called with
// the practitioner's lock held. replacing is skipped by the overlap check
// (the original of a reschedule). Transient write failures are retried once,
// after checking whether the failed write landed anyway.
func (s *Service) commit(ctx context.Context, req ReserveRequest, replacing uuid.UUID, write func(context.Context, *Appointment) (*Appointment, error)) (*Appointment, error) {
	occupiedUntil := req.Start.Add(time.Duration(req.DurationMinutes)*time.Minute + s.cfg.BookingBuffer)

	var created *Appointment
	attempt := 0

	backoff := retry.WithMaxRetries(1, retry.NewExponential(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			landed, err := s.landed(ctx, req, replacing)
			if err != nil {
				return err
			}
			if landed != nil {
				created = landed
				return nil
			}
		}

		active, err := s.ledger.ListActiveInRange(ctx, req.PractitionerID, req.Start, occupiedUntil)
		if err != nil {
			return retryable(storageErr("overlap check", err))
		}
		for i := range active {
			if active[i].ID == replacing {
				continue
			}
			if active[i].Conflicts(req.Start, occupiedUntil) {
				return conflictWith(&active[i])
			}
		}

		for range maxNumberAttempts {
			a := s.newAppointment(req)
			a.AppointmentNumber, err = s.ledger.NextAppointmentNumber(ctx, s.now())
			if err != nil {
				break
			}
			created, err = write(ctx, a)
			if !errors.Is(err, ErrDuplicateNumber) {
				break
			}
		}
		switch {
		case err == nil:
			return nil
		case isLogical(err), errors.Is(err, ErrDuplicateIdempotencyKey):
			return err
		default:
			return retryable(storageErr("commit", err))
		}
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// landed looks for the appointment a failed write may have committed
// before its acknowledgement was lost.
func (s *Service) landed(ctx context.Context, req ReserveRequest, replacing uuid.UUID) (*Appointment, error) {
	existing, err := s.ledger.FindBySignature(ctx, req.signature())
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("recheck", err)
	}
	if replacing != uuid.Nil && (existing.PredecessorID == nil || *existing.PredecessorID != replacing) {
		return nil, nil
	}
	s.logger.Warn("ambiguous write had committed", zap.String("appointment_id", existing.ID.String()))
	return existing, nil
}

func retryable(err error) error {
	var se *StorageError
	if errors.As(err, &se) && se.Retryable {
		return retry.RetryableError(err)
	}
	return err
}

func (s *Service) newAppointment(req ReserveRequest) *Appointment {
	a := &Appointment{
		ID:              uuid.New(),
		PractitionerID:  req.PractitionerID,
		RequesterID:     req.RequesterID,
		ScheduledStart:  req.Start,
		DurationMinutes: req.DurationMinutes,
		OccupiedUntil:   req.Start.Add(time.Duration(req.DurationMinutes)*time.Minute + s.cfg.BookingBuffer),
		AppointmentType: req.Details.AppointmentType,
		Reason:          req.Details.Reason,
		Notes:           req.Details.Notes,
		Status:          StatusScheduled,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		a.IdempotencyKey = &key
	}
	return a
}

func validateReserve(req ReserveRequest) error {
	switch {
	case req.PractitionerID == uuid.Nil:
		return invalid("practitionerId", "is required")
	case req.RequesterID == uuid.Nil:
		return invalid("requesterId", "is required")
	case req.Start.IsZero():
		return invalid("startInstant", "is required")
	case req.DurationMinutes <= 0:
		return invalid("durationMinutes", "must be positive")
	case strings.TrimSpace(req.Details.Reason) == "":
		return invalid("reason", "must not be empty")
	}
	return nil
}

// checkCandidate applies the lead time, duration and calendar rules to a
// requested interval.
func (s *Service) checkCandidate(tmpl *calendar.Template, start time.Time, duration int) error {
	if earliest := s.now().Add(s.cfg.MinLeadTime); !start.After(earliest) {
		return invalid("startInstant", "must be after %s", earliest.UTC().Format(time.RFC3339))
	}
	if !tmpl.SupportsDuration(duration) {
		return invalid("durationMinutes", "%d is not offered, supported: %v", duration, tmpl.SupportedDurations())
	}
	ok, err := tmpl.Covers(start, duration)
	if err != nil {
		return invalid("template", "%v", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a slot on the practitioner's calendar",
			ErrSlotUnavailable, start.Format(time.RFC3339))
	}
	return nil
}

// replay returns the appointment already committed under req's idempotency
// key, or nil when the key is unused.
func (s *Service) replay(ctx context.Context, req ReserveRequest) (*Appointment, error) {
	var existing *Appointment
	err := s.read(ctx, "idempotency lookup", func(ctx context.Context) error {
		var err error
		existing, err = s.ledger.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		return err
	})
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.signature() != req.signature() {
		return nil, invalid("Idempotency-Key", "already used for a different booking")
	}
	return existing, nil
}

// lockErr maps failures from a locked section to the error taxonomy.
func (s *Service) lockErr(op string, err error) error {
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		return ErrPractitionerBusy
	case isLogical(err), errors.Is(err, ErrStorageFailure):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return storageErr(op, err)
}

// read runs a ledger read, retrying connectivity failures with backoff.
func (s *Service) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(2, retry.NewExponential(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil || isLogical(err) || ctx.Err() != nil {
		return err
	}
	return storageErr(op, err)
}

func (s *Service) template(ctx context.Context, practitionerID uuid.UUID) (*calendar.Template, error) {
	var tmpl *calendar.Template
	err := s.read(ctx, "load template", func(ctx context.Context) error {
		var err error
		tmpl, err = s.templates.Get(ctx, practitionerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

// Template returns the practitioner's calendar template.
func (s *Service) Template(ctx context.Context, practitionerID uuid.UUID) (*calendar.Template, error) {
	return s.template(ctx, practitionerID)
}

// UpdateTemplate replaces the practitioner's calendar template. Existing
// appointments are not touched.
func (s *Service) UpdateTemplate(ctx context.Context, tmpl *calendar.Template) error {
	w, ok := s.templates.(calendar.Writer)
	if !ok {
		return errors.New("calendar store is read-only")
	}
	if err := tmpl.Validate(); err != nil {
		return &ValidationError{Field: "template", Reason: err.Error()}
	}
	if err := w.Put(ctx, tmpl); err != nil {
		if errors.Is(err, calendar.ErrPractitionerNotFound) || errors.Is(err, calendar.ErrInvalidTemplate) {
			return err
		}
		return storageErr("update template", err)
	}
	s.logger.Info("calendar template updated", zap.String("practitioner_id", tmpl.PractitionerID.String()))
	return nil
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var appt *Appointment
	err := s.read(ctx, "get appointment", func(ctx context.Context) error {
		var err error
		appt, err = s.ledger.GetAppointmentByID(ctx, id)
		return err
	})
	return appt, err
}

// ListAppointmentsByRequester retrieves appointments for a specific requester
func (s *Service) ListAppointmentsByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	var appts []Appointment
	err := s.read(ctx, "list by requester", func(ctx context.Context) error {
		var err error
		appts, err = s.ledger.ListByRequester(ctx, requesterID, limit, offset)
		return err
	})
	return appts, err
}

// ListAppointmentsByPractitioner retrieves a practitioner's appointments
// starting in [from, to), in any status.
func (s *Service) ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if !from.Before(to) {
		return nil, invalid("range", "from must be before to")
	}
	if to.Sub(from) > 31*24*time.Hour {
		return nil, invalid("range", "must not exceed 31 days")
	}

	var appts []Appointment
	err := s.read(ctx, "list by practitioner", func(ctx context.Context) error {
		var err error
		appts, err = s.ledger.ListByPractitioner(ctx, practitionerID, from, to)
		return err
	})
	return appts, err
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	var apptID *uuid.UUID
	if appointmentID != uuid.Nil {
		apptID = &appointmentID
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.ledger.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}
