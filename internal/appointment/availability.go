package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practitioner-scheduling/internal/calendar"
)

// SlotAvailability is a generated slot and whether it can currently be booked.
type SlotAvailability struct {
	calendar.Slot
	Available bool
}

type AvailabilityQuery struct {
	PractitionerID uuid.UUID
	Date           calendar.Date
	// DurationMinutes is the span to offer. Zero means the template's slot unit.
	DurationMinutes int
}

// Availability returns the slots of the practitioner's calendar on the given
// date that are open now. The answer is advisory; Reserve re-checks the
// ledger before committing.
func (s *Service) Availability(ctx context.Context, q AvailabilityQuery) ([]calendar.Slot, error) {
	board, err := s.SlotBoard(ctx, q)
	if err != nil {
		return nil, err
	}
	open := make([]calendar.Slot, 0, len(board))
	for _, sa := range board {
		if sa.Available {
			open = append(open, sa.Slot)
		}
	}
	return open, nil
}

// SlotBoard returns every generated slot of the day, each flagged with
// whether it is open.
func (s *Service) SlotBoard(ctx context.Context, q AvailabilityQuery) ([]SlotAvailability, error) {
	if q.PractitionerID == uuid.Nil {
		return nil, invalid("practitionerId", "is required")
	}
	if q.Date.IsZero() {
		return nil, invalid("date", "is required")
	}

	tmpl, err := s.template(ctx, q.PractitionerID)
	if err != nil {
		return nil, err
	}
	loc, err := tmpl.Location()
	if err != nil {
		return nil, invalid("template", "%v", err)
	}

	duration := q.DurationMinutes
	if duration == 0 {
		duration = tmpl.SlotMinutes
	}
	if !tmpl.SupportsDuration(duration) {
		return nil, invalid("duration", "%d is not offered, supported: %v", duration, tmpl.SupportedDurations())
	}

	now := s.now()
	slots, err := tmpl.Slots(q.Date, calendar.GenerateOptions{
		Today:     calendar.DateOf(now.In(loc)),
		AllowPast: s.cfg.AllowPastDates,
		Duration:  duration,
	})
	if errors.Is(err, calendar.ErrDateInPast) {
		return nil, invalid("date", "%v", err)
	}
	if err != nil {
		return nil, invalid("template", "%v", err)
	}

	// Appointments from the previous evening can spill into the day through
	// their buffer, and the last slot of the day can run past midnight.
	from := q.Date.Midnight(loc)
	to := q.Date.AddDays(1).Midnight(loc).Add(time.Duration(duration)*time.Minute + s.cfg.BookingBuffer)

	var booked []Appointment
	err = s.read(ctx, "availability", func(ctx context.Context) error {
		var err error
		booked, err = s.ledger.ListActiveInRange(ctx, q.PractitionerID, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}

	earliest := now.Add(s.cfg.MinLeadTime)
	var board []SlotAvailability
	for slot := range slots {
		occupiedUntil := slot.End().Add(s.cfg.BookingBuffer)
		open := slot.Start.After(earliest)
		for i := 0; open && i < len(booked); i++ {
			if booked[i].Conflicts(slot.Start, occupiedUntil) {
				open = false
			}
		}
		board = append(board, SlotAvailability{Slot: slot, Available: open})
	}
	return board, nil
}
