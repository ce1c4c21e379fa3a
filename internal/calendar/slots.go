package calendar

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
)

var ErrDateInPast = errors.New("date is in the past")

// Slot is a candidate bookable interval derived from a template.
type Slot struct {
	PractitionerID  uuid.UUID
	Start           time.Time
	DurationMinutes int
}

func (s Slot) End() time.Time {
	return s.Start.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// GenerateOptions tunes slot generation. The zero value generates slot-unit
// candidates and performs no past-date check.
type GenerateOptions struct {
	// Today is the caller's current civil day in the template zone.
	// Dates before it are rejected unless AllowPast is set.
	Today     Date
	AllowPast bool
	// Duration is the span of each candidate in minutes. Zero means the slot unit.
	Duration int
}

// Slots returns the ordered candidate slots of the template on day. The
// sequence is lazy, finite and can be ranged over any number of times.
func (t *Template) Slots(day Date, opts GenerateOptions) (iter.Seq[Slot], error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !opts.AllowPast && !opts.Today.IsZero() && day.Before(opts.Today) {
		return nil, fmt.Errorf("%w: %s before %s", ErrDateInPast, day, opts.Today)
	}

	duration := opts.Duration
	if duration == 0 {
		duration = t.SlotMinutes
	}
	if duration < 0 || duration%t.SlotMinutes != 0 {
		return nil, fmt.Errorf("%w: duration %d is not a multiple of %d", ErrInvalidTemplate, duration, t.SlotMinutes)
	}

	loc, err := t.Location()
	if err != nil {
		return nil, err
	}

	if t.isBlackoutDate(day) {
		return func(func(Slot) bool) {}, nil
	}

	hours := t.hoursFor(day.Weekday())
	step := TimeOfDay(t.SlotMinutes)
	span := TimeOfDay(duration)

	return func(yield func(Slot) bool) {
		var last time.Time
		for _, wh := range hours {
			for m := wh.Start; m+span <= wh.End; m += step {
				// Starts inside a spring-forward gap do not exist, and a
				// fall-back repeat must not step backwards.
				if !day.Exists(m, loc) {
					continue
				}
				s := Slot{
					PractitionerID:  t.PractitionerID,
					Start:           day.At(m, loc),
					DurationMinutes: duration,
				}
				if !last.IsZero() && !s.Start.After(last) {
					continue
				}
				if t.blackedOut(s.Start, s.End()) {
					continue
				}
				last = s.Start
				if !yield(s) {
					return
				}
			}
		}
	}, nil
}

// Covers reports whether [start, start+duration) is one of the template's
// generated candidates on start's day.
func (t *Template) Covers(start time.Time, duration int) (bool, error) {
	loc, err := t.Location()
	if err != nil {
		return false, err
	}
	seq, err := t.Slots(DateOf(start.In(loc)), GenerateOptions{AllowPast: true, Duration: duration})
	if err != nil {
		return false, err
	}
	for s := range seq {
		if s.Start.Equal(start) {
			return true, nil
		}
	}
	return false, nil
}
