package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidTemplate = errors.New("invalid calendar template")

const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock offset in minutes from midnight. 24:00 is a valid end.
type TimeOfDay int

// ParseTimeOfDay accepts exactly HH:MM, plus 24:00 as an end of day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "24:00" {
		return minutesPerDay, nil
	}
	if len(s) != len("15:04") || s[2] != ':' {
		return 0, fmt.Errorf("parse time of day %q: want HH:MM", s)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// WorkingHours is one recurring [Start, End) window on a weekday.
type WorkingHours struct {
	Weekday time.Weekday `json:"weekday"`
	Start   TimeOfDay    `json:"start"`
	End     TimeOfDay    `json:"end"`
}

// Blackout removes every slot intersecting [Start, End).
type Blackout struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason,omitempty"`
}

// Template is a practitioner's recurring weekly availability.
type Template struct {
	PractitionerID uuid.UUID      `json:"practitionerId"`
	Timezone       string         `json:"timezone"`
	SlotMinutes    int            `json:"slotMinutes"`
	Durations      []int          `json:"durations,omitempty"`
	Hours          []WorkingHours `json:"hours"`
	BlackoutDates  []Date         `json:"blackoutDates,omitempty"`
	Blackouts      []Blackout     `json:"blackouts,omitempty"`
}

// Location resolves the template time zone, defaulting to UTC.
func (t *Template) Location() (*time.Location, error) {
	if t.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidTemplate, t.Timezone, err)
	}
	return loc, nil
}

// SupportedDurations lists the bookable durations in minutes.
func (t *Template) SupportedDurations() []int {
	if len(t.Durations) == 0 {
		return []int{t.SlotMinutes}
	}
	return t.Durations
}

func (t *Template) SupportsDuration(minutes int) bool {
	return slices.Contains(t.SupportedDurations(), minutes)
}

// Validate checks the structural invariants of the template.
func (t *Template) Validate() error {
	if t.SlotMinutes <= 0 || t.SlotMinutes > minutesPerDay {
		return fmt.Errorf("%w: slot minutes must be in (0, %d], got %d", ErrInvalidTemplate, minutesPerDay, t.SlotMinutes)
	}
	if _, err := t.Location(); err != nil {
		return err
	}

	for _, d := range t.Durations {
		if d <= 0 || d%t.SlotMinutes != 0 {
			return fmt.Errorf("%w: duration %d is not a positive multiple of %d", ErrInvalidTemplate, d, t.SlotMinutes)
		}
	}

	byDay := make(map[time.Weekday][]WorkingHours)
	for _, wh := range t.Hours {
		if wh.Weekday < time.Sunday || wh.Weekday > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidTemplate, wh.Weekday)
		}
		if wh.Start < 0 || wh.End > minutesPerDay || wh.Start >= wh.End {
			return fmt.Errorf("%w: %s hours %s-%s are not a valid interval", ErrInvalidTemplate, wh.Weekday, wh.Start, wh.End)
		}
		byDay[wh.Weekday] = append(byDay[wh.Weekday], wh)
	}
	for day, hours := range byDay {
		sortHours(hours)
		for i := 1; i < len(hours); i++ {
			if hours[i].Start < hours[i-1].End {
				return fmt.Errorf("%w: %s hours %s-%s overlap %s-%s", ErrInvalidTemplate, day,
					hours[i-1].Start, hours[i-1].End, hours[i].Start, hours[i].End)
			}
		}
	}

	for _, d := range t.BlackoutDates {
		if d.IsZero() {
			return fmt.Errorf("%w: empty blackout date", ErrInvalidTemplate)
		}
	}
	for _, b := range t.Blackouts {
		if !b.End.After(b.Start) {
			return fmt.Errorf("%w: blackout %s ends before it starts", ErrInvalidTemplate, b.Start.Format(time.RFC3339))
		}
	}
	return nil
}

func (t *Template) hoursFor(day time.Weekday) []WorkingHours {
	var out []WorkingHours
	for _, wh := range t.Hours {
		if wh.Weekday == day {
			out = append(out, wh)
		}
	}
	sortHours(out)
	return out
}

func (t *Template) isBlackoutDate(d Date) bool {
	for _, b := range t.BlackoutDates {
		if b == d {
			return true
		}
	}
	return false
}

func (t *Template) blackedOut(start, end time.Time) bool {
	for _, b := range t.Blackouts {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

func sortHours(hours []WorkingHours) {
	slices.SortFunc(hours, func(a, b WorkingHours) int {
		return int(a.Start) - int(b.Start)
	})
}
