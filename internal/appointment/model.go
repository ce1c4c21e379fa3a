package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

// Active statuses occupy the practitioner's calendar.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func (s AppointmentStatus) Terminal() bool {
	return !s.Active()
}

func ParseStatus(s string) (AppointmentStatus, error) {
	switch st := AppointmentStatus(s); st {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusRescheduled:
		return st, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

type Appointment struct {
	ID                uuid.UUID
	AppointmentNumber string
	PractitionerID    uuid.UUID
	RequesterID       uuid.UUID
	ScheduledStart    time.Time
	DurationMinutes   int
	// OccupiedUntil is the scheduled end plus the buffer in force at commit.
	OccupiedUntil   time.Time
	AppointmentType string
	Reason          string
	Notes           string
	Status          AppointmentStatus
	CancelReason    *string
	PredecessorID   *uuid.UUID
	IdempotencyKey  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Appointment) End() time.Time {
	return a.ScheduledStart.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Conflicts reports whether a candidate occupying [start, occupiedUntil)
// collides with this appointment's occupied interval.
func (a *Appointment) Conflicts(start, occupiedUntil time.Time) bool {
	return a.Status.Active() && start.Before(a.OccupiedUntil) && a.ScheduledStart.Before(occupiedUntil)
}

func (a *Appointment) signature() Signature {
	return Signature{
		PractitionerID:  a.PractitionerID,
		RequesterID:     a.RequesterID,
		Start:           a.ScheduledStart,
		DurationMinutes: a.DurationMinutes,
	}
}

// Details is the free-form part of a booking request.
type Details struct {
	AppointmentType string
	Reason          string
	Notes           string
}

type ReserveRequest struct {
	PractitionerID  uuid.UUID
	RequesterID     uuid.UUID
	Start           time.Time
	DurationMinutes int
	Details         Details
	// IdempotencyKey is optional; a replay with the same key returns the
	// appointment committed by the first request.
	IdempotencyKey string
}

func (r ReserveRequest) signature() Signature {
	return Signature{
		PractitionerID:  r.PractitionerID,
		RequesterID:     r.RequesterID,
		Start:           r.Start,
		DurationMinutes: r.DurationMinutes,
	}
}

// Signature identifies an active booking made by a request, used to detect
// whether an ambiguous write landed.
type Signature struct {
	PractitionerID  uuid.UUID
	RequesterID     uuid.UUID
	Start           time.Time
	DurationMinutes int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Overlap is a pair of active appointments violating the ledger invariant.
type Overlap struct {
	First  Appointment
	Second Appointment
}

func FormatAppointmentNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("APT-%s-%06d", day.UTC().Format("20060102"), seq)
}
