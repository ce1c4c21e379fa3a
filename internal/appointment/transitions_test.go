package appointment

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCheckTransition(t *testing.T) {
	start := at("10:00")
	before := at("09:00")
	during := at("10:10")

	tests := []struct {
		name  string
		from  AppointmentStatus
		to    AppointmentStatus
		now   time.Time
		grace time.Duration
		ok    bool
	}{
		{"confirm scheduled before start", StatusScheduled, StatusConfirmed, before, 0, true},
		{"confirm after start", StatusScheduled, StatusConfirmed, during, 0, false},
		{"confirm confirmed", StatusConfirmed, StatusConfirmed, before, 0, false},
		{"cancel scheduled", StatusScheduled, StatusCancelled, before, 0, true},
		{"cancel confirmed", StatusConfirmed, StatusCancelled, before, 0, true},
		{"cancel at start without grace", StatusConfirmed, StatusCancelled, start, 0, false},
		{"cancel within grace", StatusConfirmed, StatusCancelled, during, 15 * time.Minute, true},
		{"cancel completed", StatusCompleted, StatusCancelled, before, 0, false},
		{"cancel cancelled", StatusCancelled, StatusCancelled, before, 0, false},
		{"complete at start", StatusScheduled, StatusCompleted, start, 0, true},
		{"complete confirmed later", StatusConfirmed, StatusCompleted, during, 0, true},
		{"complete before start", StatusConfirmed, StatusCompleted, before, 0, false},
		{"complete rescheduled", StatusRescheduled, StatusCompleted, during, 0, false},
		{"reschedule scheduled", StatusScheduled, StatusRescheduled, before, 0, true},
		{"reschedule after start", StatusConfirmed, StatusRescheduled, during, 0, false},
		{"back to scheduled", StatusConfirmed, StatusScheduled, before, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Appointment{Status: tt.from, ScheduledStart: start, DurationMinutes: 30}
			err := CheckTransition(a, tt.to, tt.now, tt.grace)
			if tt.ok && err != nil {
				t.Fatalf("expected transition to be allowed, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestTransitions_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.reserve(t, "10:00", 30)

	confirmed, err := f.svc.Confirm(ctx, appt.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}

	if _, err := f.svc.Complete(ctx, appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected completion before start to fail, got %v", err)
	}

	f.clock.Set(at("10:30"))
	completed, err := f.svc.Complete(ctx, appt.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}

	if _, err := f.svc.Cancel(ctx, appt.ID, "changed my mind"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected cancelling a completed appointment to fail, got %v", err)
	}
	got, err := f.svc.GetAppointment(ctx, appt.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("failed transition changed status to %s", got.Status)
	}
}

func TestCancel_RecordsReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.reserve(t, "10:00", 30)

	if _, err := f.svc.Cancel(ctx, appt.ID, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected empty reason to be rejected, got %v", err)
	}

	cancelled, err := f.svc.Cancel(ctx, appt.ID, "clinic closed")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "clinic closed" {
		t.Fatalf("expected cancel reason to be stored, got %v", cancelled.CancelReason)
	}

	if _, err := f.svc.Cancel(ctx, uuid.New(), "nope"); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestReschedule_MovesBooking(t *testing.T) {
	f := newFixture(t, withBuffer(15*time.Minute))
	ctx := context.Background()
	original := f.reserve(t, "10:00", 30)

	replaced, created, err := f.svc.Reschedule(ctx, RescheduleRequest{
		AppointmentID: original.ID,
		Start:         at("11:00"),
		Details:       Details{Notes: "moved by phone"},
	})
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if replaced.Status != StatusRescheduled {
		t.Fatalf("expected original to be rescheduled, got %s", replaced.Status)
	}
	if created.Status != StatusScheduled || created.PredecessorID == nil || *created.PredecessorID != original.ID {
		t.Fatalf("unexpected successor %+v", created)
	}
	if created.Reason != original.Reason || created.Notes != "moved by phone" {
		t.Fatalf("details not carried over: %+v", created)
	}
	if created.AppointmentNumber == original.AppointmentNumber {
		t.Fatal("successor must get a fresh number")
	}

	want := []string{"09:00", "09:30", "10:00"}
	if got := f.openStarts(t); !slices.Equal(got, want) {
		t.Fatalf("expected %v open after reschedule, got %v", want, got)
	}
}

func TestReschedule_OntoOwnInterval(t *testing.T) {
	f := newFixture(t)
	original := f.reserve(t, "10:00", 60)

	_, created, err := f.svc.Reschedule(context.Background(), RescheduleRequest{
		AppointmentID: original.ID,
		Start:         at("10:30"),
	})
	if err != nil {
		t.Fatalf("shifting over the original's own interval must succeed: %v", err)
	}
	if created.DurationMinutes != 60 {
		t.Fatalf("expected duration to be kept, got %d", created.DurationMinutes)
	}
}

func TestReschedule_ConflictLeavesOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := f.reserve(t, "10:00", 30)
	f.reserve(t, "11:00", 30)

	_, _, err := f.svc.Reschedule(ctx, RescheduleRequest{AppointmentID: original.ID, Start: at("11:00")})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	got, err := f.svc.GetAppointment(ctx, original.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if got.Status != StatusScheduled {
		t.Fatalf("original must be untouched, got %s", got.Status)
	}
	if n := len(f.ledger.All()); n != 2 {
		t.Fatalf("expected no new appointment, got %d total", n)
	}
}

func TestReschedule_StorageFailureIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := f.reserve(t, "10:00", 30)

	f.ledger.InjectFault("replace", errors.New("serialization failure"), false)
	_, _, err := f.svc.Reschedule(ctx, RescheduleRequest{AppointmentID: original.ID, Start: at("11:00")})
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}

	got, _ := f.svc.GetAppointment(ctx, original.ID)
	if got.Status != StatusScheduled {
		t.Fatalf("original must be untouched, got %s", got.Status)
	}
	if n := len(f.ledger.All()); n != 1 {
		t.Fatalf("expected no successor, got %d appointments", n)
	}
}

func TestReschedule_TerminalOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := f.reserve(t, "10:00", 30)
	if _, err := f.svc.Cancel(ctx, original.ID, "no longer needed"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	_, _, err := f.svc.Reschedule(ctx, RescheduleRequest{AppointmentID: original.ID, Start: at("11:00")})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
