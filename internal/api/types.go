package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practitioner-scheduling/internal/appointment"
	"github.com/hackgods/practitioner-scheduling/internal/calendar"
)

type CreateBookingRequest struct {
	PractitionerID  string    `json:"practitionerId"`
	RequesterID     string    `json:"requesterId"`
	StartInstant    time.Time `json:"startInstant"`
	DurationMinutes int       `json:"durationMinutes"`
	AppointmentType string    `json:"appointmentType"`
	Reason          string    `json:"reason"`
	Notes           string    `json:"notes"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

type RescheduleBookingRequest struct {
	StartInstant    time.Time `json:"startInstant"`
	DurationMinutes int       `json:"durationMinutes,omitempty"`
	AppointmentType string    `json:"appointmentType,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

type SlotResponse struct {
	StartInstant    time.Time `json:"startInstant"`
	DurationMinutes int       `json:"durationMinutes"`
	Available       bool      `json:"available"`
}

type AvailabilityResponse struct {
	PractitionerID  uuid.UUID      `json:"practitionerId"`
	Date            calendar.Date  `json:"date"`
	DurationMinutes int            `json:"durationMinutes"`
	Available       []SlotResponse `json:"available"`
}

type AppointmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	AppointmentNumber string     `json:"appointmentNumber"`
	PractitionerID    uuid.UUID  `json:"practitionerId"`
	RequesterID       uuid.UUID  `json:"requesterId"`
	ScheduledStart    time.Time  `json:"scheduledStart"`
	DurationMinutes   int        `json:"durationMinutes"`
	AppointmentType   string     `json:"appointmentType"`
	Reason            string     `json:"reason"`
	Notes             string     `json:"notes"`
	Status            string     `json:"status"`
	CancelReason      *string    `json:"cancelReason,omitempty"`
	PredecessorID     *uuid.UUID `json:"predecessorId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastModifiedAt    time.Time  `json:"lastModifiedAt"`
}

type BookingResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
}

type RescheduleResponse struct {
	Original    AppointmentResponse `json:"original"`
	Appointment AppointmentResponse `json:"appointment"`
}

type BookingListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type IntervalResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ErrorResponse struct {
	Error    string            `json:"error"`
	Details  string            `json:"details,omitempty"`
	Conflict *IntervalResponse `json:"conflict,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		AppointmentNumber: a.AppointmentNumber,
		PractitionerID:    a.PractitionerID,
		RequesterID:       a.RequesterID,
		ScheduledStart:    a.ScheduledStart,
		DurationMinutes:   a.DurationMinutes,
		AppointmentType:   a.AppointmentType,
		Reason:            a.Reason,
		Notes:             a.Notes,
		Status:            string(a.Status),
		CancelReason:      a.CancelReason,
		PredecessorID:     a.PredecessorID,
		CreatedAt:         a.CreatedAt,
		LastModifiedAt:    a.UpdatedAt,
	}
}

func toAppointmentList(appts []appointment.Appointment) BookingListResponse {
	resp := BookingListResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
