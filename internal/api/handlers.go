package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-scheduling/internal/appointment"
	"github.com/hackgods/practitioner-scheduling/internal/calendar"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	svc    SchedulingService
	logger *zap.Logger
}

func (h *handlers) availability(w http.ResponseWriter, r *http.Request) {
	practitionerID, err := uuid.Parse(chi.URLParam(r, "practitionerId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitionerId must be a valid UUID")
		return
	}
	date, err := calendar.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	q := appointment.AvailabilityQuery{PractitionerID: practitionerID, Date: date}
	if v := r.URL.Query().Get("duration"); v != "" {
		q.DurationMinutes, err = strconv.Atoi(v)
		if err != nil || q.DurationMinutes <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive number of minutes")
			return
		}
	}

	var slots []SlotResponse
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		board, err := h.svc.SlotBoard(r.Context(), q)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		slots = make([]SlotResponse, 0, len(board))
		for _, sa := range board {
			slots = append(slots, SlotResponse{StartInstant: sa.Start, DurationMinutes: sa.DurationMinutes, Available: sa.Available})
		}
	} else {
		open, err := h.svc.Availability(r.Context(), q)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		slots = make([]SlotResponse, 0, len(open))
		for _, s := range open {
			slots = append(slots, SlotResponse{StartInstant: s.Start, DurationMinutes: s.DurationMinutes, Available: true})
		}
	}

	duration := q.DurationMinutes
	if duration == 0 && len(slots) > 0 {
		duration = slots[0].DurationMinutes
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{
		PractitionerID:  practitionerID,
		Date:            date,
		DurationMinutes: duration,
		Available:       slots,
	})
}

func (h *handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	practitionerID, err := uuid.Parse(req.PractitionerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitionerId must be a valid UUID")
		return
	}
	requesterID, err := uuid.Parse(req.RequesterID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_requester_id", "requesterId must be a valid UUID")
		return
	}

	appt, err := h.svc.Reserve(r.Context(), appointment.ReserveRequest{
		PractitionerID:  practitionerID,
		RequesterID:     requesterID,
		Start:           req.StartInstant,
		DurationMinutes: req.DurationMinutes,
		Details: appointment.Details{
			AppointmentType: req.AppointmentType,
			Reason:          req.Reason,
			Notes:           req.Notes,
		},
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, BookingResponse{Appointment: toAppointmentResponse(appt)})
}

func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, BookingResponse{Appointment: toAppointmentResponse(appt)})
}

// listBookings serves either ?practitionerId=&from=&to= or
// ?requesterId=&limit=&offset=.
func (h *handlers) listBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if v := q.Get("practitionerId"); v != "" {
		practitionerID, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitionerId must be a valid UUID")
			return
		}
		from, err := parseInstant(q.Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", err.Error())
			return
		}
		to, err := parseInstant(q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", err.Error())
			return
		}

		appts, err := h.svc.ListAppointmentsByPractitioner(r.Context(), practitionerID, from, to)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentList(appts))
		return
	}

	if v := q.Get("requesterId"); v != "" {
		requesterID, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_requester_id", "requesterId must be a valid UUID")
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		appts, err := h.svc.ListAppointmentsByRequester(r.Context(), requesterID, limit, offset)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentList(appts))
		return
	}

	writeError(w, http.StatusBadRequest, "missing_filter", "practitionerId or requesterId is required")
}

func (h *handlers) confirmBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.Confirm(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, BookingResponse{Appointment: toAppointmentResponse(appt)})
}

func (h *handlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	var req CancelBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	appt, err := h.svc.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, BookingResponse{Appointment: toAppointmentResponse(appt)})
}

func (h *handlers) completeBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.Complete(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, BookingResponse{Appointment: toAppointmentResponse(appt)})
}

func (h *handlers) rescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}
	var req RescheduleBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	original, created, err := h.svc.Reschedule(r.Context(), appointment.RescheduleRequest{
		AppointmentID:   id,
		Start:           req.StartInstant,
		DurationMinutes: req.DurationMinutes,
		Details: appointment.Details{
			AppointmentType: req.AppointmentType,
			Reason:          req.Reason,
			Notes:           req.Notes,
		},
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, RescheduleResponse{
		Original:    toAppointmentResponse(original),
		Appointment: toAppointmentResponse(created),
	})
}

func (h *handlers) getCalendar(w http.ResponseWriter, r *http.Request) {
	practitionerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "id must be a valid UUID")
		return
	}

	tmpl, err := h.svc.Template(r.Context(), practitionerID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tmpl)
}

func (h *handlers) putCalendar(w http.ResponseWriter, r *http.Request) {
	practitionerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "id must be a valid UUID")
		return
	}
	var tmpl calendar.Template
	if !decodeBody(w, r, &tmpl) {
		return
	}
	tmpl.PractitionerID = practitionerID

	if err := h.svc.UpdateTemplate(r.Context(), &tmpl); err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tmpl)
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// parseInstant accepts RFC 3339 instants or plain dates (UTC midnight).
func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := calendar.ParseDate(s)
	if err != nil {
		return time.Time{}, errors.New("must be RFC 3339 or YYYY-MM-DD")
	}
	return d.Midnight(time.UTC), nil
}

func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *appointment.ConflictError
	var storage *appointment.StorageError

	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    "slot_unavailable",
			Details:  err.Error(),
			Conflict: &IntervalResponse{Start: conflict.Start, End: conflict.End},
		})
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrPractitionerBusy):
		writeError(w, http.StatusConflict, "practitioner_busy", err.Error())
	case errors.Is(err, appointment.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, calendar.ErrInvalidTemplate):
		writeError(w, http.StatusBadRequest, "invalid_template", err.Error())
	case errors.Is(err, appointment.ErrPractitionerNotFound):
		writeError(w, http.StatusNotFound, "practitioner_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.As(err, &storage):
		h.logger.Error("storage failure",
			zap.String("op", storage.Op),
			zap.Bool("retryable", storage.Retryable),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(storage.Err),
		)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "the booking ledger is temporarily unavailable")
	default:
		h.logger.Error("unhandled error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
