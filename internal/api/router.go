package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-scheduling/internal/appointment"
	"github.com/hackgods/practitioner-scheduling/internal/calendar"
)

// SchedulingService is the part of *appointment.Service the HTTP layer uses.
type SchedulingService interface {
	Availability(ctx context.Context, q appointment.AvailabilityQuery) ([]calendar.Slot, error)
	SlotBoard(ctx context.Context, q appointment.AvailabilityQuery) ([]appointment.SlotAvailability, error)

	Reserve(ctx context.Context, req appointment.ReserveRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointmentsByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)

	Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, req appointment.RescheduleRequest) (*appointment.Appointment, *appointment.Appointment, error)

	Template(ctx context.Context, practitionerID uuid.UUID) (*calendar.Template, error)
	UpdateTemplate(ctx context.Context, tmpl *calendar.Template) error
}

type RouterConfig struct {
	Service  SchedulingService
	Logger   *zap.Logger
	Postgres Pinger
	Redis    Pinger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{svc: cfg.Service, logger: logger}

	r.Get("/availability/{practitionerId}/{date}", h.availability)

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.createBooking)
		r.Get("/", h.listBookings)
		r.Get("/{id}", h.getBooking)
		r.Post("/{id}/confirm", h.confirmBooking)
		r.Post("/{id}/cancel", h.cancelBooking)
		r.Post("/{id}/complete", h.completeBooking)
		r.Post("/{id}/reschedule", h.rescheduleBooking)
	})

	r.Get("/practitioners/{id}/calendar", h.getCalendar)
	r.Put("/practitioners/{id}/calendar", h.putCalendar)

	return r
}
