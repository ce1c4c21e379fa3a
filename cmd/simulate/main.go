package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-scheduling/internal/api"
	"github.com/hackgods/practitioner-scheduling/internal/appointment"
	"github.com/hackgods/practitioner-scheduling/internal/calendar"
	"github.com/hackgods/practitioner-scheduling/internal/config"
	"github.com/hackgods/practitioner-scheduling/internal/db"
	"github.com/hackgods/practitioner-scheduling/internal/logging"
)

var appointmentTypes = []string{"consultation", "follow-up", "procedure", "screening"}

var visitReasons = []string{
	"annual check-up",
	"persistent cough",
	"medication review",
	"lab results",
	"back pain",
	"skin rash",
}

type SimConfig struct {
	APIBaseURL        string
	Duration          time.Duration
	Workers           int
	BookingRatio      float64
	TransitionRatio   float64
	ReadRatio         float64
	Requesters        int
	PractitionerLimit int
	HorizonDays       int
}

type DataPool struct {
	Practitioners []uuid.UUID
	Requesters    []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Availability  OperationMetrics
	Booking       OperationMetrics
	Confirm       OperationMetrics
	Cancel        OperationMetrics
	ReadByID      OperationMetrics
	ListRequester OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid simulator config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("transition", cfg.TransitionRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, 4, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data pool loaded",
		zap.Int("practitioners", len(dataPool.Practitioners)),
		zap.Int("requesters", len(dataPool.Requesters)),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	auditCtx, cancelAudit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelAudit()
	if err := printAudit(auditCtx, appointment.NewPgRepository(pgPool)); err != nil {
		logger.Fatal("ledger audit", zap.Error(err))
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:        config.String("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:          config.Duration("SIM_DURATION", 30*time.Second),
		Workers:           config.Int("SIM_WORKERS", 10),
		BookingRatio:      config.Float("SIM_BOOKING_RATIO", 0.5),
		TransitionRatio:   config.Float("SIM_TRANSITION_RATIO", 0.2),
		ReadRatio:         config.Float("SIM_READ_RATIO", 0.3),
		Requesters:        config.Int("SIM_REQUESTERS", 2000),
		PractitionerLimit: config.Int("SIM_PRACTITIONER_LIMIT", 20),
		HorizonDays:       config.Int("SIM_HORIZON_DAYS", 7),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.TransitionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitionRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Requesters <= 0 || cfg.HorizonDays <= 0 {
		return fmt.Errorf("SIM_REQUESTERS and SIM_HORIZON_DAYS must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	// A small practitioner set keeps contention on the same calendars high.
	rows, err := pool.Query(ctx, `
		SELECT id FROM practitioners WHERE template IS NOT NULL ORDER BY created_at LIMIT $1
	`, cfg.PractitionerLimit)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Practitioners = append(dataPool.Practitioners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dataPool.Practitioners) == 0 {
		return nil, fmt.Errorf("no practitioners loaded, run the seed first")
	}

	for range cfg.Requesters {
		dataPool.Requesters = append(dataPool.Requesters, uuid.New())
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.TransitionRatio:
				if rng.Intn(4) == 0 {
					s.doCancel(ctx, rng)
				} else {
					s.doConfirm(ctx, rng)
				}
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByRequester(ctx, rng)
				case 2:
					s.doAvailability(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) randomDate(rng *rand.Rand) calendar.Date {
	return calendar.DateOf(time.Now().UTC()).AddDays(1 + rng.Intn(s.config.HorizonDays))
}

// fetchAvailability returns the open starts for a practitioner and day.
func (s *Simulator) fetchAvailability(ctx context.Context, practitionerID uuid.UUID, day calendar.Date) ([]api.SlotResponse, bool) {
	start := time.Now()
	url := fmt.Sprintf("%s/availability/%s/%s", s.config.APIBaseURL, practitionerID, day)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Availability.Record(latency, false, false)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.metrics.Availability.Record(latency, false, false)
		return nil, false
	}
	var body api.AvailabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.metrics.Availability.Record(latency, false, false)
		return nil, false
	}
	s.metrics.Availability.Record(latency, true, false)
	return body.Available, true
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	pid := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	s.fetchAvailability(ctx, pid, s.randomDate(rng))
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	pid := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	slots, ok := s.fetchAvailability(ctx, pid, s.randomDate(rng))
	if !ok || len(slots) == 0 {
		return
	}

	// Favor the earliest slots so workers race for the same intervals.
	idx := rng.Intn(len(slots))
	if rng.Intn(2) == 0 {
		idx = rng.Intn(min(3, len(slots)))
	}
	slot := slots[idx]

	body, _ := json.Marshal(api.CreateBookingRequest{
		PractitionerID:  pid.String(),
		RequesterID:     s.pool.Requesters[rng.Intn(len(s.pool.Requesters))].String(),
		StartInstant:    slot.StartInstant,
		DurationMinutes: slot.DurationMinutes,
		AppointmentType: gofakeit.RandomString(appointmentTypes),
		Reason:          gofakeit.RandomString(visitReasons),
		Notes:           "requested by " + gofakeit.FirstName(),
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var created api.BookingResponse
			if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.Appointment.ID != uuid.Nil {
				s.pool.AddAppointment(created.Appointment.ID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	success, conflict, latency := s.post(ctx, fmt.Sprintf("/bookings/%s/confirm", apptID), nil)
	s.metrics.Confirm.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	body, _ := json.Marshal(api.CancelBookingRequest{Reason: "simulated cancellation"})
	success, conflict, latency := s.post(ctx, fmt.Sprintf("/bookings/%s/cancel", apptID), body)
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) post(ctx context.Context, path string, body []byte) (success, conflict bool, latency time.Duration) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency = time.Since(start)
	if err != nil {
		return false, false, latency
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusConflict, latency
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	success, latency := s.get(ctx, fmt.Sprintf("/bookings/%s", apptID))
	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) doListByRequester(ctx context.Context, rng *rand.Rand) {
	requesterID := s.pool.Requesters[rng.Intn(len(s.pool.Requesters))]
	success, latency := s.get(ctx, fmt.Sprintf("/bookings?requesterId=%s&limit=20&offset=0", requesterID))
	s.metrics.ListRequester.Record(latency, success, false)
}

func (s *Simulator) get(ctx context.Context, path string) (bool, time.Duration) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return false, latency
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, latency
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Practitioners: %d\n", len(s.pool.Practitioners))
	fmt.Println()

	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Requester", &s.metrics.ListRequester)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// printAudit fails the run when the ledger holds overlapping active
// appointments for any practitioner.
func printAudit(ctx context.Context, ledger appointment.Ledger) error {
	overlaps, err := ledger.FindOverlaps(ctx)
	if err != nil {
		return err
	}

	fmt.Println("LEDGER AUDIT")
	if len(overlaps) == 0 {
		fmt.Println("  No overlapping active appointments")
		return nil
	}
	for _, o := range overlaps {
		fmt.Printf("  practitioner %s: %s [%s] overlaps %s [%s]\n",
			o.First.PractitionerID,
			o.First.AppointmentNumber, o.First.ScheduledStart.Format(time.RFC3339),
			o.Second.AppointmentNumber, o.Second.ScheduledStart.Format(time.RFC3339))
	}
	return fmt.Errorf("%d overlapping appointment pairs", len(overlaps))
}
