package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-scheduling/internal/calendar"
	"github.com/hackgods/practitioner-scheduling/internal/config"
	"github.com/hackgods/practitioner-scheduling/internal/db"
	"github.com/hackgods/practitioner-scheduling/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var timezones = []string{
	"UTC",
	"Europe/London",
	"Europe/Berlin",
	"America/New_York",
	"America/Chicago",
	"Asia/Singapore",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	count := config.Int("SEED_PRACTITIONERS", 100)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if _, err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	gofakeit.Seed(time.Now().UnixNano())

	store := calendar.NewPgStore(pool)
	logger.Info("seeding practitioners", zap.Int("count", count))
	for i := 0; i < count; i++ {
		tmpl := randomTemplate()
		name := "Dr. " + gofakeit.Name()
		spec := gofakeit.RandomString(specialties)

		if err := store.CreatePractitioner(ctx, name, spec, tmpl); err != nil {
			logger.Fatal("seed practitioner", zap.String("name", name), zap.Error(err))
		}
		if (i+1)%25 == 0 {
			logger.Info("practitioners seeded", zap.Int("done", i+1), zap.Int("total", count))
		}
	}

	logger.Info("seed complete")
}

// randomTemplate builds a weekday calendar with a morning block and, most
// of the time, an afternoon block.
func randomTemplate() *calendar.Template {
	slot := gofakeit.RandomInt([]int{15, 20, 30})
	tmpl := &calendar.Template{
		PractitionerID: uuid.New(),
		Timezone:       gofakeit.RandomString(timezones),
		SlotMinutes:    slot,
		Durations:      []int{slot, slot * 2},
	}

	morningStart := calendar.TimeOfDay(gofakeit.Number(7, 9) * 60)
	morningEnd := calendar.TimeOfDay(12 * 60)
	afternoon := gofakeit.Number(0, 3) > 0

	for day := time.Monday; day <= time.Friday; day++ {
		if gofakeit.Number(0, 9) == 0 {
			continue
		}
		tmpl.Hours = append(tmpl.Hours, calendar.WorkingHours{Weekday: day, Start: morningStart, End: morningEnd})
		if afternoon {
			tmpl.Hours = append(tmpl.Hours, calendar.WorkingHours{
				Weekday: day,
				Start:   calendar.TimeOfDay(13 * 60),
				End:     calendar.TimeOfDay(gofakeit.Number(16, 18) * 60),
			})
		}
	}

	if gofakeit.Number(0, 4) == 0 {
		off := calendar.DateOf(time.Now().UTC()).AddDays(gofakeit.Number(1, 30))
		tmpl.BlackoutDates = append(tmpl.BlackoutDates, off)
	}

	return tmpl
}
