package calendar

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// 2030-01-07 is a Monday.
var monday = Date{Year: 2030, Month: time.January, Day: 7}

func mondayTemplate() *Template {
	return &Template{
		PractitionerID: uuid.New(),
		Timezone:       "UTC",
		SlotMinutes:    30,
		Hours: []WorkingHours{
			{Weekday: time.Monday, Start: 9 * 60, End: 12 * 60},
		},
	}
}

func collectStarts(t *testing.T, tmpl *Template, day Date, opts GenerateOptions) []string {
	t.Helper()
	seq, err := tmpl.Slots(day, opts)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	var out []string
	for s := range seq {
		out = append(out, s.Start.Format("15:04"))
	}
	return out
}

func TestSlots_MondayMorning(t *testing.T) {
	got := collectStarts(t, mondayTemplate(), monday, GenerateOptions{})
	want := []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSlots_NoHoursOnWeekday(t *testing.T) {
	got := collectStarts(t, mondayTemplate(), monday.AddDays(1), GenerateOptions{})
	if len(got) != 0 {
		t.Fatalf("expected no slots on tuesday, got %v", got)
	}
}

func TestSlots_TruncatesPartialStep(t *testing.T) {
	tmpl := mondayTemplate()
	tmpl.Hours = []WorkingHours{{Weekday: time.Monday, Start: 9 * 60, End: 10*60 + 45}}

	got := collectStarts(t, tmpl, monday, GenerateOptions{})
	want := []string{"09:00", "09:30", "10:00"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSlots_MultipleIntervalsAreOrdered(t *testing.T) {
	tmpl := mondayTemplate()
	tmpl.Hours = []WorkingHours{
		{Weekday: time.Monday, Start: 14 * 60, End: 15 * 60},
		{Weekday: time.Monday, Start: 9 * 60, End: 10 * 60},
	}

	got := collectStarts(t, tmpl, monday, GenerateOptions{})
	want := []string{"09:00", "09:30", "14:00", "14:30"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSlots_BlackoutDateIsEmpty(t *testing.T) {
	tmpl := mondayTemplate()
	tmpl.BlackoutDates = []Date{monday}

	if got := collectStarts(t, tmpl, monday, GenerateOptions{}); len(got) != 0 {
		t.Fatalf("expected empty sequence on blackout date, got %v", got)
	}
}

func TestSlots_BlackoutIntervalDropsIntersecting(t *testing.T) {
	tmpl := mondayTemplate()
	tmpl.Blackouts = []Blackout{{
		Start: monday.At(10*60+15, time.UTC),
		End:   monday.At(11*60, time.UTC),
	}}

	got := collectStarts(t, tmpl, monday, GenerateOptions{})
	want := []string{"09:00", "09:30", "11:00", "11:30"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSlots_LongerDurationMustFitInterval(t *testing.T) {
	tmpl := mondayTemplate()
	tmpl.Durations = []int{30, 60}

	got := collectStarts(t, tmpl, monday, GenerateOptions{Duration: 60})
	want := []string{"09:00", "09:30", "10:00", "10:30", "11:00"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSlots_PastDateRejected(t *testing.T) {
	_, err := mondayTemplate().Slots(monday, GenerateOptions{Today: monday.AddDays(1)})
	if !errors.Is(err, ErrDateInPast) {
		t.Fatalf("expected ErrDateInPast, got %v", err)
	}

	if _, err := mondayTemplate().Slots(monday, GenerateOptions{Today: monday.AddDays(1), AllowPast: true}); err != nil {
		t.Fatalf("expected back-dated generation to be allowed, got %v", err)
	}
}

func TestSlots_RespectsTimezone(t *testing.T) {
	tmpl := mondayTemplate()
	tmpl.Timezone = "America/New_York"

	seq, err := tmpl.Slots(monday, GenerateOptions{})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	for s := range seq {
		// 09:00 EST is 14:00 UTC in January.
		if got := s.Start.UTC().Format("15:04"); got != "14:00" {
			t.Fatalf("expected first slot at 14:00 UTC, got %s", got)
		}
		break
	}
}

func TestSlots_DaylightSavingTransitions(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("zoneinfo unavailable: %v", err)
	}

	tests := []struct {
		name string
		day  Date
		want []string
	}{
		// 02:00 to 03:00 does not exist on 2030-03-10.
		{"spring forward", Date{Year: 2030, Month: time.March, Day: 10}, []string{"01:00", "01:30", "03:00", "03:30"}},
		// 01:00 to 02:00 happens twice on 2030-11-03.
		{"fall back", Date{Year: 2030, Month: time.November, Day: 3}, []string{"01:00", "01:30", "02:00", "02:30", "03:00", "03:30"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := &Template{
				PractitionerID: uuid.New(),
				Timezone:       "America/New_York",
				SlotMinutes:    30,
				Hours:          []WorkingHours{{Weekday: time.Sunday, Start: 60, End: 4 * 60}},
			}
			seq, err := tmpl.Slots(tt.day, GenerateOptions{})
			if err != nil {
				t.Fatalf("Slots: %v", err)
			}

			var got []string
			var prev time.Time
			for s := range seq {
				if !prev.IsZero() && !s.Start.After(prev) {
					t.Fatalf("start %s does not follow %s", s.Start, prev)
				}
				prev = s.Start
				got = append(got, s.Start.In(loc).Format("15:04"))
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}

			for _, wall := range tt.want {
				tod, _ := ParseTimeOfDay(wall)
				ok, err := tmpl.Covers(tt.day.At(tod, loc), 30)
				if err != nil || !ok {
					t.Errorf("Covers(%s) = %v, %v", wall, ok, err)
				}
			}
		})
	}
}

func TestSlots_SequenceIsRestartable(t *testing.T) {
	seq, err := mondayTemplate().Slots(monday, GenerateOptions{})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if len(first) != 6 || len(first) != len(second) {
		t.Fatalf("expected two identical 6-slot passes, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Start.Equal(second[i].Start) {
			t.Fatalf("pass mismatch at %d", i)
		}
	}
}

func TestCovers(t *testing.T) {
	tmpl := mondayTemplate()
	tmpl.Durations = []int{30, 60}

	tests := []struct {
		name     string
		start    time.Time
		duration int
		want     bool
	}{
		{"aligned", monday.At(10*60, time.UTC), 30, true},
		{"unaligned", monday.At(10*60+10, time.UTC), 30, false},
		{"runs past close", monday.At(11*60+30, time.UTC), 60, false},
		{"outside hours", monday.At(13*60, time.UTC), 30, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tmpl.Covers(tt.start, tt.duration)
			if err != nil {
				t.Fatalf("Covers: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

type countingStore struct {
	calls atomic.Int32
	inner Store
	delay time.Duration
}

func (c *countingStore) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	return c.inner.Get(ctx, id)
}

func TestCachedStore_CollapsesConcurrentMisses(t *testing.T) {
	tmpl := mondayTemplate()
	backing := &countingStore{inner: NewMemoryStore(*tmpl), delay: 20 * time.Millisecond}
	cache := NewCachedStore(backing, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Get(context.Background(), tmpl.PractitionerID); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := backing.calls.Load(); n != 1 {
		t.Fatalf("expected a single backing load, got %d", n)
	}
}

func TestCachedStore_ExpiresAndInvalidates(t *testing.T) {
	tmpl := mondayTemplate()
	mem := NewMemoryStore(*tmpl)
	backing := &countingStore{inner: mem}
	cache := NewCachedStore(backing, time.Minute)

	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := cache.Get(ctx, tmpl.PractitionerID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := cache.Get(ctx, tmpl.PractitionerID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := backing.calls.Load(); n != 1 {
		t.Fatalf("expected cached read, got %d loads", n)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cache.Get(ctx, tmpl.PractitionerID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := backing.calls.Load(); n != 2 {
		t.Fatalf("expected reload after ttl, got %d loads", n)
	}

	updated := *tmpl
	updated.SlotMinutes = 15
	if err := mem.Put(ctx, &updated); err != nil {
		t.Fatalf("Put: %v", err)
	}
	cache.Invalidate(tmpl.PractitionerID)

	got, err := cache.Get(ctx, tmpl.PractitionerID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SlotMinutes != 15 {
		t.Fatalf("expected fresh template after invalidate, got slot minutes %d", got.SlotMinutes)
	}
}

// gatedStore snapshots the template, then holds its first load until released.
type gatedStore struct {
	*MemoryStore
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := g.MemoryStore.Get(ctx, id)
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return t, err
}

func TestCachedStore_LoadRacingPutDoesNotCacheStaleTemplate(t *testing.T) {
	tmpl := mondayTemplate()
	backing := &gatedStore{
		MemoryStore: NewMemoryStore(*tmpl),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	cache := NewCachedStore(backing, time.Hour)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := cache.Get(ctx, tmpl.PractitionerID); err != nil {
			t.Errorf("Get: %v", err)
		}
	}()
	<-backing.started

	updated := *tmpl
	updated.SlotMinutes = 15
	if err := cache.Put(ctx, &updated); err != nil {
		t.Fatalf("Put: %v", err)
	}
	close(backing.release)
	<-done

	got, err := cache.Get(ctx, tmpl.PractitionerID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SlotMinutes != 15 {
		t.Fatalf("load started before Put left a stale template cached: slot minutes %d", got.SlotMinutes)
	}
}

func TestCachedStore_NotFound(t *testing.T) {
	cache := NewCachedStore(NewMemoryStore(), time.Minute)
	if _, err := cache.Get(context.Background(), uuid.New()); !errors.Is(err, ErrPractitionerNotFound) {
		t.Fatalf("expected ErrPractitionerNotFound, got %v", err)
	}
}
