package calendar

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTemplate_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Template)
	}{
		{"zero slot minutes", func(tm *Template) { tm.SlotMinutes = 0 }},
		{"unknown timezone", func(tm *Template) { tm.Timezone = "Mars/Olympus" }},
		{"empty interval", func(tm *Template) {
			tm.Hours = []WorkingHours{{Weekday: time.Monday, Start: 600, End: 600}}
		}},
		{"past midnight", func(tm *Template) {
			tm.Hours = []WorkingHours{{Weekday: time.Monday, Start: 600, End: 1500}}
		}},
		{"overlapping hours", func(tm *Template) {
			tm.Hours = []WorkingHours{
				{Weekday: time.Monday, Start: 9 * 60, End: 12 * 60},
				{Weekday: time.Monday, Start: 11 * 60, End: 13 * 60},
			}
		}},
		{"duration not a multiple", func(tm *Template) { tm.Durations = []int{45} }},
		{"inverted blackout", func(tm *Template) {
			now := time.Now()
			tm.Blackouts = []Blackout{{Start: now, End: now.Add(-time.Hour)}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := mondayTemplate()
			tt.mutate(tmpl)
			if err := tmpl.Validate(); !errors.Is(err, ErrInvalidTemplate) {
				t.Fatalf("expected ErrInvalidTemplate, got %v", err)
			}
		})
	}
}

func TestTemplate_ValidateAcceptsTouchingIntervals(t *testing.T) {
	tmpl := mondayTemplate()
	tmpl.Hours = []WorkingHours{
		{Weekday: time.Monday, Start: 9 * 60, End: 12 * 60},
		{Weekday: time.Monday, Start: 12 * 60, End: 13 * 60},
		{Weekday: time.Tuesday, Start: 9 * 60, End: 12 * 60},
	}
	if err := tmpl.Validate(); err != nil {
		t.Fatalf("expected valid template, got %v", err)
	}
}

func TestSlots_InvalidTemplateRejected(t *testing.T) {
	tmpl := mondayTemplate()
	tmpl.SlotMinutes = -5
	if _, err := tmpl.Slots(monday, GenerateOptions{}); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
}

func TestTemplate_JSONRoundTripKeepsWallClock(t *testing.T) {
	raw := []byte(`{
		"timezone": "Europe/Berlin",
		"slotMinutes": 30,
		"durations": [30, 60],
		"hours": [{"weekday": 1, "start": "09:00", "end": "12:30"}],
		"blackoutDates": ["2030-12-24"]
	}`)

	var tmpl Template
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := tmpl.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if tmpl.Hours[0].End != 12*60+30 {
		t.Errorf("expected end 12:30, got %s", tmpl.Hours[0].End)
	}
	if tmpl.BlackoutDates[0] != (Date{Year: 2030, Month: time.December, Day: 24}) {
		t.Errorf("unexpected blackout date %s", tmpl.BlackoutDates[0])
	}
	if !tmpl.SupportsDuration(60) || tmpl.SupportsDuration(90) {
		t.Errorf("unexpected supported durations %v", tmpl.SupportedDurations())
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"24:00", 1440, false},
		{"24:30", 0, true},
		{"12:75", 0, true},
		{"noon", 0, true},
		{"09:30xyz", 0, true},
		{"9:05", 0, true},
		{"09:5", 0, true},
		{"+9:30", 0, true},
		{"23:59", 1439, false},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: expected %d, got %d (%v)", tt.in, tt.want, got, err)
		}
	}
}

func TestDate_ParseAndCompare(t *testing.T) {
	d, err := ParseDate("2030-01-07")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d != monday || d.Weekday() != time.Monday {
		t.Fatalf("unexpected date %s (%s)", d, d.Weekday())
	}
	if !d.Before(d.AddDays(1)) || d.AddDays(1).Before(d) {
		t.Fatal("unexpected ordering")
	}
	if got := (Date{Year: 2030, Month: time.January, Day: 31}).AddDays(1).String(); got != "2030-02-01" {
		t.Fatalf("expected month rollover, got %s", got)
	}
	if _, err := ParseDate("2030-13-01"); err == nil {
		t.Fatal("expected invalid month to fail")
	}
}
