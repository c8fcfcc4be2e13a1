package timezone

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id string
		ok bool
	}{
		{"UTC", true},
		{"Asia/Kolkata", true},
		{"America/New_York", true},
		{" Europe/Berlin ", true},
		{"", false},
		{"Local", false},
		{"Mars/Olympus_Mons", false},
		{"not a zone", false},
	}
	for _, tt := range tests {
		err := Validate(tt.id)
		if (err == nil) != tt.ok {
			t.Fatalf("Validate(%q) = %v, want ok=%v", tt.id, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidTimezone) {
			t.Fatalf("Validate(%q) error %v does not wrap ErrInvalidTimezone", tt.id, err)
		}
	}
}

func TestConvertWallClock(t *testing.T) {
	t.Parallel()
	// 2025-01-15 12:00 UTC is winter in New York (EST, -5).
	instant := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		id     string
		want   string
		offset string
	}{
		{"UTC", "2025-01-15 12:00", "UTC"},
		{"America/New_York", "2025-01-15 07:00", "UTC-05:00"},
		{"Asia/Kolkata", "2025-01-15 17:30", "UTC+05:30"},
	}
	for _, tt := range tests {
		got, err := Convert(instant, tt.id)
		if err != nil {
			t.Fatalf("Convert(%q): %v", tt.id, err)
		}
		if s := got.Format("2006-01-02 15:04"); s != tt.want {
			t.Fatalf("Convert(%q) = %s, want %s", tt.id, s, tt.want)
		}
		if !got.Equal(instant) {
			t.Fatalf("Convert(%q) changed the instant", tt.id)
		}
		if o := Offset(got); o != tt.offset {
			t.Fatalf("Offset(%q) = %s, want %s", tt.id, o, tt.offset)
		}
	}

	if _, err := Convert(instant, "Nowhere/City"); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("expected ErrInvalidTimezone, got %v", err)
	}
}

func TestHoursUntil(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if h := HoursUntil(now.Add(90*time.Minute), now); math.Abs(h-1.5) > 1e-9 {
		t.Fatalf("HoursUntil = %v, want 1.5", h)
	}
	if h := HoursUntil(now.Add(-30*time.Minute), now); h >= 0 {
		t.Fatalf("HoursUntil past = %v, want negative", h)
	}
}
