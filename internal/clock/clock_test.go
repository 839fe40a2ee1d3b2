package clock

import (
	"testing"
	"time"
)

func TestWindowStart_DayAlignsToUTCMidnight(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 37, 12, 0, time.UTC)
	start := WindowStart(Day, now)
	want := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("got %v, want %v", start, want)
	}
}

func TestWindowStart_MinuteAligns(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 37, 12, 500, time.UTC)
	start := WindowStart(Minute, now)
	want := time.Date(2026, 3, 5, 14, 37, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("got %v, want %v", start, want)
	}
}

func TestWindowStart_HourAligns(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 37, 12, 0, time.UTC)
	start := WindowStart(Hour, now)
	want := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("got %v, want %v", start, want)
	}
}

func TestTimeUntilReset_MatchesWindowEnd(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 37, 12, 0, time.UTC)
	got := TimeUntilReset(Minute, now)
	want := 48 * time.Second
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestUsageKey_Format(t *testing.T) {
	got := UsageKey("groq", "llama-3.3-70b", Minute)
	want := "usage/groq/llama-3.3-70b/minute"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFakeClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}
	c.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if !c.Now().Equal(want) {
		t.Errorf("got %v, want %v", c.Now(), want)
	}
}
