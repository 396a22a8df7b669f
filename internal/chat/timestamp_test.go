package chat

import (
	"testing"
	"time"
)

func TestTimestamp_PersistedKeepsWallClock(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	ts := Persisted("2025-03-01 23:30:00")

	w := ts.Wall(tokyo)
	if w.Hour() != 23 || w.Minute() != 30 || w.Day() != 1 {
		t.Errorf("Wall = %v, want literal 23:30 on the 1st", w)
	}
	if got := ts.Date(tokyo); got != "2025-03-01" {
		t.Errorf("Date = %q, want 2025-03-01", got)
	}
}

func TestTimestamp_LiveConvertsToLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	ts := Live(time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC))
	if got := ts.Date(tokyo); got != "2025-03-02" {
		t.Errorf("Date = %q, want 2025-03-02", got)
	}
}

func TestTimestamp_Layouts(t *testing.T) {
	for _, raw := range []string{
		"2025-03-01 08:00:00",
		"2025-03-01 08:00:00.250",
		"2025-03-01T08:00:00",
		"2025-03-01T08:00:00Z",
		"2025-03-01T08:00:00.5+02:00",
		" 2025-03-01 08:00:00 ",
	} {
		w := Persisted(raw).Wall(time.UTC)
		if w.IsZero() || w.Hour() != 8 {
			t.Errorf("Wall(%q) = %v", raw, w)
		}
	}
	if w := Persisted("2025-03-01").Wall(time.UTC); w.Day() != 1 || w.Hour() != 0 {
		t.Errorf("date-only Wall = %v", w)
	}
}

func TestTimestamp_Unparseable(t *testing.T) {
	ts := Persisted("2025-03-01 sometime")
	if !ts.Wall(time.UTC).IsZero() {
		t.Error("expected zero wall time")
	}
	if got := ts.Date(time.UTC); got != "2025-03-01" {
		t.Errorf("Date = %q, want prefix fallback", got)
	}
	if got := Persisted("junk").Date(time.UTC); got != "" {
		t.Errorf("Date = %q, want empty", got)
	}
}

func TestTimestamp_MixedOrdering(t *testing.T) {
	a := Persisted("2025-03-01 08:00:00")
	b := Live(time.Date(2025, 3, 1, 8, 15, 0, 0, time.UTC))
	c := Persisted("2025-03-01T08:30:00Z")
	if !a.Before(b, time.UTC) || !b.Before(c, time.UTC) {
		t.Error("expected a < b < c")
	}
	if c.Before(a, time.UTC) {
		t.Error("c sorted before a")
	}
}

func TestTimestamp_StringAndZero(t *testing.T) {
	var zero Timestamp
	if !zero.IsZero() || zero.String() != "" {
		t.Errorf("zero timestamp = %q", zero.String())
	}
	if got := Persisted("2025-03-01 08:00:00").String(); got != "2025-03-01 08:00:00" {
		t.Errorf("String = %q", got)
	}
	if got := Live(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)).String(); got != "2025-03-01 08:00:00" {
		t.Errorf("String = %q", got)
	}
}
