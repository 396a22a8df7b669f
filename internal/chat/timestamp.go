package chat

import (
	"strings"
	"time"
)

// Timestamp is either a live clock reading or an opaque string persisted by
// the backend. Persisted strings carry wall-clock time and are never shifted
// between time zones.
type Timestamp struct {
	At  time.Time
	Raw string
}

// Now returns a live timestamp.
func Now() Timestamp { return Timestamp{At: time.Now()} }

// Live wraps a clock reading.
func Live(t time.Time) Timestamp { return Timestamp{At: t} }

// Persisted wraps a backend timestamp string.
func Persisted(raw string) Timestamp { return Timestamp{Raw: raw} }

// persistedLayouts are tried in order when interpreting Raw.
var persistedLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// IsZero reports whether the timestamp holds neither form.
func (t Timestamp) IsZero() bool {
	return t.Raw == "" && t.At.IsZero()
}

// Wall returns the wall-clock reading used for ordering and date grouping.
// Live readings are converted to loc; persisted strings keep their literal
// fields, returned in loc without conversion. Unparseable strings yield the
// zero time.
func (t Timestamp) Wall(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	if t.Raw == "" {
		if t.At.IsZero() {
			return time.Time{}
		}
		return t.At.In(loc)
	}
	raw := strings.TrimSpace(t.Raw)
	for _, layout := range persistedLayouts {
		p, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		return time.Date(p.Year(), p.Month(), p.Day(), p.Hour(), p.Minute(), p.Second(), p.Nanosecond(), loc)
	}
	return time.Time{}
}

// Date returns the YYYY-MM-DD date of the timestamp in loc. Persisted
// strings that cannot be parsed fall back to their first ten characters.
func (t Timestamp) Date(loc *time.Location) string {
	w := t.Wall(loc)
	if w.IsZero() {
		if len(t.Raw) >= 10 {
			return t.Raw[:10]
		}
		return ""
	}
	return w.Format("2006-01-02")
}

// Before reports whether t sorts strictly before u.
func (t Timestamp) Before(u Timestamp, loc *time.Location) bool {
	return t.Wall(loc).Before(u.Wall(loc))
}

// String renders the timestamp for display.
func (t Timestamp) String() string {
	if t.Raw != "" {
		return t.Raw
	}
	if t.At.IsZero() {
		return ""
	}
	return t.At.Format("2006-01-02 15:04:05")
}
