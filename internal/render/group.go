package render

import (
	"time"

	"github.com/zulandar/murmur/internal/chat"
)

// DateGroup is a run of messages sharing one calendar date.
type DateGroup struct {
	Date     string // YYYY-MM-DD
	Messages []chat.Message
}

// GroupByDate splits messages into consecutive groups by normalised date.
// Live and persisted timestamps for the same instant land in the same group.
// Input order is preserved.
func GroupByDate(msgs []chat.Message, loc *time.Location) []DateGroup {
	var groups []DateGroup
	for _, m := range msgs {
		d := m.Timestamp.Date(loc)
		if n := len(groups); n > 0 && groups[n-1].Date == d {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DateGroup{Date: d, Messages: []chat.Message{m}})
	}
	return groups
}

// DateLabel renders a group date relative to now: "Today", "Yesterday", or
// the date itself.
func DateLabel(date string, now time.Time) string {
	switch date {
	case now.Format("2006-01-02"):
		return "Today"
	case now.AddDate(0, 0, -1).Format("2006-01-02"):
		return "Yesterday"
	case "":
		return "Unknown date"
	}
	return date
}
