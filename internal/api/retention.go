package api

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/murmur/internal/store"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RetentionOpts configures the guest message purge job.
type RetentionOpts struct {
	Store    *store.Store
	Schedule string // 5-field cron expression
	Days     int    // guest messages older than this are deleted
	Out      io.Writer
	Now      func() time.Time
}

// StartRetention schedules the purge job and starts the scheduler. Callers
// stop it with Stop().
func StartRetention(opts RetentionOpts) (*cron.Cron, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("api: retention: store is required")
	}
	if opts.Days <= 0 {
		return nil, fmt.Errorf("api: retention: days must be positive")
	}
	if _, err := cronParser.Parse(opts.Schedule); err != nil {
		return nil, fmt.Errorf("api: retention: schedule %q: %w", opts.Schedule, err)
	}

	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(opts.Schedule, func() {
		if _, err := PurgeGuests(opts); err != nil {
			log.Printf("api: retention: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("api: retention: %w", err)
	}
	c.Start()
	return c, nil
}

// PurgeGuests deletes guest messages older than opts.Days and reports how
// many rows were removed.
func PurgeGuests(opts RetentionOpts) (int64, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	cutoff := now().AddDate(0, 0, -opts.Days)
	n, err := opts.Store.PurgeGuestMessages(cutoff)
	if err != nil {
		return 0, err
	}
	if opts.Out != nil && n > 0 {
		fmt.Fprintf(opts.Out, "Purged %d guest message(s) older than %s\n", n, cutoff.Format(TimeLayout))
	}
	return n, nil
}
