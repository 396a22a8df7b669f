package chat

import (
	"sync"
	"time"
)

// DefaultReplyTimeout is how long the watchdog waits for an agent reply.
const DefaultReplyTimeout = 60 * time.Second

// Timer is the part of *time.Timer the watchdog needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it through
// SystemAfterFunc; tests inject fakes.
type AfterFunc func(d time.Duration, f func()) Timer

// SystemAfterFunc wraps time.AfterFunc.
func SystemAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Watchdog enforces an upper bound on agent reply latency. At most one arm
// is outstanding; arming again cancels the previous one.
type Watchdog struct {
	mu     sync.Mutex
	after  AfterFunc
	onFire func(chatID string, gen uint64)
	timer  Timer
	gen    uint64
	chatID string
	armed  bool
}

// NewWatchdog creates an idle watchdog. onFire runs on the timer goroutine
// with the chat id and generation captured at arm time.
func NewWatchdog(after AfterFunc, onFire func(chatID string, gen uint64)) *Watchdog {
	if after == nil {
		after = SystemAfterFunc
	}
	return &Watchdog{after: after, onFire: onFire}
}

// Arm starts the deadline for chatID and returns the arm generation.
func (w *Watchdog) Arm(chatID string, d time.Duration) uint64 {
	if d <= 0 {
		d = DefaultReplyTimeout
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.gen++
	gen := w.gen
	w.chatID = chatID
	w.armed = true
	w.timer = w.after(d, func() { w.fire(gen) })
	return gen
}

// Cancel stops the outstanding arm, if any.
func (w *Watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

// Armed reports the target chat of the outstanding arm.
func (w *Watchdog) Armed() (chatID string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chatID, w.armed
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.armed = false
	w.chatID = ""
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if !w.armed || gen != w.gen {
		w.mu.Unlock()
		return
	}
	chatID := w.chatID
	w.armed = false
	w.chatID = ""
	w.timer = nil
	cb := w.onFire
	w.mu.Unlock()
	if cb != nil {
		cb(chatID, gen)
	}
}
