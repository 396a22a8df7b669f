package transport

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

const (
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// Backoff controls the retry schedule of Reconnect. Zero fields take the
// package defaults.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the standard reconnection schedule.
func DefaultBackoff() Backoff {
	return Backoff{Base: baseBackoff, Max: maxBackoff, MaxAttempts: maxReconnectAttempts}
}

// Delay returns the wait before the given zero-based retry attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	wait := time.Duration(math.Pow(2, float64(attempt))) * b.Base
	if wait > b.Max || wait <= 0 {
		wait = b.Max
	}
	return wait
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = baseBackoff
	}
	if b.Max <= 0 {
		b.Max = maxBackoff
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = maxReconnectAttempts
	}
	return b
}

// Reconnect performs a full disconnect followed by connect attempts with
// exponential backoff. It returns the last connect error once attempts are
// exhausted, or ctx.Err() if cancelled while waiting.
func Reconnect(ctx context.Context, a Adapter, b Backoff) error {
	b = b.withDefaults()
	if err := a.Disconnect(); err != nil {
		log.Printf("transport: reconnect: disconnect: %v", err)
	}

	var lastErr error
	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		err := a.Connect(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == b.MaxAttempts-1 {
			break
		}
		wait := b.Delay(attempt)
		log.Printf("transport: reconnect attempt %d/%d failed: %v (retrying in %s)",
			attempt+1, b.MaxAttempts, lastErr, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("transport: reconnect: giving up after %d attempts: %w", b.MaxAttempts, lastErr)
}
