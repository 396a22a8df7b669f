// Package transport connects the chat client to the real-time session the
// agent lives on (websocket room, Slack or Discord channel).
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Adapters never reconnect on their own; callers drive reconnection with
// Reconnect.
type Adapter interface {
	// Connect joins the session. It is a no-op when already connected or
	// connecting. On failure the state stays Disconnected.
	Connect(ctx context.Context) error

	// Send publishes a chat message into the session. A transient publish
	// failure wraps ErrPublishFailed.
	Send(ctx context.Context, text string) error

	// SetMicrophone enables or disables local audio capture. Wraps
	// ErrDeviceUnavailable when no capture device can be used.
	SetMicrophone(ctx context.Context, enabled bool) error

	// Events returns the inbound event channel. The same channel is returned
	// for the adapter's lifetime and is closed by Close.
	Events() <-chan Event

	// State reports the current connection state.
	State() ConnState

	// Disconnect leaves the session and emits EventDisconnected.
	Disconnect() error

	// Close disconnects and releases the adapter. It is terminal.
	Close() error
}

// LocalIdentity is optionally implemented by adapters that know the local
// participant's identity on the session.
type LocalIdentity interface {
	LocalIdentity() string
}

// Sentinel errors returned by adapters.
var (
	ErrPublishFailed     = errors.New("transport: publish failed")
	ErrDeviceUnavailable = errors.New("transport: capture device unavailable")
	ErrNotConnected      = errors.New("transport: not connected")
	ErrClosed            = errors.New("transport: adapter closed")
)

// ConnState is the connection state of an adapter.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// EventType distinguishes connection lifecycle events from messages.
type EventType int

const (
	EventMessage EventType = iota
	EventConnected
	EventDisconnected
)

// Kind tags the payload of a message event.
type Kind int

const (
	KindTranscription Kind = iota // speech-to-text segment
	KindChat                      // typed chat message or agent reply
	KindOther                     // anything else on the session
)

// Event is a single inbound event from the session.
type Event struct {
	Type   EventType
	Kind   Kind
	ID     string // segment or message id; transcription refinements reuse it
	Sender string // participant identity
	Text   string
	Final  bool // false while a transcription or reply is still being refined
	At     time.Time
}

// Validate checks a message event for the fields every consumer relies on.
// Lifecycle events are always valid.
func (e Event) Validate() error {
	if e.Type != EventMessage {
		return nil
	}
	if e.ID == "" {
		return fmt.Errorf("transport: event: id is required")
	}
	if e.Sender == "" {
		return fmt.Errorf("transport: event %s: sender is required", e.ID)
	}
	if e.Kind < KindTranscription || e.Kind > KindOther {
		return fmt.Errorf("transport: event %s: unknown kind %d", e.ID, e.Kind)
	}
	return nil
}

// IsBlank reports whether the event carries no visible text.
func (e Event) IsBlank() bool {
	return strings.TrimSpace(e.Text) == ""
}
