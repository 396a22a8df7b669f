package transport

import (
	"context"
	"log"
	"sync"
	"time"
)

// MockAdapter implements Adapter and LocalIdentity for testing. It records
// sent messages and allows simulating inbound events via SimulateEvent.
type MockAdapter struct {
	mu              sync.Mutex
	state           ConnState
	closed          bool
	events          chan Event
	sent            []string
	mic             bool
	identity        string
	connectErrs     []error // consumed in order by Connect
	sendErr         error
	sendHook        func(text string)
	micErr          error
	connectCalls    int
	disconnectCalls int
}

// NewMockAdapter creates a MockAdapter with a buffered event channel.
func NewMockAdapter(identity string) *MockAdapter {
	return &MockAdapter{
		events:   make(chan Event, 100),
		identity: identity,
	}
}

// LocalIdentity returns the configured local participant identity.
func (m *MockAdapter) LocalIdentity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Connect marks the adapter as connected unless a queued error is pending.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.connectCalls++
	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		if err != nil {
			m.state = Disconnected
			return err
		}
	}
	if m.state == Connected {
		return nil
	}
	m.state = Connected
	m.emitLocked(Event{Type: EventConnected, At: time.Now()})
	return nil
}

// Send records the outbound text.
func (m *MockAdapter) Send(ctx context.Context, text string) error {
	m.mu.Lock()
	if m.state != Connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.sendErr != nil {
		m.mu.Unlock()
		return m.sendErr
	}
	m.sent = append(m.sent, text)
	hook := m.sendHook
	m.mu.Unlock()
	if hook != nil {
		hook(text)
	}
	return nil
}

// SetSendHook installs fn to run inside every accepted Send, before Send
// returns. Tests use it to deliver events while a publish is in flight.
func (m *MockAdapter) SetSendHook(fn func(text string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendHook = fn
}

// SetMicrophone records the requested capture state.
func (m *MockAdapter) SetMicrophone(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return ErrNotConnected
	}
	if m.micErr != nil {
		return m.micErr
	}
	m.mic = enabled
	return nil
}

// Events returns the inbound event channel.
func (m *MockAdapter) Events() <-chan Event { return m.events }

// State reports the current connection state.
func (m *MockAdapter) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Disconnect transitions to Disconnected and emits EventDisconnected.
func (m *MockAdapter) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	m.disconnectLocked()
	return nil
}

// Close disconnects and closes the event channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.disconnectLocked()
	m.closed = true
	close(m.events)
	return nil
}

func (m *MockAdapter) disconnectLocked() {
	if m.state == Disconnected {
		return
	}
	m.state = Disconnected
	m.mic = false
	m.emitLocked(Event{Type: EventDisconnected, At: time.Now()})
}

func (m *MockAdapter) emitLocked(ev Event) {
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
		log.Printf("transport: mock: event buffer full, dropping %v", ev.Type)
	}
}

// SimulateEvent pushes an inbound event as if it came from the session.
func (m *MockAdapter) SimulateEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	m.emitLocked(ev)
}

// SimulateRemoteDisconnect drops the connection as if the server closed it.
func (m *MockAdapter) SimulateRemoteDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

// SetConnectErrors queues errors returned by successive Connect calls. A nil
// entry lets that call succeed.
func (m *MockAdapter) SetConnectErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErrs = append([]error(nil), errs...)
}

// SetSendError makes every Send return err until cleared with nil.
func (m *MockAdapter) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetMicError makes SetMicrophone return err until cleared with nil.
func (m *MockAdapter) SetMicError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.micErr = err
}

// Sent returns a copy of all sent texts.
func (m *MockAdapter) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// MicEnabled reports the last accepted microphone state.
func (m *MockAdapter) MicEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mic
}

// ConnectCalls returns how many times Connect was called.
func (m *MockAdapter) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

// DisconnectCalls returns how many times Disconnect was called.
func (m *MockAdapter) DisconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCalls
}
