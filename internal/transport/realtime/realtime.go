// Package realtime implements the transport Adapter over a websocket room
// speaking JSON frames.
package realtime

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/zulandar/murmur/internal/transport"
)

// Frame types.
const (
	FrameJoin          = "join"
	FrameChat          = "chat"
	FrameTranscription = "transcription"
	FrameMicrophone    = "microphone"
)

// Frame is one JSON message on the room socket.
type Frame struct {
	Type    string `json:"type"`
	Room    string `json:"room,omitempty"`
	ID      string `json:"id,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Text    string `json:"text,omitempty"`
	Partial bool   `json:"partial,omitempty"` // still being refined
	Enabled bool   `json:"enabled,omitempty"` // microphone frames
	TS      int64  `json:"ts,omitempty"`      // unix milliseconds
}

// Microphone captures local audio. Transcription happens on the room side;
// the adapter only switches capture on and off.
type Microphone interface {
	Start(ctx context.Context) error
	Stop() error
}

// AdapterOpts holds parameters for creating a realtime Adapter.
type AdapterOpts struct {
	URL        string // ws:// or wss:// room endpoint
	Room       string
	Identity   string // local participant identity
	Token      string // sent as a bearer token when set
	Microphone Microphone
	HTTPClient *http.Client
}

// Adapter implements transport.Adapter for a websocket room.
type Adapter struct {
	url      string
	room     string
	identity string
	token    string
	mic      Microphone
	client   *http.Client

	mu     sync.Mutex
	state  transport.ConnState
	conn   *websocket.Conn
	cancel context.CancelFunc
	micOn  bool
	closed bool
	events chan transport.Event

	// attempt identifies the in-flight dial; Disconnect bumps it so a dial
	// that completes afterwards knows it was abandoned.
	attempt    uint64
	dialCancel context.CancelFunc
}

var (
	_ transport.Adapter       = (*Adapter)(nil)
	_ transport.LocalIdentity = (*Adapter)(nil)
)

// New creates a realtime Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("realtime: url is required")
	}
	if opts.Identity == "" {
		return nil, fmt.Errorf("realtime: identity is required")
	}
	return &Adapter{
		url:      opts.URL,
		room:     opts.Room,
		identity: opts.Identity,
		token:    opts.Token,
		mic:      opts.Microphone,
		client:   opts.HTTPClient,
		events:   make(chan transport.Event, 100),
	}, nil
}

// LocalIdentity returns the identity this adapter joins the room as.
func (a *Adapter) LocalIdentity() string { return a.identity }

// Connect dials the room and announces the local participant.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return transport.ErrClosed
	}
	if a.state != transport.Disconnected {
		a.mu.Unlock()
		return nil
	}
	a.state = transport.Connecting
	a.attempt++
	attempt := a.attempt
	dialCtx, dialCancel := context.WithCancel(ctx)
	a.dialCancel = dialCancel
	a.mu.Unlock()
	defer dialCancel()

	conn, err := a.dial(dialCtx)

	a.mu.Lock()
	superseded := a.attempt != attempt
	if !superseded {
		a.dialCancel = nil
	}
	if err != nil {
		if !superseded {
			a.state = transport.Disconnected
		}
		a.mu.Unlock()
		if superseded {
			return fmt.Errorf("realtime: connect: %w", transport.ErrNotConnected)
		}
		return err
	}
	if a.closed {
		a.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "adapter closed")
		return transport.ErrClosed
	}
	if superseded {
		a.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "connect abandoned")
		return fmt.Errorf("realtime: connect: %w", transport.ErrNotConnected)
	}
	readCtx, cancel := context.WithCancel(context.Background())
	a.conn = conn
	a.cancel = cancel
	a.state = transport.Connected
	a.emitLocked(transport.Event{Type: transport.EventConnected, At: time.Now()})
	a.mu.Unlock()

	go a.readLoop(readCtx, conn)
	return nil
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{HTTPClient: a.client}
	if a.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + a.token}}
	}
	conn, _, err := websocket.Dial(ctx, a.url, opts)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", a.url, err)
	}
	join := Frame{Type: FrameJoin, Room: a.room, Sender: a.identity, TS: time.Now().UnixMilli()}
	if err := wsjson.Write(ctx, conn, join); err != nil {
		conn.Close(websocket.StatusInternalError, "join failed")
		return nil, fmt.Errorf("realtime: join %s: %w", a.room, err)
	}
	return conn, nil
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				log.Printf("realtime: read: %v", err)
			}
			a.dropped(conn)
			return
		}
		ev, ok := f.event()
		if !ok {
			continue
		}
		a.mu.Lock()
		if a.conn == conn {
			a.emitLocked(ev)
		}
		a.mu.Unlock()
	}
}

// event converts an inbound frame. Non-message frames are skipped.
func (f Frame) event() (transport.Event, bool) {
	var kind transport.Kind
	switch f.Type {
	case FrameTranscription:
		kind = transport.KindTranscription
	case FrameChat:
		kind = transport.KindChat
	case FrameJoin, FrameMicrophone:
		return transport.Event{}, false
	default:
		kind = transport.KindOther
	}
	at := time.Now()
	if f.TS > 0 {
		at = time.UnixMilli(f.TS)
	}
	return transport.Event{
		Type:   transport.EventMessage,
		Kind:   kind,
		ID:     f.ID,
		Sender: f.Sender,
		Text:   f.Text,
		Final:  !f.Partial,
		At:     at,
	}, true
}

// dropped handles a connection lost underneath the adapter.
func (a *Adapter) dropped(conn *websocket.Conn) {
	a.mu.Lock()
	if a.conn != conn {
		a.mu.Unlock()
		return
	}
	cancel := a.teardownLocked()
	a.mu.Unlock()
	cancel()
	conn.Close(websocket.StatusGoingAway, "connection lost")
}

// teardownLocked resets connection state and stops capture. The returned
// func stops the read loop; call it after closing the socket.
func (a *Adapter) teardownLocked() context.CancelFunc {
	cancel := a.cancel
	if cancel == nil {
		cancel = func() {}
	}
	a.cancel = nil
	a.conn = nil
	a.state = transport.Disconnected
	if a.micOn && a.mic != nil {
		if err := a.mic.Stop(); err != nil {
			log.Printf("realtime: stop microphone: %v", err)
		}
	}
	a.micOn = false
	a.emitLocked(transport.Event{Type: transport.EventDisconnected, At: time.Now()})
	return cancel
}

// Send publishes a chat frame from the local participant.
func (a *Adapter) Send(ctx context.Context, text string) error {
	conn, err := a.connected()
	if err != nil {
		return err
	}
	f := Frame{
		Type:   FrameChat,
		ID:     uuid.NewString(),
		Sender: a.identity,
		Text:   text,
		TS:     time.Now().UnixMilli(),
	}
	if err := wsjson.Write(ctx, conn, f); err != nil {
		return fmt.Errorf("realtime: send: %w: %v", transport.ErrPublishFailed, err)
	}
	return nil
}

// SetMicrophone switches local capture and tells the room about it.
func (a *Adapter) SetMicrophone(ctx context.Context, enabled bool) error {
	conn, err := a.connected()
	if err != nil {
		return err
	}
	if a.mic == nil {
		if enabled {
			return fmt.Errorf("realtime: %w: no microphone configured", transport.ErrDeviceUnavailable)
		}
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.micOn == enabled {
		return nil
	}
	if enabled {
		if err := a.mic.Start(ctx); err != nil {
			return fmt.Errorf("realtime: %w: %v", transport.ErrDeviceUnavailable, err)
		}
	} else if err := a.mic.Stop(); err != nil {
		return fmt.Errorf("realtime: stop microphone: %w", err)
	}
	a.micOn = enabled

	f := Frame{Type: FrameMicrophone, Sender: a.identity, Enabled: enabled, TS: time.Now().UnixMilli()}
	if err := wsjson.Write(ctx, conn, f); err != nil {
		log.Printf("realtime: announce microphone state: %v", err)
	}
	return nil
}

func (a *Adapter) connected() (*websocket.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, transport.ErrClosed
	}
	if a.state != transport.Connected || a.conn == nil {
		return nil, transport.ErrNotConnected
	}
	return a.conn, nil
}

// Events returns the inbound event channel.
func (a *Adapter) Events() <-chan transport.Event { return a.events }

// State reports the connection state.
func (a *Adapter) State() transport.ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Disconnect leaves the room.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	conn := a.conn
	if conn == nil {
		if a.dialCancel != nil {
			// Abandon the dial in flight; Connect closes whatever it yields.
			a.dialCancel()
			a.dialCancel = nil
			a.attempt++
		}
		a.state = transport.Disconnected
		a.mu.Unlock()
		return nil
	}
	cancel := a.teardownLocked()
	a.mu.Unlock()
	defer cancel()

	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		log.Printf("realtime: close: %v", err)
	}
	return nil
}

// Close disconnects and closes the event channel.
func (a *Adapter) Close() error {
	err := a.Disconnect()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.events)
	return err
}

// emitLocked queues an event without blocking; a full buffer drops it.
func (a *Adapter) emitLocked(ev transport.Event) {
	if a.closed {
		return
	}
	select {
	case a.events <- ev:
	default:
		log.Printf("realtime: event buffer full, dropping %s event", ev.ID)
	}
}
