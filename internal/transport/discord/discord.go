// Package discord implements the transport Adapter for a Discord channel
// using the Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/murmur/internal/transport"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	return r.s.User(userID, options...)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken  string // Discord bot token
	ChannelID string // the channel the agent session lives in
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// Adapter implements transport.Adapter for one Discord channel.
type Adapter struct {
	sess      session
	botToken  string
	channelID string
	retry     transport.Backoff // rate limit schedule

	mu        sync.Mutex
	state     transport.ConnState
	botUserID string
	gen       int // bumped per connect; stale handlers compare against it
	removers  []func()
	closed    bool
	events    chan transport.Event
}

var (
	_ transport.Adapter       = (*Adapter)(nil)
	_ transport.LocalIdentity = (*Adapter)(nil)
)

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}
	return &Adapter{
		sess:      opts.Session,
		botToken:  opts.BotToken,
		channelID: opts.ChannelID,
		retry:     transport.DefaultBackoff(),
		events:    make(chan transport.Event, 100),
	}, nil
}

// LocalIdentity returns the bot's Discord user ID (available after Connect).
func (a *Adapter) LocalIdentity() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// Connect opens the Gateway session and registers message handlers.
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

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		// Reconnection is driven by the caller.
		dg.ShouldReconnectOnError = false
		a.sess = &realSession{s: dg}
	}
	a.state = transport.Connecting
	a.gen++
	gen := a.gen
	sess := a.sess
	a.mu.Unlock()

	removers := []func(){
		sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(gen, m.Message)
		}),
		sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
			a.handleMessage(gen, m.Message)
		}),
		sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			a.dropped(gen)
		}),
	}

	fail := func(err error) error {
		a.mu.Lock()
		a.state = transport.Disconnected
		a.mu.Unlock()
		for _, remove := range removers {
			remove()
		}
		return err
	}
	if err := sess.Open(); err != nil {
		return fail(fmt.Errorf("discord: open gateway: %w", err))
	}
	me, err := sess.User("@me")
	if err != nil {
		if cerr := sess.Close(); cerr != nil {
			log.Printf("discord: close after failed identify: %v", cerr)
		}
		return fail(fmt.Errorf("discord: identify: %w", err))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		for _, remove := range removers {
			remove()
		}
		sess.Close()
		return transport.ErrClosed
	}
	a.botUserID = me.ID
	a.removers = removers
	a.state = transport.Connected
	a.emitLocked(transport.Event{Type: transport.EventConnected, At: time.Now()})
	log.Printf("discord: connected as %s (ID: %s)", me.Username, me.ID)
	return nil
}

// handleMessage converts a channel message to a chat event. Updates reuse
// the message ID, so edits refine the original.
func (a *Adapter) handleMessage(gen int, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.ChannelID != a.channelID {
		return
	}
	ts, err := discordgo.SnowflakeTimestamp(m.ID)
	if err != nil {
		ts = time.Now()
	}
	ev := transport.Event{
		Type:   transport.EventMessage,
		Kind:   transport.KindChat,
		ID:     m.ID,
		Sender: m.Author.ID,
		Text:   m.Content,
		Final:  true,
		At:     ts,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen == gen && a.state == transport.Connected {
		a.emitLocked(ev)
	}
}

// dropped handles a gateway disconnect the adapter did not ask for.
func (a *Adapter) dropped(gen int) {
	a.mu.Lock()
	if a.gen != gen || a.state != transport.Connected {
		a.mu.Unlock()
		return
	}
	removers := a.teardownLocked()
	a.mu.Unlock()
	log.Printf("discord: gateway disconnected")
	for _, remove := range removers {
		remove()
	}
}

// teardownLocked resets connection state without touching the session. It
// returns the handler removers to run once the lock is released.
func (a *Adapter) teardownLocked() []func() {
	removers := a.removers
	a.removers = nil
	a.gen++
	a.state = transport.Disconnected
	a.emitLocked(transport.Event{Type: transport.EventDisconnected, At: time.Now()})
	return removers
}

// Send posts text to the session channel.
func (a *Adapter) Send(ctx context.Context, text string) error {
	if err := a.ready(); err != nil {
		return err
	}
	err := a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelMessageSend(a.channelID, text)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w: %v", transport.ErrPublishFailed, err)
	}
	return nil
}

// SetMicrophone reports ErrDeviceUnavailable when enabling; text channels
// carry no audio.
func (a *Adapter) SetMicrophone(ctx context.Context, enabled bool) error {
	if err := a.ready(); err != nil {
		return err
	}
	if enabled {
		return fmt.Errorf("discord: %w: text channel has no audio", transport.ErrDeviceUnavailable)
	}
	return nil
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return transport.ErrClosed
	}
	if a.state != transport.Connected {
		return transport.ErrNotConnected
	}
	return nil
}

// Events returns the inbound event channel.
func (a *Adapter) Events() <-chan transport.Event { return a.events }

// State reports the connection state.
func (a *Adapter) State() transport.ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Disconnect closes the Gateway session.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	if a.state != transport.Connected {
		a.mu.Unlock()
		return nil
	}
	removers := a.teardownLocked()
	sess := a.sess
	a.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	if err := sess.Close(); err != nil {
		return fmt.Errorf("discord: close gateway: %w", err)
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

func (a *Adapter) emitLocked(ev transport.Event) {
	if a.closed {
		return
	}
	select {
	case a.events <- ev:
	default:
		log.Printf("discord: event buffer full, dropping %s event", ev.ID)
	}
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := a.retry.Delay(attempt)
		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
