// Package slack implements the transport Adapter for a Slack channel using
// Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/zulandar/murmur/internal/transport"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3

	subtypeChanged = "message_changed"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken  string // xapp-... Slack app-level token for Socket Mode
	BotToken  string // xoxb-... Slack bot token
	ChannelID string // the channel the agent session lives in
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// Adapter implements transport.Adapter for one Slack channel.
type Adapter struct {
	appToken  string
	botToken  string
	channelID string
	client    slackClient
	socket    socketClient
	injected  bool // socket was injected and is reused across connects

	mu        sync.Mutex
	state     transport.ConnState
	botUserID string
	gen       int // bumped per connect; stale run loops compare against it
	cancel    context.CancelFunc
	closed    bool
	events    chan transport.Event
}

var (
	_ transport.Adapter       = (*Adapter)(nil)
	_ transport.LocalIdentity = (*Adapter)(nil)
)

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel id is required")
	}
	return &Adapter{
		appToken:  opts.AppToken,
		botToken:  opts.BotToken,
		channelID: opts.ChannelID,
		client:    opts.Client,
		socket:    opts.Socket,
		injected:  opts.Socket != nil,
		events:    make(chan transport.Event, 100),
	}, nil
}

// LocalIdentity returns the bot's Slack user ID (available after Connect).
func (a *Adapter) LocalIdentity() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// Connect authenticates and starts the Socket Mode event pump.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return transport.ErrClosed
	}
	if a.state != transport.Disconnected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		a.client = slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
	}
	if !a.injected {
		api, ok := a.client.(*slackapi.Client)
		if !ok {
			return fmt.Errorf("slack: socket mode needs a real api client")
		}
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.gen++
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.state = transport.Connected
	a.emitLocked(transport.Event{Type: transport.EventConnected, At: time.Now()})

	go a.run(runCtx, a.gen, a.socket)
	go a.pumpEvents(runCtx, a.socket)
	return nil
}

// run drives the socket until it fails or the connection is torn down. The
// adapter never retries on its own; a failure surfaces as EventDisconnected.
func (a *Adapter) run(ctx context.Context, gen int, socket socketClient) {
	err := socket.RunContext(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Printf("slack: socket mode stopped: %v", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != gen || a.state == transport.Disconnected {
		return
	}
	a.teardownLocked()
}

// pumpEvents reads Socket Mode events and converts them to transport events.
func (a *Adapter) pumpEvents(ctx context.Context, socket socketClient) {
	events := socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt, socket)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event, socket socketClient) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			socket.Ack(*evt.Request)
		}
		if eventsAPIEvent.Type != slackevents.CallbackEvent {
			return
		}
		if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			a.handleMessage(ev)
		}

	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)
	}
}

// handleMessage converts a channel message to a chat event. Edits become
// refinements of the original message, keyed by its timestamp.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	if ev.Channel != a.channelID {
		return
	}

	var out transport.Event
	switch ev.SubType {
	case "":
		out = transport.Event{
			ID:     ev.TimeStamp,
			Sender: senderOf(ev.User, ev.BotID),
			Text:   ev.Text,
			At:     parseSlackTimestamp(ev.TimeStamp),
		}
	case subtypeChanged:
		if ev.Message == nil {
			return
		}
		out = transport.Event{
			ID:     ev.Message.Timestamp,
			Sender: senderOf(ev.Message.User, ev.Message.BotID),
			Text:   ev.Message.Text,
			At:     parseSlackTimestamp(ev.Message.Timestamp),
		}
	default:
		return
	}
	out.Type = transport.EventMessage
	out.Kind = transport.KindChat
	out.Final = true

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == transport.Connected {
		a.emitLocked(out)
	}
}

func senderOf(user, botID string) string {
	if user != "" {
		return user
	}
	return botID
}

// Send posts text to the session channel.
func (a *Adapter) Send(ctx context.Context, text string) error {
	if err := a.ready(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessage(a.channelID, slackapi.MsgOptionText(text, false))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w: %v", transport.ErrPublishFailed, err)
	}
	return nil
}

// SetMicrophone reports ErrDeviceUnavailable when enabling; Slack channels
// carry no audio.
func (a *Adapter) SetMicrophone(ctx context.Context, enabled bool) error {
	if err := a.ready(); err != nil {
		return err
	}
	if enabled {
		return fmt.Errorf("slack: %w: channel has no audio", transport.ErrDeviceUnavailable)
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

// Disconnect stops the Socket Mode client.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == transport.Disconnected {
		return nil
	}
	a.teardownLocked()
	return nil
}

func (a *Adapter) teardownLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.state = transport.Disconnected
	a.emitLocked(transport.Event{Type: transport.EventDisconnected, At: time.Now()})
}

// Close shuts down the adapter and closes the event channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	if a.state != transport.Disconnected {
		a.teardownLocked()
	}
	a.closed = true
	close(a.events)
	return nil
}

func (a *Adapter) emitLocked(ev transport.Event) {
	if a.closed {
		return
	}
	select {
	case a.events <- ev:
	default:
		log.Printf("slack: event buffer full, dropping %s event", ev.ID)
	}
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// parseSlackTimestamp converts a Slack timestamp ("1234567890.123456") to a
// time.Time with microsecond precision.
func parseSlackTimestamp(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var usec int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		usec, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(sec, usec*int64(time.Microsecond))
}
