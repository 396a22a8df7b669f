package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/murmur/internal/transport"
)

// --- Mock Discord session ---

type mockSession struct {
	mu          sync.Mutex
	openErr     error
	userErr     error
	opens       int
	closes      int
	sent        []string
	sendErrs    []error // consumed in order by ChannelMessageSend
	handlers    map[int]interface{}
	nextID      int
	removeCount int
}

func newMockSession() *mockSession {
	return &mockSession{handlers: make(map[int]interface{})}
}

func (m *mockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	return m.openErr
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	// discordgo reports its own close as a Disconnect event.
	m.dispatch(&discordgo.Disconnect{})
	return nil
}

func (m *mockSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	if m.userErr != nil {
		return nil, m.userErr
	}
	return &discordgo.User{ID: "BOT_USER_ID", Username: "murmur"}, nil
}

func (m *mockSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.sent = append(m.sent, channelID+":"+content)
	return &discordgo.Message{ID: "msg-123"}, nil
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
		m.removeCount++
	}
}

// dispatch invokes every registered handler matching the event type.
func (m *mockSession) dispatch(ev interface{}) {
	m.mu.Lock()
	hs := make([]interface{}, 0, len(m.handlers))
	for _, h := range m.handlers {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	for _, h := range hs {
		switch fn := h.(type) {
		case func(*discordgo.Session, *discordgo.MessageCreate):
			if e, ok := ev.(*discordgo.MessageCreate); ok {
				fn(nil, e)
			}
		case func(*discordgo.Session, *discordgo.MessageUpdate):
			if e, ok := ev.(*discordgo.MessageUpdate); ok {
				fn(nil, e)
			}
		case func(*discordgo.Session, *discordgo.Disconnect):
			if e, ok := ev.(*discordgo.Disconnect); ok {
				fn(nil, e)
			}
		}
	}
}

func (m *mockSession) handlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

func newTestAdapter(t *testing.T) (*Adapter, *mockSession) {
	t.Helper()
	sess := newMockSession()
	a, err := New(AdapterOpts{Session: sess, ChannelID: "C1"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	a.retry = transport.Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond}
	t.Cleanup(func() { a.Close() })
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if ev := next(t, a); ev.Type != transport.EventConnected {
		t.Fatalf("first event = %+v, want connected", ev)
	}
	return a, sess
}

func next(t *testing.T, a *Adapter) transport.Event {
	t.Helper()
	select {
	case ev := <-a.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return transport.Event{}
	}
}

func expectNone(t *testing.T, a *Adapter) {
	t.Helper()
	select {
	case ev, ok := <-a.Events():
		if ok {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
	}
}

// snowflake builds a message ID whose embedded timestamp is at.
func snowflake(at time.Time) string {
	ms := at.UnixMilli() - 1420070400000
	return fmt.Sprint(ms << 22)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(AdapterOpts{ChannelID: "C1"}); err == nil || !strings.Contains(err.Error(), "bot token") {
		t.Errorf("error = %v, want bot token error", err)
	}
	if _, err := New(AdapterOpts{BotToken: "tok"}); err == nil || !strings.Contains(err.Error(), "channel id") {
		t.Errorf("error = %v, want channel id error", err)
	}
}

func TestConnect_Success(t *testing.T) {
	a, sess := newTestAdapter(t)
	if a.LocalIdentity() != "BOT_USER_ID" {
		t.Errorf("identity = %q", a.LocalIdentity())
	}
	if sess.handlerCount() != 3 {
		t.Errorf("handlers = %d, want 3", sess.handlerCount())
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Errorf("second connect: %v", err)
	}
	if sess.opens != 1 {
		t.Errorf("opens = %d, want 1", sess.opens)
	}
}

func TestConnect_Failures(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		sess := newMockSession()
		sess.openErr = errors.New("gateway down")
		a, _ := New(AdapterOpts{Session: sess, ChannelID: "C1"})
		err := a.Connect(context.Background())
		if err == nil || !strings.Contains(err.Error(), "open gateway") {
			t.Fatalf("error = %v", err)
		}
		if a.State() != transport.Disconnected || sess.handlerCount() != 0 {
			t.Errorf("state = %v, handlers = %d", a.State(), sess.handlerCount())
		}
	})

	t.Run("identify", func(t *testing.T) {
		sess := newMockSession()
		sess.userErr = errors.New("401")
		a, _ := New(AdapterOpts{Session: sess, ChannelID: "C1"})
		err := a.Connect(context.Background())
		if err == nil || !strings.Contains(err.Error(), "identify") {
			t.Fatalf("error = %v", err)
		}
		if a.State() != transport.Disconnected || sess.closes != 1 {
			t.Errorf("state = %v, closes = %d", a.State(), sess.closes)
		}
		expectNone(t, a)
	})
}

func TestMessages(t *testing.T) {
	a, sess := newTestAdapter(t)
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	id := snowflake(at)

	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: snowflake(at), ChannelID: "C_OTHER", Content: "elsewhere", Author: &discordgo.User{ID: "U1"},
	}})
	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: id, ChannelID: "C1", Content: "no author",
	}})
	sess.dispatch(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: id, ChannelID: "C1", Content: "Hello", Author: &discordgo.User{ID: "AGENT", Bot: true},
	}})
	sess.dispatch(&discordgo.MessageUpdate{Message: &discordgo.Message{
		ID: id, ChannelID: "C1", Content: "Hello there", Author: &discordgo.User{ID: "AGENT", Bot: true},
	}})

	ev := next(t, a)
	if ev.Kind != transport.KindChat || ev.ID != id || ev.Sender != "AGENT" || ev.Text != "Hello" || !ev.Final {
		t.Errorf("create = %+v", ev)
	}
	if !ev.At.Equal(at) {
		t.Errorf("At = %v, want %v", ev.At, at)
	}
	ev = next(t, a)
	if ev.ID != id || ev.Text != "Hello there" {
		t.Errorf("update = %+v", ev)
	}
	expectNone(t, a)
}

func TestSend(t *testing.T) {
	a, sess := newTestAdapter(t)
	if err := a.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sess.sent) != 1 || sess.sent[0] != "C1:hi" {
		t.Errorf("sent = %v", sess.sent)
	}

	sess.sendErrs = []error{errors.New("missing access")}
	if err := a.Send(context.Background(), "x"); !errors.Is(err, transport.ErrPublishFailed) {
		t.Errorf("err = %v, want ErrPublishFailed", err)
	}
}

func TestSend_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Session: newMockSession(), ChannelID: "C1"})
	if err := a.Send(context.Background(), "x"); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestSetMicrophone(t *testing.T) {
	a, _ := newTestAdapter(t)
	if err := a.SetMicrophone(context.Background(), true); !errors.Is(err, transport.ErrDeviceUnavailable) {
		t.Errorf("err = %v, want ErrDeviceUnavailable", err)
	}
	if err := a.SetMicrophone(context.Background(), false); err != nil {
		t.Errorf("disable: %v", err)
	}
}

func TestGatewayDrop_EmitsDisconnected(t *testing.T) {
	a, sess := newTestAdapter(t)
	sess.dispatch(&discordgo.Disconnect{})

	if ev := next(t, a); ev.Type != transport.EventDisconnected {
		t.Fatalf("event = %+v, want disconnected", ev)
	}
	if a.State() != transport.Disconnected || sess.handlerCount() != 0 {
		t.Errorf("state = %v, handlers = %d", a.State(), sess.handlerCount())
	}

	if err := transport.Reconnect(context.Background(), a, transport.Backoff{Base: time.Millisecond, MaxAttempts: 2}); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if ev := next(t, a); ev.Type != transport.EventConnected {
		t.Errorf("event = %+v, want connected", ev)
	}
	if sess.opens != 2 {
		t.Errorf("opens = %d, want 2", sess.opens)
	}
}

func TestDisconnect_RemovesHandlersBeforeClose(t *testing.T) {
	a, sess := newTestAdapter(t)
	if err := a.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	// Exactly one disconnect event: the session's own close notification
	// must not produce a second one.
	if ev := next(t, a); ev.Type != transport.EventDisconnected {
		t.Errorf("event = %+v", ev)
	}
	expectNone(t, a)
	if sess.closes != 1 || sess.removeCount != 3 {
		t.Errorf("closes = %d, removed = %d", sess.closes, sess.removeCount)
	}
}

func TestClose(t *testing.T) {
	a, _ := newTestAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := a.Connect(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Connect after close = %v, want ErrClosed", err)
	}
	if ev := next(t, a); ev.Type != transport.EventDisconnected {
		t.Errorf("event = %+v", ev)
	}
	if _, ok := <-a.Events(); ok {
		t.Error("events channel should be closed")
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	a, _ := newTestAdapter(t)
	limited := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}

	calls := 0
	err := a.retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls < 3 {
			return limited
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}

	calls = 0
	err = a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return limited
	})
	if err == nil || calls != maxRetries+1 {
		t.Errorf("exhausted: err = %v, calls = %d", err, calls)
	}

	calls = 0
	err = a.retryOnRateLimit(context.Background(), func() error {
		calls++
		return fmt.Errorf("some other error")
	})
	if err == nil || calls != 1 {
		t.Errorf("non rate limit: err = %v, calls = %d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.retry = transport.Backoff{Base: time.Hour, Max: time.Hour}
	err = a.retryOnRateLimit(ctx, func() error { return limited })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
