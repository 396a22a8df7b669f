package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/murmur/internal/transport"
)

// fakeBridge records every call and serves canned data.
type fakeBridge struct {
	mu        sync.Mutex
	calls     []string
	summaries []ChatSummary
	messages  map[string][]Message
	appends   []AppendRequest
	guest     []GuestMessage
	attached  []Attachment
	nextID    int

	renameErr error
	renameOK  bool
	deleteErr error
	deleteOK  bool
	appendErr error
	uploadErr error
	upload    chan struct{} // when set, Upload blocks until closed
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		messages: make(map[string][]Message),
		renameOK: true,
		deleteOK: true,
	}
}

func (b *fakeBridge) record(format string, args ...interface{}) {
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *fakeBridge) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBridge) Appends() []AppendRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]AppendRequest(nil), b.appends...)
}

func (b *fakeBridge) ListChats(ctx context.Context) ([]ChatSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("list")
	return append([]ChatSummary(nil), b.summaries...), nil
}

func (b *fakeBridge) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("messages %s", chatID)
	return append([]Message(nil), b.messages[chatID]...), nil
}

func (b *fakeBridge) EnsureChat(ctx context.Context, chatID, title string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("ensure %s %q", chatID, title)
	return nil
}

func (b *fakeBridge) AppendMessage(ctx context.Context, req AppendRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("append %s %s %q", req.ChatID, req.MessageID, req.Content)
	if b.appendErr != nil {
		return "", b.appendErr
	}
	b.appends = append(b.appends, req)
	b.nextID++
	return fmt.Sprintf("srv-%d", b.nextID), nil
}

func (b *fakeBridge) AttachPicture(ctx context.Context, a Attachment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("picture %s %s", a.MessageServerID, a.FileName)
	b.attached = append(b.attached, a)
	return nil
}

func (b *fakeBridge) AttachDocument(ctx context.Context, a Attachment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("document %s %s", a.MessageServerID, a.FileName)
	b.attached = append(b.attached, a)
	return nil
}

func (b *fakeBridge) RenameChat(ctx context.Context, chatID, title string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("rename %s %q", chatID, title)
	return b.renameOK, b.renameErr
}

func (b *fakeBridge) DeleteChat(ctx context.Context, chatID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("delete %s", chatID)
	return b.deleteOK, b.deleteErr
}

func (b *fakeBridge) AppendGuestMessage(ctx context.Context, m GuestMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("guest %s %q", m.TempID, m.Content)
	b.guest = append(b.guest, m)
	return nil
}

func (b *fakeBridge) Upload(ctx context.Context, name, mime string, r io.Reader) (UploadResult, error) {
	b.mu.Lock()
	gate := b.upload
	err := b.uploadErr
	b.record("upload %s", name)
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return UploadResult{}, err
	}
	io.Copy(io.Discard, r)
	return UploadResult{Path: "/uploads/x_" + name, Name: name}, nil
}

// fakeTimer is a manually fired Timer.
type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

func (ft *fakeTimers) count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.timers)
}

func (ft *fakeTimers) last(t *testing.T) *fakeTimer {
	t.Helper()
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.timers) == 0 {
		t.Fatal("no timer was armed")
	}
	return ft.timers[len(ft.timers)-1]
}

// fireLast runs the most recent timer's callback as if its deadline passed,
// even if it was stopped (simulating a callback racing Stop).
func (ft *fakeTimers) fireLast(t *testing.T) {
	t.Helper()
	ft.last(t).f()
}

// fakeClock advances one second on every reading.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	r      *Reconciler
	tr     *transport.MockAdapter
	br     *fakeBridge
	timers *fakeTimers
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	tr := transport.NewMockAdapter("me")
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect mock: %v", err)
	}
	br := newFakeBridge()
	timers := &fakeTimers{}
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	var seq int
	var seqMu sync.Mutex
	opts := Options{
		Transport:    tr,
		Bridge:       br,
		ReplyTimeout: 60 * time.Second,
		Greeting:     "Hello",
		DefaultTitle: "New chat",
		Location:     time.UTC,
		Backoff:      transport.Backoff{Base: time.Millisecond, Max: time.Millisecond, MaxAttempts: 3},
		Now:          clock.Now,
		NewID: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
		AfterFunc: timers.AfterFunc,
	}
	for _, m := range mutate {
		m(&opts)
	}
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		tr.Close()
	})
	return &fixture{r: r, tr: tr, br: br, timers: timers}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBackend = errors.New("backend unavailable")
