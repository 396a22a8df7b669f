package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/murmur/internal/transport"
)

// Errors returned by Reconciler operations.
var (
	ErrNotReady      = errors.New("chat: transport not ready")
	ErrAwaitingReply = errors.New("chat: still waiting for the previous reply")
	ErrUploadPending = errors.New("chat: file upload has not finished")
	ErrEmptyMessage  = errors.New("chat: message is empty")
	ErrEmptyTitle    = errors.New("chat: title is empty")
	ErrUnknownChat   = errors.New("chat: unknown chat")
	ErrRejected      = errors.New("chat: backend rejected the change")
)

const (
	defaultGreeting       = "Hello! How can I help you today?"
	defaultTitle          = "New chat"
	defaultTimeoutMessage = "Request timed out. Please try again."
)

// Options holds parameters for creating a Reconciler.
type Options struct {
	Transport      transport.Adapter
	Bridge         Bridge
	LocalIdentity  string // defaults to the adapter's LocalIdentity, if any
	Guest          bool   // persist through AppendGuestMessage only
	ReplyTimeout   time.Duration
	Greeting       string
	DefaultTitle   string
	TimeoutMessage string
	PresetPrompt   string
	Location       *time.Location
	Backoff        transport.Backoff
	Now            func() time.Time
	NewID          func() string
	AfterFunc      AfterFunc
}

// PendingFile is the attachment selected in the composer.
type PendingFile struct {
	Name     string
	Mime     string
	Kind     Kind
	Uploaded bool
	Path     string // backend path once uploaded
}

// Snapshot is a deep copy of the reconciler state for presentation.
type Snapshot struct {
	Chats     []Chat // newest first
	ActiveID  string
	Draft     *Chat
	Waiting   bool
	TimedOut  bool
	Recording bool
	Live      bool
	Input     string
	File      *PendingFile
}

// Current returns the chat the view should show: the active chat, or the
// draft when no chat is active.
func (s Snapshot) Current() *Chat {
	for i := range s.Chats {
		if s.Chats[i].ID == s.ActiveID {
			return &s.Chats[i]
		}
	}
	return s.Draft
}

type agentSeen struct {
	id     string
	text   string
	chatID string
}

type processedEntry struct {
	chatID string
	text   string
}

// persistJob is a message snapshot queued for mirroring.
type persistJob struct {
	chatID string
	title  string
	msg    Message
}

// Reconciler owns the conversation state. Transport events, user actions
// and timer firings all mutate it under one mutex; persistence runs on a
// single background worker and never holds the lock across a network call.
type Reconciler struct {
	transport  transport.Adapter
	bridge     Bridge
	identity   string
	guest      bool
	timeout    time.Duration
	greeting   string
	title      string
	timeoutMsg string
	preset     string
	loc        *time.Location
	backoff    transport.Backoff
	now        func() time.Time
	newID      func() string

	ctx    context.Context
	cancel context.CancelFunc

	watchdog *Watchdog
	mirror   *mirrorQueue
	changes  chan struct{}

	mu           sync.Mutex
	chats        []*Chat
	activeID     string
	draft        *Chat
	lastAgent    *agentSeen
	processed    map[string]processedEntry
	mirrored     map[string]string // chatID/messageID -> last mirrored content
	waiting      bool
	timedOut     bool
	sending      bool
	held         []agentEvent
	watchGen     uint64
	input        string
	file         *PendingFile
	recording    bool
	live         bool
	reconnecting bool

	ensuredMu sync.Mutex
	ensured   map[string]bool
}

// New creates a Reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("chat: transport is required")
	}
	if opts.Bridge == nil {
		return nil, fmt.Errorf("chat: bridge is required")
	}
	identity := opts.LocalIdentity
	if identity == "" {
		if li, ok := opts.Transport.(transport.LocalIdentity); ok {
			identity = li.LocalIdentity()
		}
	}
	if identity == "" {
		return nil, fmt.Errorf("chat: local identity is required")
	}

	r := &Reconciler{
		transport:  opts.Transport,
		bridge:     opts.Bridge,
		identity:   identity,
		guest:      opts.Guest,
		timeout:    opts.ReplyTimeout,
		greeting:   orDefault(opts.Greeting, defaultGreeting),
		title:      orDefault(opts.DefaultTitle, defaultTitle),
		timeoutMsg: orDefault(opts.TimeoutMessage, defaultTimeoutMessage),
		preset:     opts.PresetPrompt,
		loc:        opts.Location,
		backoff:    opts.Backoff,
		now:        opts.Now,
		newID:      opts.NewID,
		mirror:     newMirrorQueue(),
		changes:    make(chan struct{}, 1),
		processed:  make(map[string]processedEntry),
		mirrored:   make(map[string]string),
		ensured:    make(map[string]bool),
	}
	if r.timeout <= 0 {
		r.timeout = DefaultReplyTimeout
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.watchdog = NewWatchdog(opts.AfterFunc, r.onTimeout)
	return r, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Changes delivers a signal after every state change. Signals coalesce.
func (r *Reconciler) Changes() <-chan struct{} { return r.changes }

func (r *Reconciler) notify() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

// Connect joins the transport session.
func (r *Reconciler) Connect(ctx context.Context) error {
	if err := r.transport.Connect(ctx); err != nil {
		return fmt.Errorf("chat: connect: %w", err)
	}
	return nil
}

// Run consumes transport events until ctx is cancelled or the adapter is
// closed.
func (r *Reconciler) Run(ctx context.Context) error {
	events := r.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.HandleEvent(ev)
		}
	}
}

// HandleEvent applies one transport event.
func (r *Reconciler) HandleEvent(ev transport.Event) {
	if err := ev.Validate(); err != nil {
		log.Printf("chat: dropping invalid event: %v", err)
		return
	}
	switch ev.Type {
	case transport.EventConnected:
		r.mu.Lock()
		r.live = true
		r.mu.Unlock()
		r.notify()
		return
	case transport.EventDisconnected:
		r.mu.Lock()
		r.live = false
		r.recording = false
		r.mu.Unlock()
		r.notify()
		return
	}

	at := ev.At
	if at.IsZero() {
		at = r.now()
	}
	switch Classify(ev, r.identity) {
	case OwnTranscription:
		r.IngestOwnTranscription(ev.ID, ev.Text, Live(at))
	case RemoteTranscription:
		r.IngestAgentEvent(ev.ID, ev.Text, ev.Final, at)
	}
}

// Load hydrates the chat list from the backend. Messages are fetched lazily
// when a chat is switched to. Guest sessions have nothing to load.
func (r *Reconciler) Load(ctx context.Context) error {
	if r.guest {
		return nil
	}
	summaries, err := r.bridge.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("chat: load chats: %w", err)
	}

	r.mu.Lock()
	known := make(map[string]bool, len(r.chats))
	for _, c := range r.chats {
		known[c.ID] = true
	}
	var loaded []*Chat
	for _, s := range summaries {
		if known[s.ID] {
			continue
		}
		loaded = append(loaded, &Chat{
			ID:           s.ID,
			Title:        s.Title,
			Preview:      s.Preview,
			LastActivity: s.LastActivity,
			CreatedAt:    s.CreatedAt,
		})
		r.markEnsured(s.ID)
	}
	r.chats = append(r.chats, loaded...)
	r.mu.Unlock()
	r.notify()
	return nil
}

// IngestOwnTranscription places a local speech segment. Redelivery with
// identical text is ignored; a refinement with the same id updates the
// message in the chat that first received it.
func (r *Reconciler) IngestOwnTranscription(id, text string, at Timestamp) {
	r.mu.Lock()
	var jobs []persistJob
	if p, ok := r.processed[id]; ok {
		if p.text == text {
			r.mu.Unlock()
			return
		}
		r.processed[id] = processedEntry{chatID: p.chatID, text: text}
		c := r.chatLocked(p.chatID)
		if c == nil {
			r.mu.Unlock()
			return
		}
		msg := Message{ID: id, Content: text, Role: RoleUser, Kind: KindText, Timestamp: at}
		r.upsertLocked(c, msg)
		jobs = r.mirrorJobLocked(c, c.Messages[c.indexOf(id)], jobs)
	} else {
		msg := Message{ID: id, Content: text, Role: RoleUser, Kind: KindText, Timestamp: at}
		c := r.placeLocked(msg)
		r.processed[id] = processedEntry{chatID: c.ID, text: text}
		jobs = r.mirrorJobLocked(c, c.Messages[c.indexOf(id)], jobs)
	}
	r.mu.Unlock()
	r.submit(jobs)
	r.notify()
}

// agentEvent is an agent reply held back while a send is in flight.
type agentEvent struct {
	id    string
	text  string
	final bool
	at    time.Time
}

// IngestAgentEvent places an agent reply or a refinement of one. Replies
// arriving while a send is being published are held until the user message
// is placed, so they land after it and in the same chat.
func (r *Reconciler) IngestAgentEvent(id, text string, final bool, at time.Time) {
	ev := agentEvent{id: id, text: text, final: final, at: at}
	r.mu.Lock()
	if r.sending {
		r.held = append(r.held, ev)
		r.mu.Unlock()
		return
	}
	jobs, changed := r.applyAgentLocked(ev, nil)
	r.mu.Unlock()
	r.submit(jobs)
	if changed {
		r.notify()
	}
}

// applyAgentLocked applies one agent event and reports whether the
// conversation changed.
func (r *Reconciler) applyAgentLocked(ev agentEvent, jobs []persistJob) ([]persistJob, bool) {
	c := r.chatLocked(r.activeID)
	if c == nil {
		return jobs, false
	}
	if r.lastAgent != nil && r.lastAgent.text == ev.text {
		// A replay never mutates the conversation, but a final event for
		// the accepted message still gets persisted.
		if ev.final && r.lastAgent.id == ev.id {
			if prev := r.chatLocked(r.lastAgent.chatID); prev != nil {
				if i := prev.indexOf(ev.id); i >= 0 {
					jobs = r.mirrorJobLocked(prev, prev.Messages[i], jobs)
				}
			}
		}
		return jobs, false
	}
	if r.timedOut {
		return jobs, false
	}

	r.watchdog.Cancel()
	r.waiting = false
	r.lastAgent = &agentSeen{id: ev.id, text: ev.text, chatID: c.ID}

	if i := c.indexOf(ev.id); i >= 0 && c.Messages[i].Role == RoleAgent && !c.Messages[i].Synthetic {
		c.Messages[i].Content = ev.text
		if i == len(c.Messages)-1 {
			c.touch(c.Messages[i])
		}
	} else {
		msg := Message{ID: ev.id, Content: ev.text, Role: RoleAgent, Kind: KindText, Timestamp: Live(ev.at)}
		c.insert(msg, r.loc)
		c.touch(msg)
	}

	if ev.final {
		jobs = r.mirrorJobLocked(c, c.Messages[c.indexOf(ev.id)], jobs)
	}
	return jobs, true
}

// releaseHeldLocked ends the in-flight send and applies the replies that
// arrived during it.
func (r *Reconciler) releaseHeldLocked(jobs []persistJob) []persistJob {
	held := r.held
	r.held = nil
	r.sending = false
	for _, ev := range held {
		jobs, _ = r.applyAgentLocked(ev, jobs)
	}
	return jobs
}

// Send transmits text (and the uploaded composer file, if any) to the agent
// and records it locally once the transport accepted it.
func (r *Reconciler) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	r.mu.Lock()
	if r.transport.State() != transport.Connected {
		r.mu.Unlock()
		r.startReconnect(false)
		return ErrNotReady
	}
	if r.waiting {
		r.mu.Unlock()
		return ErrAwaitingReply
	}
	var file *PendingFile
	if r.file != nil {
		if !r.file.Uploaded {
			r.mu.Unlock()
			return ErrUploadPending
		}
		cp := *r.file
		file = &cp
	}
	if text == "" && file == nil {
		r.mu.Unlock()
		return ErrEmptyMessage
	}
	r.waiting = true
	r.sending = true
	prevTimedOut := r.timedOut
	r.timedOut = false
	sentAt := r.now()
	r.mu.Unlock()

	wire := DateTag(sentAt, r.loc) + text
	if file != nil {
		wire = strings.TrimSpace(wire + "\n[Attached file: " + file.Name + " (" + file.Path + ")]")
	}
	if err := r.transport.Send(ctx, wire); err != nil {
		r.mu.Lock()
		r.waiting = false
		r.timedOut = prevTimedOut
		jobs := r.releaseHeldLocked(nil)
		r.mu.Unlock()
		r.submit(jobs)
		r.notify()
		if errors.Is(err, transport.ErrPublishFailed) {
			r.startReconnect(true)
		}
		return fmt.Errorf("chat: send: %w", err)
	}

	msg := Message{
		ID:        r.newID(),
		Content:   text,
		Role:      RoleUser,
		Kind:      KindText,
		Timestamp: Live(sentAt),
	}
	if file != nil {
		msg.Kind = file.Kind
		msg.FileName = file.Name
		msg.FilePath = file.Path
	}

	r.mu.Lock()
	c := r.placeLocked(msg)
	r.input = ""
	r.file = nil
	r.watchGen = r.watchdog.Arm(c.ID, r.timeout)
	jobs := r.mirrorJobLocked(c, msg, nil)
	jobs = r.releaseHeldLocked(jobs)
	r.mu.Unlock()
	r.submit(jobs)
	r.notify()
	return nil
}

// DateTag is the context prefix sent ahead of every typed message.
func DateTag(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return "[Current date: " + t.In(loc).Format("2006-01-02") + "] "
}

// onTimeout runs when the watchdog deadline elapses.
func (r *Reconciler) onTimeout(chatID string, gen uint64) {
	r.mu.Lock()
	if gen != r.watchGen || !r.waiting {
		r.mu.Unlock()
		return
	}
	r.timedOut = true
	r.waiting = false
	if c := r.chatLocked(chatID); c != nil {
		msg := Message{
			ID:        r.newID(),
			Content:   r.timeoutMsg,
			Role:      RoleAgent,
			Kind:      KindText,
			Timestamp: Live(r.now()),
			Synthetic: true,
		}
		c.insert(msg, r.loc)
		c.touch(msg)
	}
	r.mu.Unlock()
	r.notify()
}

// Rename changes a chat title once the backend confirms it. Drafts and
// guest chats are renamed locally.
func (r *Reconciler) Rename(ctx context.Context, chatID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	r.mu.Lock()
	committed := r.chatLocked(chatID) != nil
	isDraft := r.draft != nil && r.draft.ID == chatID
	r.mu.Unlock()
	if !committed && !isDraft {
		return fmt.Errorf("%w: %s", ErrUnknownChat, chatID)
	}

	if committed && !r.guest {
		r.mirror.wait()
		ok, err := r.bridge.RenameChat(ctx, chatID, title)
		if err != nil {
			return fmt.Errorf("chat: rename %s: %w", chatID, err)
		}
		if !ok {
			return fmt.Errorf("chat: rename %s: %w", chatID, ErrRejected)
		}
	}

	r.mu.Lock()
	if c := r.chatLocked(chatID); c != nil {
		c.Title = title
	} else if r.draft != nil && r.draft.ID == chatID {
		r.draft.Title = title
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

// Delete removes a chat once the backend confirms it. When the active chat
// is deleted, the chat that takes its place in the list becomes active.
func (r *Reconciler) Delete(ctx context.Context, chatID string) error {
	r.mu.Lock()
	committed := r.indexLocked(chatID) >= 0
	isDraft := r.draft != nil && r.draft.ID == chatID
	r.mu.Unlock()
	if !committed && !isDraft {
		return fmt.Errorf("%w: %s", ErrUnknownChat, chatID)
	}

	if committed && !r.guest {
		r.mirror.wait()
		ok, err := r.bridge.DeleteChat(ctx, chatID)
		if err != nil {
			return fmt.Errorf("chat: delete %s: %w", chatID, err)
		}
		if !ok {
			return fmt.Errorf("chat: delete %s: %w", chatID, ErrRejected)
		}
	}

	r.mu.Lock()
	if r.draft != nil && r.draft.ID == chatID {
		r.draft = nil
	}
	if idx := r.indexLocked(chatID); idx >= 0 {
		r.chats = append(r.chats[:idx], r.chats[idx+1:]...)
		if r.activeID == chatID {
			switch {
			case len(r.chats) == 0:
				r.activeID = ""
			case idx < len(r.chats):
				r.activeID = r.chats[idx].ID
			default:
				r.activeID = r.chats[len(r.chats)-1].ID
			}
		}
	}
	for id, p := range r.processed {
		if p.chatID == chatID {
			delete(r.processed, id)
		}
	}
	prefix := chatID + "/"
	for key := range r.mirrored {
		if strings.HasPrefix(key, prefix) {
			delete(r.mirrored, key)
		}
	}
	r.mu.Unlock()

	r.ensuredMu.Lock()
	delete(r.ensured, chatID)
	r.ensuredMu.Unlock()
	r.notify()
	return nil
}

// SwitchChat makes chatID active, discarding any draft and stopping local
// recording. Messages of a chat loaded from the backend are fetched on first
// switch.
func (r *Reconciler) SwitchChat(ctx context.Context, chatID string) error {
	r.mu.Lock()
	c := r.chatLocked(chatID)
	if c == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownChat, chatID)
	}
	r.draft = nil
	r.activeID = chatID
	wasRecording := r.recording
	r.recording = false
	needLoad := !c.Loaded && !r.guest
	r.mu.Unlock()

	if wasRecording {
		if err := r.transport.SetMicrophone(ctx, false); err != nil {
			log.Printf("chat: stop recording on switch: %v", err)
		}
	}
	if r.transport.State() == transport.Disconnected {
		r.startReconnect(false)
	}
	var err error
	if needLoad {
		err = r.loadMessages(ctx, chatID)
	}
	r.notify()
	return err
}

func (r *Reconciler) loadMessages(ctx context.Context, chatID string) error {
	msgs, err := r.bridge.ListMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("chat: load messages for %s: %w", chatID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.chatLocked(chatID)
	if c == nil {
		return nil
	}
	for _, m := range msgs {
		if c.indexOf(m.ID) >= 0 {
			continue
		}
		c.insert(m, r.loc)
		r.mirrored[mirrorKey(chatID, m.ID)] = m.Content
	}
	c.Loaded = true
	return nil
}

// NewChat opens a fresh draft holding the greeting. With prefill, the
// composer gets the preset prompt.
func (r *Reconciler) NewChat(ctx context.Context, prefill bool) {
	if r.transport.State() != transport.Connected {
		r.startReconnect(false)
	}
	now := r.now()
	r.mu.Lock()
	r.draft = &Chat{
		ID:        r.newID(),
		Title:     r.title,
		CreatedAt: now,
		Draft:     true,
		Loaded:    true,
		Messages: []Message{{
			ID:        r.newID(),
			Content:   r.greeting,
			Role:      RoleAgent,
			Kind:      KindText,
			Timestamp: Live(now),
			Synthetic: true,
		}},
	}
	r.draft.Preview = preview(r.greeting)
	r.draft.LastActivity = Live(now)
	r.activeID = ""
	if prefill && r.preset != "" {
		r.input = r.preset
	}
	r.mu.Unlock()
	r.notify()
}

// StartRecording enables the microphone. The recording flag is only set
// once the device accepted the change.
func (r *Reconciler) StartRecording(ctx context.Context) error {
	return r.setRecording(ctx, true)
}

// StopRecording disables the microphone.
func (r *Reconciler) StopRecording(ctx context.Context) error {
	return r.setRecording(ctx, false)
}

func (r *Reconciler) setRecording(ctx context.Context, on bool) error {
	r.mu.Lock()
	if r.recording == on {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	if err := r.transport.SetMicrophone(ctx, on); err != nil {
		return fmt.Errorf("chat: microphone: %w", err)
	}
	r.mu.Lock()
	r.recording = on
	r.mu.Unlock()
	r.notify()
	return nil
}

// SetInput replaces the composer text.
func (r *Reconciler) SetInput(text string) {
	r.mu.Lock()
	r.input = text
	r.mu.Unlock()
	r.notify()
}

// AttachFile uploads a file for the next Send. Send is refused with
// ErrUploadPending until the upload finishes. A failed upload clears the
// selection.
func (r *Reconciler) AttachFile(ctx context.Context, name, mime string, body io.Reader) error {
	pf := &PendingFile{Name: name, Mime: mime, Kind: KindForFile(name, mime)}
	r.mu.Lock()
	r.file = pf
	r.mu.Unlock()
	r.notify()

	res, err := r.bridge.Upload(ctx, name, mime, body)

	r.mu.Lock()
	current := r.file == pf
	if err != nil {
		if current {
			r.file = nil
		}
	} else if current {
		pf.Uploaded = true
		pf.Path = res.Path
		if res.Name != "" {
			pf.Name = res.Name
		}
	}
	r.mu.Unlock()
	r.notify()
	if err != nil {
		return fmt.Errorf("chat: upload %s: %w", name, err)
	}
	return nil
}

// ClearFile drops the composer attachment.
func (r *Reconciler) ClearFile() {
	r.mu.Lock()
	r.file = nil
	r.mu.Unlock()
	r.notify()
}

// Snapshot returns a deep copy of the current state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Chats:     make([]Chat, 0, len(r.chats)),
		ActiveID:  r.activeID,
		Waiting:   r.waiting,
		TimedOut:  r.timedOut,
		Recording: r.recording,
		Live:      r.live,
		Input:     r.input,
	}
	for _, c := range r.chats {
		s.Chats = append(s.Chats, c.clone())
	}
	if r.draft != nil {
		d := r.draft.clone()
		s.Draft = &d
	}
	if r.file != nil {
		f := *r.file
		s.File = &f
	}
	return s
}

// Flush blocks until all queued persistence work has finished.
func (r *Reconciler) Flush() { r.mirror.wait() }

// Close stops background work. Queued persistence jobs are drained first.
func (r *Reconciler) Close() {
	r.watchdog.Cancel()
	r.cancel()
	r.mirror.close()
}

// placeLocked puts a new message into the right chat: the draft is promoted,
// a first chat is created, the active chat is used, or the most recently
// created chat becomes active.
func (r *Reconciler) placeLocked(msg Message) *Chat {
	if d := r.draft; d != nil {
		d.Draft = false
		d.Title = titleFrom(firstNonEmpty(msg.Content, msg.FileName), r.title)
		d.insert(msg, r.loc)
		d.touch(msg)
		r.draft = nil
		r.chats = append([]*Chat{d}, r.chats...)
		r.activeID = d.ID
		return d
	}
	if len(r.chats) == 0 {
		c := &Chat{
			ID:        r.newID(),
			Title:     titleFrom(firstNonEmpty(msg.Content, msg.FileName), r.title),
			CreatedAt: r.now(),
			Loaded:    true,
		}
		c.insert(msg, r.loc)
		c.touch(msg)
		r.chats = []*Chat{c}
		r.activeID = c.ID
		return c
	}
	c := r.chatLocked(r.activeID)
	if c == nil {
		c = r.chats[0]
		for _, cand := range r.chats[1:] {
			if cand.CreatedAt.After(c.CreatedAt) {
				c = cand
			}
		}
		r.activeID = c.ID
	}
	r.upsertLocked(c, msg)
	return c
}

// upsertLocked updates the message with msg.ID in place, or inserts it.
func (r *Reconciler) upsertLocked(c *Chat, msg Message) {
	if i := c.indexOf(msg.ID); i >= 0 {
		c.Messages[i].Content = msg.Content
		if i == len(c.Messages)-1 {
			c.touch(c.Messages[i])
		}
		return
	}
	c.insert(msg, r.loc)
	c.touch(msg)
}

// mirrorJobLocked queues msg for persistence unless its content was
// already mirrored. Synthetic messages are never persisted.
func (r *Reconciler) mirrorJobLocked(c *Chat, msg Message, jobs []persistJob) []persistJob {
	if msg.Synthetic {
		return jobs
	}
	key := mirrorKey(c.ID, msg.ID)
	if prev, ok := r.mirrored[key]; ok && prev == msg.Content {
		return jobs
	}
	r.mirrored[key] = msg.Content
	return append(jobs, persistJob{chatID: c.ID, title: c.Title, msg: msg})
}

func mirrorKey(chatID, msgID string) string { return chatID + "/" + msgID }

// submit hands jobs to the mirror worker. Must be called without r.mu held.
func (r *Reconciler) submit(jobs []persistJob) {
	for _, j := range jobs {
		r.mirror.enqueue(func(ctx context.Context) { r.persist(ctx, j) })
	}
}

// persist runs on the mirror worker.
func (r *Reconciler) persist(ctx context.Context, j persistJob) {
	if r.guest {
		if err := r.bridge.AppendGuestMessage(ctx, GuestMessage{
			TempID:  j.msg.ID,
			Content: j.msg.Content,
			Role:    j.msg.Role,
			Kind:    j.msg.Kind,
		}); err != nil {
			log.Printf("chat: mirror guest message %s: %v", j.msg.ID, err)
		}
		return
	}

	if !r.isEnsured(j.chatID) {
		if err := r.bridge.EnsureChat(ctx, j.chatID, j.title); err != nil {
			log.Printf("chat: mirror ensure chat %s: %v", j.chatID, err)
			return
		}
		r.markEnsured(j.chatID)
	}
	serverID, err := r.bridge.AppendMessage(ctx, AppendRequest{
		ChatID:    j.chatID,
		MessageID: j.msg.ID,
		Content:   j.msg.Content,
		Role:      j.msg.Role,
		Kind:      j.msg.Kind,
	})
	if err != nil {
		log.Printf("chat: mirror message %s: %v", j.msg.ID, err)
		return
	}
	r.bind(IDBinding{ChatID: j.chatID, LocalID: j.msg.ID, ServerID: serverID})

	if j.msg.FilePath == "" {
		return
	}
	att := Attachment{MessageServerID: serverID, FilePath: j.msg.FilePath, FileName: j.msg.FileName}
	if j.msg.Kind == KindImage {
		err = r.bridge.AttachPicture(ctx, att)
	} else {
		err = r.bridge.AttachDocument(ctx, att)
	}
	if err != nil {
		log.Printf("chat: mirror attachment for %s: %v", j.msg.ID, err)
	}
}

// bind records a server id on the local message it was assigned to.
func (r *Reconciler) bind(b IDBinding) {
	if b.ServerID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.chatLocked(b.ChatID)
	if c == nil {
		return
	}
	if i := c.indexOf(b.LocalID); i >= 0 {
		c.Messages[i].ServerID = b.ServerID
	}
}

func (r *Reconciler) isEnsured(chatID string) bool {
	r.ensuredMu.Lock()
	defer r.ensuredMu.Unlock()
	return r.ensured[chatID]
}

func (r *Reconciler) markEnsured(chatID string) {
	r.ensuredMu.Lock()
	defer r.ensuredMu.Unlock()
	r.ensured[chatID] = true
}

// startReconnect runs a full reconnect in the background unless one is
// already running. Without force, a connected or connecting transport is
// left alone.
func (r *Reconciler) startReconnect(force bool) {
	r.mu.Lock()
	if r.reconnecting || r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	if !force && r.transport.State() != transport.Disconnected {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	r.mu.Unlock()

	go func() {
		if err := transport.Reconnect(r.ctx, r.transport, r.backoff); err != nil {
			log.Printf("chat: reconnect: %v", err)
		}
		r.mu.Lock()
		r.reconnecting = false
		r.mu.Unlock()
		r.notify()
	}()
}

func (r *Reconciler) chatLocked(id string) *Chat {
	if id == "" {
		return nil
	}
	for _, c := range r.chats {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (r *Reconciler) indexLocked(id string) int {
	for i, c := range r.chats {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
