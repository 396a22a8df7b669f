// Package tui is the terminal chat client. It renders reconciler snapshots
// and turns keystrokes and slash commands into reconciler calls.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zulandar/murmur/internal/chat"
	"github.com/zulandar/murmur/internal/render"
)

// Controller is the part of chat.Reconciler the client drives.
type Controller interface {
	Snapshot() chat.Snapshot
	Changes() <-chan struct{}
	Send(ctx context.Context, text string) error
	NewChat(ctx context.Context, prefill bool)
	SwitchChat(ctx context.Context, chatID string) error
	Rename(ctx context.Context, chatID, title string) error
	Delete(ctx context.Context, chatID string) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	AttachFile(ctx context.Context, name, mime string, body io.Reader) error
}

var _ Controller = (*chat.Reconciler)(nil)

// Options holds parameters for creating a Model.
type Options struct {
	Controller Controller
	Catalog    render.Catalog
	Location   *time.Location
	Now        func() time.Time
	Context    context.Context // bounds every controller call
}

// changedMsg reports that the controller state moved.
type changedMsg struct{}

// doneMsg is the outcome of a controller call.
type doneMsg struct {
	status string
	err    error
	// restore is composer text to put back when the call failed.
	restore string
}

// Model is the bubbletea model of the chat client.
type Model struct {
	ctl     Controller
	ctx     context.Context
	catalog render.Catalog
	loc     *time.Location
	now     func() time.Time
	theme   render.Theme

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model

	snap      chat.Snapshot
	lastInput string
	status    string
	err       error
	showChats bool
	width     int
	height    int
	quitting  bool
}

// New creates a Model.
func New(opts Options) (Model, error) {
	if opts.Controller == nil {
		return Model{}, fmt.Errorf("tui: controller is required")
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Type a message, or /help for commands"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true

	m := Model{
		ctl:      opts.Controller,
		ctx:      ctx,
		catalog:  opts.Catalog,
		loc:      loc,
		now:      now,
		theme:    render.NewTheme(),
		input:    input,
		timeline: timeline,
		spinner:  sp,
		status:   "ready",
	}
	m.refresh()
	return m, nil
}

// Run starts the client on the terminal and blocks until it exits.
func Run(opts Options) error {
	m, err := New(opts)
	if err != nil {
		return err
	}
	progOpts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion()}
	if opts.Context != nil {
		progOpts = append(progOpts, tea.WithContext(opts.Context))
	}
	if _, err := tea.NewProgram(m, progOpts...).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForChange())
}

// waitForChange blocks until the controller reports a state change.
func (m Model) waitForChange() tea.Cmd {
	ch := m.ctl.Changes()
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
	case changedMsg:
		m.refresh()
		cmds = append(cmds, m.waitForChange())
	case doneMsg:
		m.err = msg.err
		if msg.status != "" {
			m.status = msg.status
		}
		m.refresh()
		if msg.err != nil && msg.restore != "" && m.input.Value() == "" {
			m.input.SetValue(msg.restore)
			m.input.CursorEnd()
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			line := m.input.Value()
			if strings.TrimSpace(line) == "" {
				return m, nil
			}
			m.input.SetValue("")
			var cmd tea.Cmd
			m, cmd = m.submit(line)
			return m, cmd
		case "pgup", "pgdown", "ctrl+u", "ctrl+d":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// submit runs one composer line.
func (m Model) submit(line string) (Model, tea.Cmd) {
	c, err := ParseCommand(line)
	if err != nil {
		m.err = err
		return m, nil
	}
	m.err = nil
	ctx, ctl := m.ctx, m.ctl

	switch c.Op {
	case OpSend:
		return m, keepOnError(line, call("sent", func() error { return ctl.Send(ctx, c.Arg) }))
	case OpNew:
		ctl.NewChat(ctx, c.Arg == "")
		m.showChats = false
		m.refresh()
		if c.Arg == "" {
			m.status = "new chat"
			return m, nil
		}
		return m, keepOnError(c.Arg, call("sent", func() error { return ctl.Send(ctx, c.Arg) }))
	case OpChats:
		m.showChats = !m.showChats
		m.resize()
		return m, nil
	case OpSwitch:
		if c.Index > len(m.snap.Chats) {
			m.err = fmt.Errorf("no chat %d (have %d)", c.Index, len(m.snap.Chats))
			return m, nil
		}
		target := m.snap.Chats[c.Index-1]
		m.showChats = false
		m.resize()
		return m, call("switched to "+target.Title, func() error { return ctl.SwitchChat(ctx, target.ID) })
	case OpRename:
		id := m.snap.ActiveID
		if id == "" {
			m.err = fmt.Errorf("no active chat to rename")
			return m, nil
		}
		return m, call("renamed", func() error { return ctl.Rename(ctx, id, c.Arg) })
	case OpDelete:
		id := m.snap.ActiveID
		if id == "" {
			m.err = fmt.Errorf("no active chat to delete")
			return m, nil
		}
		return m, call("deleted", func() error { return ctl.Delete(ctx, id) })
	case OpMic:
		if c.On {
			return m, call("microphone on", func() error { return ctl.StartRecording(ctx) })
		}
		return m, call("microphone off", func() error { return ctl.StopRecording(ctx) })
	case OpAttach:
		path := c.Arg
		return m, call("attached "+filepath.Base(path), func() error { return attach(ctx, ctl, path) })
	case OpHelp:
		m.status = helpText
		return m, nil
	case OpQuit:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// call runs fn off the update loop and reports its outcome.
func call(status string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return doneMsg{err: err}
		}
		return doneMsg{status: status}
	}
}

// keepOnError makes a failed send hand its text back to the composer.
func keepOnError(text string, cmd tea.Cmd) tea.Cmd {
	return func() tea.Msg {
		msg := cmd()
		if done, ok := msg.(doneMsg); ok && done.err != nil {
			done.restore = text
			return done
		}
		return msg
	}
}

func attach(ctx context.Context, ctl Controller, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tui: attach: %w", err)
	}
	defer f.Close()
	name := filepath.Base(path)
	return ctl.AttachFile(ctx, name, mime.TypeByExtension(filepath.Ext(name)), f)
}

// refresh pulls a fresh snapshot and re-renders the timeline.
func (m *Model) refresh() {
	m.snap = m.ctl.Snapshot()
	if m.snap.Input != m.lastInput {
		m.lastInput = m.snap.Input
		m.input.SetValue(m.snap.Input)
		m.input.CursorEnd()
	}
	m.renderTimeline()
}

func (m *Model) renderTimeline() {
	atBottom := m.timeline.AtBottom()
	m.timeline.SetContent(m.theme.Timeline(m.snap.Current(), m.catalog, m.loc, m.now(), m.timeline.Width))
	if atBottom {
		m.timeline.GotoBottom()
	}
}

func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	reserved := 6 // header, input pane, status
	if m.showChats {
		reserved += len(m.snap.Chats) + 1
	}
	m.timeline.Width = m.width
	m.timeline.Height = max(3, m.height-reserved)
	m.input.Width = max(10, m.width-6)
	m.renderTimeline()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	parts := []string{m.header(), m.timeline.View()}
	if m.showChats {
		parts = append(parts, m.theme.ChatList(m.snap.Chats, m.snap.ActiveID))
	}
	parts = append(parts, m.theme.InputPane.Render(m.input.View()), m.statusLine())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) header() string {
	title := "murmur"
	if c := m.snap.Current(); c != nil && c.Title != "" {
		title += " · " + c.Title
	}
	var flags []string
	if m.snap.Live {
		flags = append(flags, "live")
	} else {
		flags = append(flags, "offline")
	}
	if m.snap.Recording {
		flags = append(flags, "● rec")
	}
	if m.snap.TimedOut {
		flags = append(flags, "timed out")
	}
	return m.theme.Header.Render(title + "  [" + strings.Join(flags, " · ") + "]")
}

func (m Model) statusLine() string {
	if m.err != nil {
		return m.theme.Error.Render(m.err.Error())
	}
	line := m.status
	if f := m.snap.File; f != nil {
		state := "uploading"
		if f.Uploaded {
			state = "ready"
		}
		line = fmt.Sprintf("📎 %s (%s) · %s", f.Name, state, line)
	}
	if m.snap.Waiting {
		return m.spinner.View() + " " + m.theme.Status.Render("waiting for reply · "+line)
	}
	return m.theme.Status.Render(line)
}
