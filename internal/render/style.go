package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zulandar/murmur/internal/chat"
)

// Theme holds the terminal styles.
type Theme struct {
	Header    lipgloss.Style
	DateRule  lipgloss.Style
	User      lipgloss.Style
	Agent     lipgloss.Style
	Notice    lipgloss.Style
	Body      lipgloss.Style
	Image     lipgloss.Style
	File      lipgloss.Style
	Status    lipgloss.Style
	Error     lipgloss.Style
	Muted     lipgloss.Style
	Selected  lipgloss.Style
	InputPane lipgloss.Style
}

// NewTheme returns the default theme.
func NewTheme() Theme {
	accent := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")

	return Theme{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderBottom(true),
		DateRule: lipgloss.NewStyle().Foreground(muted).Italic(true),
		User:     lipgloss.NewStyle().Foreground(mint).Bold(true),
		Agent:    lipgloss.NewStyle().Foreground(accent).Bold(true),
		Notice:   lipgloss.NewStyle().Foreground(pink).Italic(true),
		Body:     lipgloss.NewStyle().PaddingLeft(2),
		Image:    lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166")).PaddingLeft(2),
		File:     lipgloss.NewStyle().Foreground(muted).PaddingLeft(2),
		Status:   lipgloss.NewStyle().Foreground(accent),
		Error:    lipgloss.NewStyle().Foreground(pink).Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(muted),
		Selected: lipgloss.NewStyle().Foreground(mint).Bold(true),
		InputPane: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accent),
	}
}

// Timeline renders a chat's messages grouped by date. Agent messages have
// their image directives resolved against catalog.
func (t Theme) Timeline(c *chat.Chat, catalog Catalog, loc *time.Location, now time.Time, width int) string {
	if c == nil {
		return t.Muted.Render("No chat selected. Type a message or /new to start.")
	}
	var b strings.Builder
	for i, g := range GroupByDate(c.Messages, loc) {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(t.DateRule.Render("── " + DateLabel(g.Date, now) + " ──"))
		b.WriteString("\n")
		for _, m := range g.Messages {
			b.WriteString(t.Message(m, catalog, loc, width))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Message renders one message bubble.
func (t Theme) Message(m chat.Message, catalog Catalog, loc *time.Location, width int) string {
	var who string
	switch {
	case m.Synthetic:
		who = t.Notice.Render("agent")
	case m.Role == chat.RoleUser:
		who = t.User.Render("you")
	default:
		who = t.Agent.Render("agent")
	}
	stamp := ""
	if w := m.Timestamp.Wall(loc); !w.IsZero() {
		stamp = t.Muted.Render(" " + w.Format("15:04"))
	}

	lines := []string{who + stamp}
	body := m.Content
	var images []string
	if m.Role == chat.RoleAgent {
		d := ParseImageDirective(m.Content, catalog)
		body, images = d.Text, d.Images
	}
	if m.Kind.IsFile() && m.FileName != "" {
		lines = append(lines, t.File.Render(fmt.Sprintf("[%s] %s", m.Kind, m.FileName)))
	}
	if body != "" {
		style := t.Body
		if width > 4 {
			style = style.Width(width - 2)
		}
		lines = append(lines, style.Render(body))
	}
	for _, img := range images {
		lines = append(lines, t.Image.Render("🖼 "+img))
	}
	return strings.Join(lines, "\n")
}

// ChatList renders the chat summaries, numbered from 1, marking active.
func (t Theme) ChatList(chats []chat.Chat, active string) string {
	if len(chats) == 0 {
		return t.Muted.Render("No chats yet.")
	}
	var b strings.Builder
	for i, c := range chats {
		line := fmt.Sprintf("%2d. %s", i+1, c.Title)
		if c.Preview != "" {
			line += t.Muted.Render(" · " + c.Preview)
		}
		if c.ID == active {
			line = t.Selected.Render("▸ ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
