// Package chat reconciles typed messages, voice transcriptions and agent
// replies into ordered, persisted conversations.
package chat

import (
	"path/filepath"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role int

const (
	RoleUser Role = iota
	RoleAgent
)

func (r Role) String() string {
	if r == RoleAgent {
		return "agent"
	}
	return "user"
}

// Kind is the content kind of a message. Values are persisted.
type Kind int

const (
	KindText Kind = iota
	KindImage
	KindPlainText
	KindPDF
	KindDoc
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindPlainText:
		return "plain-text-file"
	case KindPDF:
		return "pdf"
	case KindDoc:
		return "doc"
	default:
		return "unknown"
	}
}

// IsFile reports whether the kind is backed by an uploaded file.
func (k Kind) IsFile() bool { return k != KindText }

// KindForFile maps a file name and MIME type to a message kind. The MIME
// type wins when it is conclusive.
func KindForFile(name, mime string) Kind {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case mime == "text/plain", mime == "text/markdown", mime == "text/csv":
		return KindPlainText
	case mime == "application/pdf":
		return KindPDF
	case mime == "application/msword",
		mime == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return KindDoc
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return KindImage
	case ".txt", ".md", ".csv":
		return KindPlainText
	case ".pdf":
		return KindPDF
	case ".doc", ".docx":
		return KindDoc
	default:
		return KindUnknown
	}
}

// Message is one entry of a conversation.
type Message struct {
	ID        string // client id: transcription id or generated uuid
	ServerID  string // assigned by the backend once persisted
	Content   string // raw text with show_image directives preserved
	Role      Role
	Kind      Kind
	FileName  string
	FilePath  string // backend path of the uploaded file, if any
	Timestamp Timestamp
	Synthetic bool // generated locally (timeout notices); never persisted
}

// Chat is a conversation.
type Chat struct {
	ID           string
	Title        string
	Messages     []Message
	Preview      string
	LastActivity Timestamp
	CreatedAt    time.Time
	Draft        bool // provisional greeting chat, not yet persisted
	Loaded       bool // messages fetched from the backend
}

// clone returns a deep copy of the chat.
func (c *Chat) clone() Chat {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	return cp
}

// indexOf returns the position of the message with the given id, or -1.
func (c *Chat) indexOf(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// insert places m at its wall-clock position, after any messages with an
// equal or earlier time.
func (c *Chat) insert(m Message, loc *time.Location) {
	w := m.Timestamp.Wall(loc)
	i := len(c.Messages)
	for i > 0 && w.Before(c.Messages[i-1].Timestamp.Wall(loc)) {
		i--
	}
	c.Messages = append(c.Messages, Message{})
	copy(c.Messages[i+1:], c.Messages[i:])
	c.Messages[i] = m
}

// touch refreshes the preview and activity timestamp from m.
func (c *Chat) touch(m Message) {
	c.Preview = preview(m.Content)
	c.LastActivity = m.Timestamp
}

const (
	previewLen = 80
	titleLen   = 30
)

func preview(s string) string {
	return firstRunes(strings.TrimSpace(s), previewLen)
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// titleFrom derives a chat title from the first message.
func titleFrom(text, fallback string) string {
	t := firstRunes(strings.TrimSpace(text), titleLen)
	if t == "" {
		return fallback
	}
	return t
}
