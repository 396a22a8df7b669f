package chat

import (
	"context"
	"io"
	"time"
)

// Bridge mirrors conversation state to durable storage. Implementations
// live in package bridge.
type Bridge interface {
	ListChats(ctx context.Context) ([]ChatSummary, error)
	ListMessages(ctx context.Context, chatID string) ([]Message, error)
	EnsureChat(ctx context.Context, chatID, title string) error
	AppendMessage(ctx context.Context, req AppendRequest) (serverID string, err error)
	AttachPicture(ctx context.Context, a Attachment) error
	AttachDocument(ctx context.Context, a Attachment) error
	RenameChat(ctx context.Context, chatID, title string) (bool, error)
	DeleteChat(ctx context.Context, chatID string) (bool, error)
	AppendGuestMessage(ctx context.Context, m GuestMessage) error
	Upload(ctx context.Context, name, mime string, r io.Reader) (UploadResult, error)
}

// ChatSummary is a persisted chat without its messages.
type ChatSummary struct {
	ID           string
	Title        string
	Preview      string
	LastActivity Timestamp
	CreatedAt    time.Time
}

// AppendRequest describes a message to persist.
type AppendRequest struct {
	ChatID    string
	MessageID string
	Content   string
	Role      Role
	Kind      Kind
}

// Attachment links an uploaded file to a persisted message.
type Attachment struct {
	MessageServerID string
	FilePath        string
	FileName        string
	Description     string
}

// GuestMessage is a message from a session without an authenticated user.
type GuestMessage struct {
	TempID  string
	Content string
	Role    Role
	Kind    Kind
}

// UploadResult is where the backend stored an uploaded file.
type UploadResult struct {
	Path string
	Name string
}

// IDBinding records the server id assigned to a client message.
type IDBinding struct {
	ChatID   string
	LocalID  string
	ServerID string
}
