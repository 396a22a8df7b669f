package models

import "time"

// Source flags stored on messages.
const (
	SourceUser  = 0
	SourceAgent = 1
)

// Chat is a committed conversation owned by a user. The ID is assigned by
// the client when the chat is first created.
type Chat struct {
	ID           string    `gorm:"primaryKey;size:64"`
	UserID       uint      `gorm:"not null;index"`
	Title        string    `gorm:"size:256;not null"`
	LastMessage  string    `gorm:"type:text"`
	LastActivity time.Time `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Messages []ChatMessage `gorm:"foreignKey:ChatID"`
}

// ChatMessage is a single persisted message. ClientID is the id the client
// used for the message (uuid or transcription id); ID is the server id.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	ChatID    string    `gorm:"size:64;not null;uniqueIndex:idx_chat_client"`
	ClientID  string    `gorm:"size:64;not null;uniqueIndex:idx_chat_client"`
	Content   string    `gorm:"type:mediumtext;not null"`
	Source    int       `gorm:"not null"` // SourceUser or SourceAgent
	Kind      int       `gorm:"default:0"`
	CreatedAt time.Time `gorm:"index"`

	Pictures  []Picture  `gorm:"foreignKey:MessageID"`
	Documents []Document `gorm:"foreignKey:MessageID"`
}

// Picture is image metadata attached to a message.
type Picture struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	MessageID   uint   `gorm:"not null;index"`
	FilePath    string `gorm:"size:512;not null"`
	FileName    string `gorm:"size:256"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
}

// Document is non-image file metadata attached to a message.
type Document struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	MessageID   uint   `gorm:"not null;index"`
	FilePath    string `gorm:"size:512;not null"`
	FileName    string `gorm:"size:256"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
}

// GuestMessage stores messages from unauthenticated sessions under the
// client's temporary id. Rows are purged by the retention job.
type GuestMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	TempID    string    `gorm:"size:64;not null;index"`
	Content   string    `gorm:"type:mediumtext;not null"`
	Source    int       `gorm:"not null"`
	Kind      int       `gorm:"default:0"`
	CreatedAt time.Time `gorm:"index"`
}
