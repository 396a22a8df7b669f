// Package store provides relational persistence for users, chats, messages
// and attachments.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/murmur/internal/models"
	"gorm.io/gorm"
)

// Sentinel errors returned by Store operations.
var (
	ErrNotFound  = errors.New("store: not found")
	ErrForbidden = errors.New("store: chat belongs to another user")
	ErrInvalid   = errors.New("store: invalid input")
)

// previewLen bounds the last-message preview stored on a chat.
const previewLen = 80

// Store wraps a gorm connection with the chat backend operations.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB  *gorm.DB
	Now func() time.Time // defaults to time.Now
}

// New creates a Store.
func New(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: opts.DB, now: now}, nil
}

// DB exposes the underlying connection for callers that need raw queries.
func (s *Store) DB() *gorm.DB { return s.db }

// AppendInput describes a message to append or refine.
type AppendInput struct {
	ClientID string
	ChatID   string
	Content  string
	Source   int
	Kind     int
}

// FileInput describes an attachment for a persisted message.
type FileInput struct {
	FilePath    string
	FileName    string
	Description string
}

// GuestInput describes a message from an unauthenticated session.
type GuestInput struct {
	TempID  string
	Content string
	Source  int
	Kind    int
}

// CreateUser adds a user with a freshly generated API token.
func (s *Store) CreateUser(name, email string, admin bool) (*models.User, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: user name is required", ErrInvalid)
	}
	u := models.User{
		Name:     name,
		Email:    email,
		APIToken: strings.ReplaceAll(uuid.NewString(), "-", ""),
		IsAdmin:  admin,
	}
	if err := s.db.Create(&u).Error; err != nil {
		return nil, fmt.Errorf("store: create user %q: %w", name, err)
	}
	return &u, nil
}

// UserByToken resolves an API token to its user.
func (s *Store) UserByToken(token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var u models.User
	err := s.db.Where("api_token = ?", token).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: user by token: %w", err)
	}
	return &u, nil
}

// UserSummary is a user row with its chat count, for the admin console.
type UserSummary struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	ChatCount int64     `json:"chat_count"`
	CreatedAt time.Time `json:"created_at"`
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers() ([]UserSummary, error) {
	var users []models.User
	if err := s.db.Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	var counts []struct {
		UserID uint
		N      int64
	}
	if err := s.db.Model(&models.Chat{}).Select("user_id, COUNT(*) AS n").
		Group("user_id").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("store: count chats: %w", err)
	}
	byUser := make(map[uint]int64, len(counts))
	for _, c := range counts {
		byUser[c.UserID] = c.N
	}
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, UserSummary{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			IsAdmin:   u.IsAdmin,
			ChatCount: byUser[u.ID],
			CreatedAt: u.CreatedAt,
		})
	}
	return out, nil
}

// DeleteUser removes a user and everything the user owns.
func (s *Store) DeleteUser(userID uint) (bool, error) {
	var deleted bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var chatIDs []string
		if err := tx.Model(&models.Chat{}).Where("user_id = ?", userID).Pluck("id", &chatIDs).Error; err != nil {
			return err
		}
		if err := deleteChatRows(tx, chatIDs); err != nil {
			return err
		}
		res := tx.Delete(&models.User{}, userID)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store: delete user %d: %w", userID, err)
	}
	return deleted, nil
}

// ListChats returns a user's chats, most recent activity first.
func (s *Store) ListChats(userID uint) ([]models.Chat, error) {
	var chats []models.Chat
	if err := s.db.Where("user_id = ?", userID).
		Order("last_activity DESC, created_at DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("store: list chats for user %d: %w", userID, err)
	}
	return chats, nil
}

// ChatSummary is a chat row joined with its owner, for the admin console.
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UserID       uint      `json:"user_id"`
	UserName     string    `json:"user_name"`
	MessageCount int64     `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}

// ListAllChats returns every chat across users, most recent activity first.
func (s *Store) ListAllChats() ([]ChatSummary, error) {
	var chats []models.Chat
	if err := s.db.Order("last_activity DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("store: list all chats: %w", err)
	}
	var users []models.User
	if err := s.db.Select("id, name").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("store: list all chats: %w", err)
	}
	names := make(map[uint]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	var counts []struct {
		ChatID string
		N      int64
	}
	if err := s.db.Model(&models.ChatMessage{}).Select("chat_id, COUNT(*) AS n").
		Group("chat_id").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("store: count messages: %w", err)
	}
	byChat := make(map[string]int64, len(counts))
	for _, c := range counts {
		byChat[c.ChatID] = c.N
	}
	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, ChatSummary{
			ID:           c.ID,
			Title:        c.Title,
			UserID:       c.UserID,
			UserName:     names[c.UserID],
			MessageCount: byChat[c.ID],
			LastActivity: c.LastActivity,
		})
	}
	return out, nil
}

// EnsureChat creates the chat if it does not exist, or touches its activity
// timestamp if the user already owns it. Existing titles are kept.
func (s *Store) EnsureChat(userID uint, chatID, title string) (*models.Chat, error) {
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat id is required", ErrInvalid)
	}
	now := s.now()
	var chat models.Chat
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", chatID).First(&chat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			chat = models.Chat{
				ID:           chatID,
				UserID:       userID,
				Title:        title,
				LastActivity: now,
			}
			return tx.Create(&chat).Error
		}
		if err != nil {
			return err
		}
		if chat.UserID != userID {
			return ErrForbidden
		}
		chat.LastActivity = now
		return tx.Model(&chat).Update("last_activity", now).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store: ensure chat %s: %w", chatID, err)
	}
	return &chat, nil
}

// RenameChat sets a new title. Returns false if the user owns no such chat.
func (s *Store) RenameChat(userID uint, chatID, title string) (bool, error) {
	if strings.TrimSpace(title) == "" {
		return false, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	res := s.db.Model(&models.Chat{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Update("title", title)
	if res.Error != nil {
		return false, fmt.Errorf("store: rename chat %s: %w", chatID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteChat removes a user's chat and all of its messages.
func (s *Store) DeleteChat(userID uint, chatID string) (bool, error) {
	return s.deleteChat(chatID, "id = ? AND user_id = ?", chatID, userID)
}

// DeleteAnyChat removes a chat regardless of owner (admin only).
func (s *Store) DeleteAnyChat(chatID string) (bool, error) {
	return s.deleteChat(chatID, "id = ?", chatID)
}

func (s *Store) deleteChat(chatID, where string, args ...interface{}) (bool, error) {
	var deleted bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Chat{}).Where(where, args...).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		if err := deleteChatRows(tx, []string{chatID}); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store: delete chat %s: %w", chatID, err)
	}
	return deleted, nil
}

// deleteChatRows removes chats and their messages and attachments.
func deleteChatRows(tx *gorm.DB, chatIDs []string) error {
	if len(chatIDs) == 0 {
		return nil
	}
	msgIDs := tx.Model(&models.ChatMessage{}).Select("id").Where("chat_id IN ?", chatIDs)
	if err := tx.Where("message_id IN (?)", msgIDs).Delete(&models.Picture{}).Error; err != nil {
		return err
	}
	if err := tx.Where("message_id IN (?)", msgIDs).Delete(&models.Document{}).Error; err != nil {
		return err
	}
	if err := tx.Where("chat_id IN ?", chatIDs).Delete(&models.ChatMessage{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", chatIDs).Delete(&models.Chat{}).Error
}

// ListMessages returns a chat's messages in chronological order.
func (s *Store) ListMessages(userID uint, chatID string) ([]models.ChatMessage, error) {
	if _, err := s.ownedChat(s.db, userID, chatID); err != nil {
		return nil, err
	}
	var msgs []models.ChatMessage
	if err := s.db.Preload("Pictures").Preload("Documents").
		Where("chat_id = ?", chatID).
		Order("created_at, id").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("store: list messages for %s: %w", chatID, err)
	}
	return msgs, nil
}

// AppendMessage stores a message, or refines the content of an existing one
// with the same client id in the same chat. The chat's preview and activity
// timestamp follow the message.
func (s *Store) AppendMessage(userID uint, in AppendInput) (*models.ChatMessage, error) {
	if in.ChatID == "" || in.ClientID == "" {
		return nil, fmt.Errorf("%w: chat id and message id are required", ErrInvalid)
	}
	now := s.now()
	var msg models.ChatMessage
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.ownedChat(tx, userID, in.ChatID); err != nil {
			return err
		}
		err := tx.Where("chat_id = ? AND client_id = ?", in.ChatID, in.ClientID).First(&msg).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			msg = models.ChatMessage{
				ChatID:    in.ChatID,
				ClientID:  in.ClientID,
				Content:   in.Content,
				Source:    in.Source,
				Kind:      in.Kind,
				CreatedAt: now,
			}
			if err := tx.Create(&msg).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			msg.Content = in.Content
			msg.Kind = in.Kind
			if err := tx.Model(&msg).Updates(map[string]interface{}{
				"content": in.Content,
				"kind":    in.Kind,
			}).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Chat{}).Where("id = ?", in.ChatID).Updates(map[string]interface{}{
			"last_message":  preview(in.Content),
			"last_activity": now,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store: append message %s: %w", in.ClientID, err)
	}
	return &msg, nil
}

// DeleteMessage removes one of the user's messages and its attachments.
func (s *Store) DeleteMessage(userID uint, messageID uint) (bool, error) {
	var deleted bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.ownedMessage(tx, userID, messageID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("message_id = ?", messageID).Delete(&models.Picture{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id = ?", messageID).Delete(&models.Document{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.ChatMessage{}, messageID)
		deleted = res.RowsAffected > 0
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("store: delete message %d: %w", messageID, err)
	}
	return deleted, nil
}

// AttachPicture records image metadata for a persisted message.
func (s *Store) AttachPicture(userID uint, messageID uint, in FileInput) (*models.Picture, error) {
	if _, err := s.ownedMessage(s.db, userID, messageID); err != nil {
		return nil, err
	}
	p := models.Picture{
		MessageID:   messageID,
		FilePath:    in.FilePath,
		FileName:    in.FileName,
		Description: in.Description,
	}
	if err := s.db.Create(&p).Error; err != nil {
		return nil, fmt.Errorf("store: attach picture to %d: %w", messageID, err)
	}
	return &p, nil
}

// AttachDocument records document metadata for a persisted message.
func (s *Store) AttachDocument(userID uint, messageID uint, in FileInput) (*models.Document, error) {
	if _, err := s.ownedMessage(s.db, userID, messageID); err != nil {
		return nil, err
	}
	d := models.Document{
		MessageID:   messageID,
		FilePath:    in.FilePath,
		FileName:    in.FileName,
		Description: in.Description,
	}
	if err := s.db.Create(&d).Error; err != nil {
		return nil, fmt.Errorf("store: attach document to %d: %w", messageID, err)
	}
	return &d, nil
}

// AppendGuestMessage stores a message from an unauthenticated session.
func (s *Store) AppendGuestMessage(in GuestInput) (*models.GuestMessage, error) {
	if in.TempID == "" {
		return nil, fmt.Errorf("%w: temp id is required", ErrInvalid)
	}
	g := models.GuestMessage{
		TempID:    in.TempID,
		Content:   in.Content,
		Source:    in.Source,
		Kind:      in.Kind,
		CreatedAt: s.now(),
	}
	if err := s.db.Create(&g).Error; err != nil {
		return nil, fmt.Errorf("store: append guest message: %w", err)
	}
	return &g, nil
}

// PurgeGuestMessages deletes guest messages created before cutoff.
func (s *Store) PurgeGuestMessages(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&models.GuestMessage{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: purge guest messages: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// TableCount is a row count for one table.
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// Stats returns raw row counts per table for the admin console.
func (s *Store) Stats() ([]TableCount, error) {
	tables := []struct {
		name  string
		model interface{}
	}{
		{"users", &models.User{}},
		{"chats", &models.Chat{}},
		{"chat_messages", &models.ChatMessage{}},
		{"pictures", &models.Picture{}},
		{"documents", &models.Document{}},
		{"guest_messages", &models.GuestMessage{}},
	}
	out := make([]TableCount, 0, len(tables))
	for _, t := range tables {
		var n int64
		if err := s.db.Model(t.model).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("store: count %s: %w", t.name, err)
		}
		out = append(out, TableCount{Table: t.name, Rows: n})
	}
	return out, nil
}

// ownedChat loads a chat and verifies its owner.
func (s *Store) ownedChat(tx *gorm.DB, userID uint, chatID string) (*models.Chat, error) {
	var chat models.Chat
	err := tx.Where("id = ?", chatID).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load chat %s: %w", chatID, err)
	}
	if chat.UserID != userID {
		return nil, ErrForbidden
	}
	return &chat, nil
}

// ownedMessage loads a message whose chat belongs to the user.
func (s *Store) ownedMessage(tx *gorm.DB, userID uint, messageID uint) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := tx.Joins("JOIN chats ON chats.id = chat_messages.chat_id").
		Where("chat_messages.id = ? AND chats.user_id = ?", messageID, userID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load message %d: %w", messageID, err)
	}
	return &msg, nil
}

// preview returns the first previewLen runes of content.
func preview(content string) string {
	r := []rune(strings.TrimSpace(content))
	if len(r) <= previewLen {
		return string(r)
	}
	return string(r[:previewLen])
}
