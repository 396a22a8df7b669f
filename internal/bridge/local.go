package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/zulandar/murmur/internal/api"
	"github.com/zulandar/murmur/internal/chat"
	"github.com/zulandar/murmur/internal/models"
	"github.com/zulandar/murmur/internal/store"
)

// LocalOpts holds parameters for creating an in-process bridge.
type LocalOpts struct {
	Store     *store.Store
	UserID    uint   // owner of all chats; ignored for guest sessions
	UploadDir string // where Upload stores files
	// Location is the zone persisted timestamps are shown in. Defaults to
	// time.Local.
	Location *time.Location
}

// Local calls the store directly. It serves single-process setups where
// the client and the database live in the same binary.
type Local struct {
	store     *store.Store
	userID    uint
	uploadDir string
	loc       *time.Location
}

var _ chat.Bridge = (*Local)(nil)

// NewLocal creates an in-process bridge.
func NewLocal(opts LocalOpts) (*Local, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("bridge: store is required")
	}
	if opts.UploadDir == "" {
		return nil, fmt.Errorf("bridge: upload dir is required")
	}
	if err := os.MkdirAll(opts.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("bridge: create upload dir: %w", err)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Local{store: opts.Store, userID: opts.UserID, uploadDir: opts.UploadDir, loc: loc}, nil
}

func (l *Local) ListChats(ctx context.Context) ([]chat.ChatSummary, error) {
	chats, err := l.store.ListChats(l.userID)
	if err != nil {
		return nil, err
	}
	out := make([]chat.ChatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, chat.ChatSummary{
			ID:           c.ID,
			Title:        c.Title,
			Preview:      c.LastMessage,
			LastActivity: chat.Persisted(api.FormatTime(c.LastActivity, l.loc)),
			CreatedAt:    c.CreatedAt,
		})
	}
	return out, nil
}

func (l *Local) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	msgs, err := l.store.ListMessages(l.userID, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageFromModel(m, l.loc))
	}
	return out, nil
}

func (l *Local) EnsureChat(ctx context.Context, chatID, title string) error {
	_, err := l.store.EnsureChat(l.userID, chatID, title)
	return err
}

func (l *Local) AppendMessage(ctx context.Context, req chat.AppendRequest) (string, error) {
	m, err := l.store.AppendMessage(l.userID, store.AppendInput{
		ClientID: req.MessageID,
		ChatID:   req.ChatID,
		Content:  req.Content,
		Source:   sourceOf(req.Role),
		Kind:     int(req.Kind),
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(m.ID), 10), nil
}

func (l *Local) AttachPicture(ctx context.Context, a chat.Attachment) error {
	id, err := parseServerID(a.MessageServerID)
	if err != nil {
		return err
	}
	_, err = l.store.AttachPicture(l.userID, id, fileInput(a))
	return err
}

func (l *Local) AttachDocument(ctx context.Context, a chat.Attachment) error {
	id, err := parseServerID(a.MessageServerID)
	if err != nil {
		return err
	}
	_, err = l.store.AttachDocument(l.userID, id, fileInput(a))
	return err
}

func (l *Local) RenameChat(ctx context.Context, chatID, title string) (bool, error) {
	return l.store.RenameChat(l.userID, chatID, title)
}

func (l *Local) DeleteChat(ctx context.Context, chatID string) (bool, error) {
	return l.store.DeleteChat(l.userID, chatID)
}

func (l *Local) AppendGuestMessage(ctx context.Context, m chat.GuestMessage) error {
	_, err := l.store.AppendGuestMessage(store.GuestInput{
		TempID:  m.TempID,
		Content: m.Content,
		Source:  sourceOf(m.Role),
		Kind:    int(m.Kind),
	})
	return err
}

func (l *Local) Upload(ctx context.Context, name, mime string, r io.Reader) (chat.UploadResult, error) {
	stored, clean, _, err := api.SaveUpload(l.uploadDir, name, r)
	if err != nil {
		return chat.UploadResult{}, fmt.Errorf("bridge: upload %s: %w", name, err)
	}
	return chat.UploadResult{Path: stored, Name: clean}, nil
}

func parseServerID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bridge: invalid server id %q", s)
	}
	return uint(id), nil
}

func fileInput(a chat.Attachment) store.FileInput {
	return store.FileInput{FilePath: a.FilePath, FileName: a.FileName, Description: a.Description}
}

func messageFromModel(m models.ChatMessage, loc *time.Location) chat.Message {
	msg := chat.Message{
		ID:        m.ClientID,
		ServerID:  strconv.FormatUint(uint64(m.ID), 10),
		Content:   m.Content,
		Role:      roleOf(m.Source),
		Kind:      chat.Kind(m.Kind),
		Timestamp: chat.Persisted(api.FormatTime(m.CreatedAt, loc)),
	}
	switch {
	case len(m.Pictures) > 0:
		msg.FileName, msg.FilePath = m.Pictures[0].FileName, m.Pictures[0].FilePath
	case len(m.Documents) > 0:
		msg.FileName, msg.FilePath = m.Documents[0].FileName, m.Documents[0].FilePath
	}
	return msg
}
