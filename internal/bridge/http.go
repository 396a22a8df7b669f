// Package bridge implements chat.Bridge against the murmur backend, either
// over HTTP or in process.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/zulandar/murmur/internal/api"
	"github.com/zulandar/murmur/internal/chat"
)

// ErrStatus is wrapped by errors for non-2xx backend replies.
var ErrStatus = errors.New("bridge: unexpected status")

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// HTTPOpts holds parameters for creating an HTTP bridge.
type HTTPOpts struct {
	BaseURL string // e.g. http://localhost:8000
	Token   string // API token; empty for guest sessions
	Client  *http.Client
	Timeout time.Duration
	// Location is the zone persisted timestamps are shown in. Defaults to
	// time.Local.
	Location *time.Location
}

// HTTP talks to the backend's JSON API. Requests carry the API token as
// a bearer token. The backend is asked for UTC wall clocks, which are
// converted to the display location on the way in.
type HTTP struct {
	base   *url.URL
	client *http.Client
	loc    *time.Location
}

var _ chat.Bridge = (*HTTP)(nil)

// NewHTTP creates an HTTP bridge.
func NewHTTP(opts HTTPOpts) (*HTTP, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("bridge: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("bridge: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("bridge: base url %q must be absolute", opts.BaseURL)
	}

	client := &http.Client{}
	if opts.Client != nil {
		cp := *opts.Client
		client = &cp
	}
	if opts.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: opts.Token,
			TokenType:   "Bearer",
		}))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client.Timeout = timeout
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	return &HTTP{base: base, client: client, loc: loc}, nil
}

func (h *HTTP) ListChats(ctx context.Context) ([]chat.ChatSummary, error) {
	var out []api.ChatJSON
	if err := h.do(ctx, http.MethodGet, "/api/chats", nil, &out); err != nil {
		return nil, fmt.Errorf("bridge: list chats: %w", err)
	}
	summaries := make([]chat.ChatSummary, 0, len(out))
	for _, c := range out {
		summaries = append(summaries, chat.ChatSummary{
			ID:           c.ID,
			Title:        c.Title,
			Preview:      c.LastMessage,
			LastActivity: chat.Persisted(h.wall(c.LastActivity)),
			CreatedAt:    parseTime(c.CreatedAt),
		})
	}
	return summaries, nil
}

func (h *HTTP) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	var out []api.MessageJSON
	if err := h.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID)+"/messages", nil, &out); err != nil {
		return nil, fmt.Errorf("bridge: list messages for %s: %w", chatID, err)
	}
	msgs := make([]chat.Message, 0, len(out))
	for _, m := range out {
		m.CreatedAt = h.wall(m.CreatedAt)
		msgs = append(msgs, messageFromJSON(m))
	}
	return msgs, nil
}

func (h *HTTP) EnsureChat(ctx context.Context, chatID, title string) error {
	req := api.EnsureChatRequest{ChatID: chatID, Title: title}
	if err := h.do(ctx, http.MethodPost, "/api/chats", req, nil); err != nil {
		return fmt.Errorf("bridge: ensure chat %s: %w", chatID, err)
	}
	return nil
}

func (h *HTTP) AppendMessage(ctx context.Context, req chat.AppendRequest) (string, error) {
	var out api.AppendMessageResponse
	body := api.AppendMessageRequest{
		MessageID: req.MessageID,
		ChatID:    req.ChatID,
		Content:   req.Content,
		Source:    sourceOf(req.Role),
		Kind:      int(req.Kind),
	}
	if err := h.do(ctx, http.MethodPost, "/api/messages", body, &out); err != nil {
		return "", fmt.Errorf("bridge: append message %s: %w", req.MessageID, err)
	}
	return strconv.FormatUint(uint64(out.ID), 10), nil
}

func (h *HTTP) AttachPicture(ctx context.Context, a chat.Attachment) error {
	return h.attach(ctx, "pictures", a)
}

func (h *HTTP) AttachDocument(ctx context.Context, a chat.Attachment) error {
	return h.attach(ctx, "documents", a)
}

func (h *HTTP) attach(ctx context.Context, what string, a chat.Attachment) error {
	if a.MessageServerID == "" {
		return fmt.Errorf("bridge: attach %s: message has no server id", what)
	}
	body := api.AttachRequest{FilePath: a.FilePath, FileName: a.FileName, Description: a.Description}
	path := "/api/messages/" + url.PathEscape(a.MessageServerID) + "/" + what
	if err := h.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("bridge: attach %s to %s: %w", what, a.MessageServerID, err)
	}
	return nil
}

func (h *HTTP) RenameChat(ctx context.Context, chatID, title string) (bool, error) {
	var out api.SuccessResponse
	if err := h.do(ctx, http.MethodPatch, "/api/chats/"+url.PathEscape(chatID), api.RenameRequest{Title: title}, &out); err != nil {
		return false, fmt.Errorf("bridge: rename chat %s: %w", chatID, err)
	}
	return out.Success, nil
}

func (h *HTTP) DeleteChat(ctx context.Context, chatID string) (bool, error) {
	var out api.SuccessResponse
	if err := h.do(ctx, http.MethodDelete, "/api/chats/"+url.PathEscape(chatID), nil, &out); err != nil {
		return false, fmt.Errorf("bridge: delete chat %s: %w", chatID, err)
	}
	return out.Success, nil
}

func (h *HTTP) AppendGuestMessage(ctx context.Context, m chat.GuestMessage) error {
	body := api.GuestMessageRequest{
		TempID:  m.TempID,
		Content: m.Content,
		Source:  sourceOf(m.Role),
		Kind:    int(m.Kind),
	}
	if err := h.do(ctx, http.MethodPost, "/api/guest/messages", body, nil); err != nil {
		return fmt.Errorf("bridge: guest message %s: %w", m.TempID, err)
	}
	return nil
}

// Upload streams r as the raw request body.
func (h *HTTP) Upload(ctx context.Context, name, mime string, r io.Reader) (chat.UploadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint("/api/files"), r)
	if err != nil {
		return chat.UploadResult{}, fmt.Errorf("bridge: upload %s: %w", name, err)
	}
	req.Header.Set("X-File-Name", name)
	if mime == "" {
		mime = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mime)

	var out api.UploadResponse
	if err := h.send(req, &out); err != nil {
		return chat.UploadResult{}, fmt.Errorf("bridge: upload %s: %w", name, err)
	}
	return chat.UploadResult{Path: out.Path, Name: out.Name}, nil
}

func (h *HTTP) endpoint(path string) string {
	return h.base.String() + path
}

func (h *HTTP) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return h.send(req, out)
}

func (h *HTTP) send(req *http.Request, out interface{}) error {
	req.Header.Set(api.TimezoneHeader, "UTC")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var e api.ErrorResponse
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Persisted source values.
const (
	sourceUser  = 0
	sourceAgent = 1
)

func sourceOf(r chat.Role) int {
	if r == chat.RoleAgent {
		return sourceAgent
	}
	return sourceUser
}

func roleOf(source int) chat.Role {
	if source == sourceAgent {
		return chat.RoleAgent
	}
	return chat.RoleUser
}

func messageFromJSON(m api.MessageJSON) chat.Message {
	msg := chat.Message{
		ID:        m.MessageID,
		ServerID:  strconv.FormatUint(uint64(m.ID), 10),
		Content:   m.Content,
		Role:      roleOf(m.Source),
		Kind:      chat.Kind(m.Kind),
		Timestamp: chat.Persisted(m.CreatedAt),
	}
	if msg.ID == "" {
		msg.ID = msg.ServerID
	}
	var att *api.AttachmentJSON
	switch {
	case len(m.Pictures) > 0:
		att = &m.Pictures[0]
	case len(m.Documents) > 0:
		att = &m.Documents[0]
	}
	if att != nil {
		msg.FileName = att.FileName
		msg.FilePath = att.FilePath
	}
	return msg
}

// parseTime reads a UTC wall clock from the backend.
func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(api.TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// wall converts a UTC wall clock from the backend to the display location.
// Text that does not parse is passed through untouched.
func (h *HTTP) wall(s string) string {
	t, err := time.ParseInLocation(api.TimeLayout, s, time.UTC)
	if err != nil {
		return s
	}
	return api.FormatTime(t, h.loc)
}
