package api

// Request and response bodies shared with HTTP clients.

// ChatJSON is one entry of GET /api/chats.
type ChatJSON struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	LastMessage  string `json:"last_message"`
	LastActivity string `json:"last_activity"`
	CreatedAt    string `json:"created_at"`
}

// AttachmentJSON describes a picture or document attached to a message.
type AttachmentJSON struct {
	FilePath    string `json:"file_path"`
	FileName    string `json:"file_name"`
	Description string `json:"description,omitempty"`
}

// MessageJSON is one entry of GET /api/chats/:id/messages.
type MessageJSON struct {
	ID        uint             `json:"id"`
	MessageID string           `json:"message_id"`
	Content   string           `json:"content"`
	Source    int              `json:"source"`
	Kind      int              `json:"kind"`
	CreatedAt string           `json:"created_at"`
	Pictures  []AttachmentJSON `json:"pictures,omitempty"`
	Documents []AttachmentJSON `json:"documents,omitempty"`
}

// EnsureChatRequest is the body of POST /api/chats.
type EnsureChatRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
	Title  string `json:"title"`
}

// RenameRequest is the body of PATCH /api/chats/:id.
type RenameRequest struct {
	Title string `json:"title" binding:"required"`
}

// AppendMessageRequest is the body of POST /api/messages.
type AppendMessageRequest struct {
	MessageID string `json:"message_id" binding:"required"`
	ChatID    string `json:"chat_id" binding:"required"`
	Content   string `json:"content"`
	Source    int    `json:"source"`
	Kind      int    `json:"kind"`
}

// AppendMessageResponse carries the server id of an appended message.
type AppendMessageResponse struct {
	ID uint `json:"id"`
}

// AttachRequest is the body of POST /api/messages/:id/pictures and /documents.
type AttachRequest struct {
	FilePath    string `json:"file_path" binding:"required"`
	FileName    string `json:"file_name"`
	Description string `json:"description"`
}

// GuestMessageRequest is the body of POST /api/guest/messages.
type GuestMessageRequest struct {
	TempID  string `json:"temp_id" binding:"required"`
	Content string `json:"content"`
	Source  int    `json:"source"`
	Kind    int    `json:"kind"`
}

// UploadResponse is returned by POST /api/files.
type UploadResponse struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// SuccessResponse reports the outcome of rename and delete calls.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
