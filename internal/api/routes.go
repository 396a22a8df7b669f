package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/murmur/internal/store"
)

// handlers carries the dependencies shared by every route.
type handlers struct {
	store     *store.Store
	uploadDir string
	maxUpload int64
}

// registerRoutes sets up all backend routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", identify(h.store))
	api.POST("/guest/messages", h.appendGuestMessage)
	api.POST("/files", h.upload)

	user := api.Group("", requireUser())
	user.GET("/chats", h.listChats)
	user.POST("/chats", h.ensureChat)
	user.PATCH("/chats/:id", h.renameChat)
	user.DELETE("/chats/:id", h.deleteChat)
	user.GET("/chats/:id/messages", h.listMessages)
	user.POST("/messages", h.appendMessage)
	user.DELETE("/messages/:id", h.deleteMessage)
	user.POST("/messages/:id/pictures", h.attachPicture)
	user.POST("/messages/:id/documents", h.attachDocument)

	admin := router.Group("/admin", identify(h.store), requireAdmin())
	admin.GET("/users", h.adminListUsers)
	admin.DELETE("/users/:id", h.adminDeleteUser)
	admin.GET("/chats", h.adminListChats)
	admin.DELETE("/chats/:id", h.adminDeleteChat)
	admin.GET("/stats", h.adminStats)
}

// TimezoneHeader names the IANA zone a client wants wall-clock timestamps
// rendered in. Without it the server's local zone is used.
const TimezoneHeader = "X-Timezone"

// FormatTime renders t as TimeLayout wall-clock text in loc.
func FormatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(TimeLayout)
}

// displayZone resolves the zone requested by TimezoneHeader. It replies
// 400 and returns false for an unknown zone.
func displayZone(c *gin.Context) (*time.Location, bool) {
	name := c.GetHeader(TimezoneHeader)
	if name == "" {
		return time.Local, true
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown timezone " + strconv.Quote(name)})
		return nil, false
	}
	return loc, true
}

func (h *handlers) listChats(c *gin.Context) {
	loc, ok := displayZone(c)
	if !ok {
		return
	}
	u := currentUser(c)
	chats, err := h.store.ListChats(u.ID)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]ChatJSON, 0, len(chats))
	for _, ch := range chats {
		out = append(out, ChatJSON{
			ID:           ch.ID,
			Title:        ch.Title,
			LastMessage:  ch.LastMessage,
			LastActivity: FormatTime(ch.LastActivity, loc),
			CreatedAt:    FormatTime(ch.CreatedAt, loc),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) ensureChat(c *gin.Context) {
	loc, ok := displayZone(c)
	if !ok {
		return
	}
	var req EnsureChatRequest
	if !bind(c, &req) {
		return
	}
	ch, err := h.store.EnsureChat(currentUser(c).ID, req.ChatID, req.Title)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ChatJSON{
		ID:           ch.ID,
		Title:        ch.Title,
		LastMessage:  ch.LastMessage,
		LastActivity: FormatTime(ch.LastActivity, loc),
		CreatedAt:    FormatTime(ch.CreatedAt, loc),
	})
}

func (h *handlers) renameChat(c *gin.Context) {
	var req RenameRequest
	if !bind(c, &req) {
		return
	}
	ok, err := h.store.RenameChat(currentUser(c).ID, c.Param("id"), req.Title)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: ok})
}

func (h *handlers) deleteChat(c *gin.Context) {
	ok, err := h.store.DeleteChat(currentUser(c).ID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: ok})
}

func (h *handlers) listMessages(c *gin.Context) {
	loc, ok := displayZone(c)
	if !ok {
		return
	}
	msgs, err := h.store.ListMessages(currentUser(c).ID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]MessageJSON, 0, len(msgs))
	for _, m := range msgs {
		mj := MessageJSON{
			ID:        m.ID,
			MessageID: m.ClientID,
			Content:   m.Content,
			Source:    m.Source,
			Kind:      m.Kind,
			CreatedAt: FormatTime(m.CreatedAt, loc),
		}
		for _, p := range m.Pictures {
			mj.Pictures = append(mj.Pictures, AttachmentJSON{FilePath: p.FilePath, FileName: p.FileName, Description: p.Description})
		}
		for _, d := range m.Documents {
			mj.Documents = append(mj.Documents, AttachmentJSON{FilePath: d.FilePath, FileName: d.FileName, Description: d.Description})
		}
		out = append(out, mj)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) appendMessage(c *gin.Context) {
	var req AppendMessageRequest
	if !bind(c, &req) {
		return
	}
	msg, err := h.store.AppendMessage(currentUser(c).ID, store.AppendInput{
		ClientID: req.MessageID,
		ChatID:   req.ChatID,
		Content:  req.Content,
		Source:   req.Source,
		Kind:     req.Kind,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AppendMessageResponse{ID: msg.ID})
}

func (h *handlers) deleteMessage(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	deleted, err := h.store.DeleteMessage(currentUser(c).ID, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: deleted})
}

func (h *handlers) attachPicture(c *gin.Context) {
	h.attach(c, func(userID, messageID uint, in store.FileInput) error {
		_, err := h.store.AttachPicture(userID, messageID, in)
		return err
	})
}

func (h *handlers) attachDocument(c *gin.Context) {
	h.attach(c, func(userID, messageID uint, in store.FileInput) error {
		_, err := h.store.AttachDocument(userID, messageID, in)
		return err
	})
}

// attach handles both attachment routes; only the store call differs.
func (h *handlers) attach(c *gin.Context, fn func(userID, messageID uint, in store.FileInput) error) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req AttachRequest
	if !bind(c, &req) {
		return
	}
	if err := fn(currentUser(c).ID, id, store.FileInput{
		FilePath:    req.FilePath,
		FileName:    req.FileName,
		Description: req.Description,
	}); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (h *handlers) appendGuestMessage(c *gin.Context) {
	var req GuestMessageRequest
	if !bind(c, &req) {
		return
	}
	if _, err := h.store.AppendGuestMessage(store.GuestInput{
		TempID:  req.TempID,
		Content: req.Content,
		Source:  req.Source,
		Kind:    req.Kind,
	}); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

func (h *handlers) adminListUsers(c *gin.Context) {
	users, err := h.store.ListUsers()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *handlers) adminDeleteUser(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if id == currentUser(c).ID {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot delete the calling admin"})
		return
	}
	deleted, err := h.store.DeleteUser(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: deleted})
}

func (h *handlers) adminListChats(c *gin.Context) {
	chats, err := h.store.ListAllChats()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

func (h *handlers) adminDeleteChat(c *gin.Context) {
	deleted, err := h.store.DeleteAnyChat(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: deleted})
}

func (h *handlers) adminStats(c *gin.Context) {
	stats, err := h.store.Stats()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// bind decodes the JSON body into dst, replying 400 on failure.
func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

// uintParam parses a numeric path parameter, replying 400 on failure.
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

// fail maps store errors to HTTP status codes.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrInvalid):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	default:
		log.Printf("api: %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
