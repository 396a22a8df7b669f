package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Upload errors returned by SaveUpload.
var (
	ErrNoFileName  = errors.New("api: file name is required")
	ErrEmptyUpload = errors.New("api: empty upload")
)

// SaveUpload copies r into dir. The stored name gets a uuid prefix so
// uploads never collide; the returned name is the sanitized original. A
// failed or empty copy leaves nothing behind.
func SaveUpload(dir, name string, r io.Reader) (stored, clean string, n int64, err error) {
	clean = sanitizeFileName(name)
	if clean == "" {
		return "", "", 0, ErrNoFileName
	}
	stored = filepath.Join(dir, uuid.NewString()+"_"+clean)
	f, err := os.Create(stored)
	if err != nil {
		return "", "", 0, fmt.Errorf("api: upload: %w", err)
	}
	n, err = io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = ErrEmptyUpload
	}
	if err != nil {
		os.Remove(stored)
		if errors.Is(err, ErrEmptyUpload) {
			return "", "", 0, err
		}
		return "", "", 0, fmt.Errorf("api: upload: %w", err)
	}
	return stored, clean, n, nil
}

// upload stores the raw request body under the upload directory. The
// original file name comes from X-File-Name.
func (h *handlers) upload(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	stored, name, n, err := SaveUpload(h.uploadDir, c.GetHeader("X-File-Name"), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, ErrNoFileName):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "X-File-Name header is required"})
		case errors.Is(err, ErrEmptyUpload):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty upload"})
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
		default:
			fail(c, err)
		}
		return
	}

	log.Printf("api: stored upload %s (%d bytes, %s)", stored, n, c.ContentType())
	c.JSON(http.StatusOK, UploadResponse{Path: stored, Name: name})
}

// sanitizeFileName drops any directory components from a client-supplied name.
func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
