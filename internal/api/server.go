// Package api serves the chat persistence backend over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/murmur/internal/store"
)

// TimeLayout is the wall-clock format used for every timestamp the API
// returns. Clients treat these strings as opaque.
const TimeLayout = "2006-01-02 15:04:05"

// DefaultMaxUploadBytes bounds the body of a file upload.
const DefaultMaxUploadBytes = 32 << 20

// RouterOpts holds configuration for building the HTTP handler.
type RouterOpts struct {
	Store          *store.Store
	UploadDir      string
	MaxUploadBytes int64
}

// StartOpts holds configuration for the backend server.
type StartOpts struct {
	RouterOpts
	Port               int
	RetentionCron      string
	GuestRetentionDays int
	Out                io.Writer
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(opts RouterOpts) (*gin.Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("api: store is required")
	}
	if opts.UploadDir == "" {
		return nil, fmt.Errorf("api: upload dir is required")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if err := os.MkdirAll(opts.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("api: create upload dir: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := &handlers{
		store:     opts.Store,
		uploadDir: opts.UploadDir,
		maxUpload: opts.MaxUploadBytes,
	}
	registerRoutes(router, h)
	return router, nil
}

// Start launches the backend HTTP server and the guest retention job. It
// blocks until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.RouterOpts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	if opts.GuestRetentionDays > 0 {
		sched, err := StartRetention(RetentionOpts{
			Store:    opts.Store,
			Schedule: opts.RetentionCron,
			Days:     opts.GuestRetentionDays,
			Out:      opts.Out,
		})
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Murmur backend listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
