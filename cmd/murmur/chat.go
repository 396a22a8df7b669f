package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/murmur/internal/bridge"
	"github.com/zulandar/murmur/internal/chat"
	"github.com/zulandar/murmur/internal/config"
	"github.com/zulandar/murmur/internal/db"
	"github.com/zulandar/murmur/internal/render"
	"github.com/zulandar/murmur/internal/store"
	"github.com/zulandar/murmur/internal/transport"
	"github.com/zulandar/murmur/internal/transport/discord"
	"github.com/zulandar/murmur/internal/transport/realtime"
	"github.com/zulandar/murmur/internal/transport/slack"
	"github.com/zulandar/murmur/internal/tui"
)

func newChatCmd() *cobra.Command {
	var (
		configPath string
		imagesDir  string
		logPath    string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the terminal chat client",
		Long: `Joins the configured transport session and opens the terminal client.

Messages are persisted through the backend at client.backend_url, or directly
through the configured database when no backend URL is set. Without an API
token the session runs as a guest. While the client owns the terminal,
diagnostics go to the file named by --log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, imagesDir, logPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Murmur config file")
	cmd.Flags().StringVar(&imagesDir, "images", "", "directory of image categories (one subdirectory per category)")
	cmd.Flags().StringVar(&logPath, "log", defaultChatLogPath, "file that receives log output while the client runs")
	return cmd
}

const defaultChatLogPath = "murmur-chat.log"

func runChat(cmd *cobra.Command, configPath, imagesDir, logPath string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("murmur chat needs an interactive terminal")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg, imagesDir)
	if err != nil {
		return err
	}

	restoreLog, err := redirectLog(logPath)
	if err != nil {
		return err
	}
	defer restoreLog()

	adapter, err := newTransport(cfg.Client)
	if err != nil {
		return err
	}
	defer adapter.Close()

	b, err := newBridge(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Slack and Discord learn the local identity during the handshake.
	if err := adapter.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s transport: %w", cfg.Client.Transport.Platform, err)
	}

	rec, err := chat.New(chatOptions(cfg, adapter, b))
	if err != nil {
		return err
	}
	defer rec.Close()

	if err := rec.Load(ctx); err != nil {
		log.Printf("murmur: %v", err)
	}
	go func() {
		if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("murmur: %v", err)
		}
	}()

	return tui.Run(tui.Options{
		Controller: rec,
		Catalog:    catalog,
		Location:   cfg.Location(),
		Context:    ctx,
	})
}

// redirectLog points the standard logger at path so background reconnects
// and persistence failures do not draw over the full-screen client. The
// returned func puts stderr back.
func redirectLog(path string) (func(), error) {
	f, err := tea.LogToFile(path, "murmur")
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return func() {
		log.SetOutput(os.Stderr)
		log.SetPrefix("")
		f.Close()
	}, nil
}

func chatOptions(cfg *config.Config, adapter transport.Adapter, b chat.Bridge) chat.Options {
	return chat.Options{
		Transport:      adapter,
		Bridge:         b,
		Guest:          cfg.IsGuest(),
		ReplyTimeout:   cfg.ReplyTimeout(),
		Greeting:       cfg.Client.Greeting,
		DefaultTitle:   cfg.Client.DefaultTitle,
		TimeoutMessage: cfg.Client.TimeoutMessage,
		PresetPrompt:   cfg.Client.PresetPrompt,
		Location:       cfg.Location(),
		Backoff:        transport.DefaultBackoff(),
	}
}

// newTransport builds the adapter named by client.transport.platform.
func newTransport(cc config.ClientConfig) (transport.Adapter, error) {
	tr := cc.Transport
	switch tr.Platform {
	case "realtime":
		return realtime.New(realtime.AdapterOpts{
			URL:      tr.URL,
			Room:     tr.Channel,
			Identity: cc.Identity,
			Token:    tr.Token,
		})
	case "slack":
		return slack.New(slack.AdapterOpts{
			AppToken:  tr.Slack.AppToken,
			BotToken:  tr.Slack.BotToken,
			ChannelID: tr.Channel,
		})
	case "discord":
		return discord.New(discord.AdapterOpts{
			BotToken:  tr.Discord.BotToken,
			ChannelID: tr.Channel,
		})
	}
	return nil, fmt.Errorf("unsupported transport platform %q", tr.Platform)
}

// newBridge persists over HTTP when a backend URL is configured, and
// in process through the database otherwise.
func newBridge(cfg *config.Config) (chat.Bridge, error) {
	if cfg.Client.BackendURL != "" {
		return bridge.NewHTTP(bridge.HTTPOpts{
			BaseURL:  cfg.Client.BackendURL,
			Token:    cfg.Client.APIToken,
			Location: cfg.Location(),
		})
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	st, err := store.New(store.StoreOpts{DB: gormDB})
	if err != nil {
		return nil, err
	}

	var userID uint
	if !cfg.IsGuest() {
		u, err := st.UserByToken(cfg.Client.APIToken)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("client.api_token does not match any user")
		}
		if err != nil {
			return nil, err
		}
		userID = u.ID
	}
	return bridge.NewLocal(bridge.LocalOpts{
		Store:     st,
		UserID:    userID,
		UploadDir: cfg.Server.UploadDir,
		Location:  cfg.Location(),
	})
}

// loadCatalog merges the images section of the config with a directory of
// category subdirectories. Config entries win on conflict.
func loadCatalog(cfg *config.Config, dir string) (render.Catalog, error) {
	catalog := render.Catalog{}
	if dir != "" {
		loaded, err := render.LoadCatalog(dir)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	for name, files := range cfg.Images {
		catalog[name] = files
	}
	return catalog, nil
}
