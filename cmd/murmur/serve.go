package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zulandar/murmur/internal/api"
	"github.com/zulandar/murmur/internal/db"
	"github.com/zulandar/murmur/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat persistence backend",
		Long:  "Serves the chat, message, upload and admin endpoints over HTTP and runs the guest retention job.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Murmur config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if err := db.SeedAdmin(gormDB, cfg.Server.Admin.Name, cfg.Server.Admin.Token); err != nil {
		return err
	}
	st, err := store.New(store.StoreOpts{DB: gormDB})
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return api.Start(ctx, api.StartOpts{
		RouterOpts: api.RouterOpts{
			Store:     st,
			UploadDir: cfg.Server.UploadDir,
		},
		Port:               port,
		RetentionCron:      cfg.Server.RetentionCron,
		GuestRetentionDays: cfg.Server.GuestRetentionDays,
		Out:                cmd.OutOrStdout(),
	})
}
