package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mistakeknot/intercoord/internal/auth"
	httpapi "github.com/mistakeknot/intercoord/internal/http"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/server"
	"github.com/mistakeknot/intercoord/internal/tools"
	"github.com/mistakeknot/intercoord/internal/ws"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	store         storeFlags
	addr          string
	socket        string
	policyPath    string
	keysFile      string
	sweepInterval time.Duration
}

// newServeCmd creates the "intercoord serve" subcommand.
func newServeCmd(logLevel *string) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination server",
		Long:  "Serves the tool API over HTTP, notifications over WebSocket and\nPrometheus metrics, sweeping stale reviews and expired locks in the background.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, *logLevel)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", envOr("INTERCOORD_ADDR", "127.0.0.1:7338"), "TCP listen address")
	f.StringVar(&opts.socket, "socket", os.Getenv("INTERCOORD_SOCKET"), "optional unix socket path")
	f.StringVar(&opts.store.dbPath, "db", envOr("INTERCOORD_DB", defaultDBPath), "SQLite database path")
	f.StringVar(&opts.store.dsn, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL DSN; overrides --db")
	f.StringVar(&opts.policyPath, "policy", envOr("INTERCOORD_POLICY", policy.DefaultPath), "review policy file (.yaml or .toml)")
	f.StringVar(&opts.keysFile, "keys-file", auth.ResolveKeysPath(), "API keys file")
	f.DurationVar(&opts.sweepInterval, "sweep-interval", 0, "review/lock sweep interval; 0 disables")
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions, logLevel string) error {
	logger := newLogger(logLevel)

	cfg, err := loadPolicy(opts.policyPath, logger)
	if err != nil {
		return err
	}
	keyring, err := auth.LoadKeyring(opts.keysFile)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}
	store, err := opts.store.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := ws.NewHub(logger)
	svc := tools.NewServices(store, cfg, logger)
	svc.Notifier.WithBroadcaster(hub)
	dispatcher := tools.NewDispatcher(svc, logger)
	router := httpapi.NewRouter(httpapi.NewService(dispatcher, logger), hub.Handler(), auth.Middleware(keyring))

	srv, err := server.New(server.Config{
		Addr:       opts.addr,
		SocketPath: opts.socket,
		Handler:    router,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	go policy.Watch(ctx, opts.policyPath, logger, nil)

	if opts.sweepInterval > 0 {
		sweeper := server.NewSweeper(svc.Reviews, svc.Ledger, opts.sweepInterval, logger)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	logger.Info("intercoord serving", "addr", opts.addr, "socket", opts.socket, "version", version)
	return srv.Run(ctx)
}
