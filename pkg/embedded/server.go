// Package embedded provides an embeddable intercoord server for in-process use.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mistakeknot/intercoord/internal/auth"
	"github.com/mistakeknot/intercoord/internal/core"
	httpapi "github.com/mistakeknot/intercoord/internal/http"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/server"
	"github.com/mistakeknot/intercoord/internal/storage"
	"github.com/mistakeknot/intercoord/internal/storage/sqlite"
	"github.com/mistakeknot/intercoord/internal/tools"
	"github.com/mistakeknot/intercoord/internal/ws"
)

// Config configures the embedded server
type Config struct {
	// DBPath is the path to the SQLite database file.
	// If empty, defaults to ~/.intercoord/intercoord.db
	DBPath string

	// PolicyPath is the review policy file. If empty or missing, the
	// default policy applies.
	PolicyPath string

	// Port is the HTTP port to listen on.
	// If 0, defaults to 7338; a negative port picks a free one.
	Port int

	// Host is the host to bind to.
	// If empty, defaults to localhost (127.0.0.1).
	Host string

	// SweepInterval enables the background review/lock sweeper when > 0.
	SweepInterval time.Duration

	Logger *slog.Logger
}

// Server is an embedded intercoord server
type Server struct {
	cfg     Config
	store   storage.Store
	hub     *ws.Hub
	tools   *tools.Dispatcher
	sweeper *server.Sweeper
	http    *http.Server
	addr    string
	started bool
	mu      sync.Mutex
}

// New creates a new embedded server without authentication.
func New(cfg Config) (*Server, error) {
	return build(cfg, nil)
}

// NewWithAuth creates an embedded server with API key authentication
// enabled, reading keys from INTERCOORD_KEYS_FILE.
func NewWithAuth(cfg Config) (*Server, error) {
	keyring, err := auth.LoadKeyringFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load auth: %w", err)
	}
	return build(cfg, auth.Middleware(keyring))
}

func build(cfg Config, mw func(http.Handler) http.Handler) (*Server, error) {
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".intercoord", "intercoord.db")
	}
	switch {
	case cfg.Port == 0:
		cfg.Port = 7338
	case cfg.Port < 0:
		cfg.Port = 0
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pol, err := policy.Load(cfg.PolicyPath)
	if errors.Is(err, core.ErrConfigurationMissing) {
		cfg.Logger.Warn("no review policy; using defaults", "error", err)
	} else if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	store := sqlite.NewResilient(db)

	hub := ws.NewHub(cfg.Logger)
	svc := tools.NewServices(store, pol, cfg.Logger)
	svc.Notifier.WithBroadcaster(hub)
	dispatcher := tools.NewDispatcher(svc, cfg.Logger)
	router := httpapi.NewRouter(httpapi.NewService(dispatcher, cfg.Logger), hub.Handler(), mw)

	s := &Server{
		cfg:   cfg,
		store: store,
		hub:   hub,
		tools: dispatcher,
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if cfg.SweepInterval > 0 {
		s.sweeper = server.NewSweeper(svc.Reviews, svc.Ledger, cfg.SweepInterval, cfg.Logger)
	}
	return s, nil
}

// Start binds the listener and serves in a goroutine. The listener is bound
// before Start returns, so the server accepts requests immediately.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.addr = ln.Addr().String()
	s.started = true

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.cfg.Logger.Error("embedded server stopped", "error", err)
		}
	}()
	if s.sweeper != nil {
		s.sweeper.Start(context.Background())
	}
	return nil
}

// Stop stops the embedded server gracefully and closes the store.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return s.store.Close()
	}
	s.started = false
	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.http.Shutdown(ctx)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr != "" {
		return s.addr
	}
	return s.http.Addr
}

// URL returns the base URL for the server
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.Addr())
}

// Store returns the underlying store for direct access if needed
func (s *Server) Store() storage.Store {
	return s.store
}

// Call runs a tool in-process, bypassing HTTP.
func (s *Server) Call(ctx context.Context, name string, args []byte) tools.Result {
	return s.tools.Call(ctx, name, args)
}
