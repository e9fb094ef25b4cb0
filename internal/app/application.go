package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"proctordraw/internal/api"
	"proctordraw/internal/auth"
	"proctordraw/internal/config"
	"proctordraw/internal/database"
	"proctordraw/internal/draw"
	"proctordraw/internal/hub"
	"proctordraw/internal/persistence"
	"proctordraw/internal/ratelimit"
	"proctordraw/internal/session"
	"proctordraw/internal/websocket"
	pkgdatabase "proctordraw/pkg/database"
	"proctordraw/pkg/interfaces"
)

// limiterCleanupInterval is how often idle rate limiter windows are pruned.
const limiterCleanupInterval = time.Minute

// Application coordinates all system components.
type Application struct {
	config         *config.Config
	store          interfaces.BlobStore
	sessionManager *session.Manager
	registry       *websocket.Registry
	rosterHub      *hub.Hub
	limiter        *ratelimit.RateLimiter
	apiServer      *api.Server
	httpServer     *http.Server

	mu             sync.Mutex
	listener       net.Listener
	stopBackground chan struct{}
}

// NewApplication builds every component in dependency order:
// store → persistence → engine → hub → session → auth → API → HTTP.
// The stored session, if any, is restored before returning.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	app, err := newApplication(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return app, nil
}

func openStore(cfg *config.Config) (interfaces.BlobStore, error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Println("Using in-memory store; the session is lost on restart")
		return database.NewMemoryStore(), nil
	}

	dbConfig := cfg.SQLiteConfig()
	if err := os.MkdirAll(filepath.Dir(dbConfig.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB(), dbConfig.MigrationsPath)
	if err := migrationManager.ApplyMigrations(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	return dbManager, nil
}

func newApplication(cfg *config.Config, store interfaces.BlobStore) (*Application, error) {
	namePolicy, err := cfg.NamePolicy()
	if err != nil {
		return nil, err
	}
	roomPolicy, err := cfg.RoomPolicy()
	if err != nil {
		return nil, err
	}

	snapshots := persistence.NewStore(store)
	engine := draw.NewEngine(draw.Options{Seed: cfg.Draw.Seed, NamePolicy: namePolicy})

	registry := websocket.NewRegistry()
	rosterHub := hub.NewHub(registry)

	sessionManager := session.NewManager(snapshots, snapshots, engine, rosterHub, session.Config{
		Rooms:      roomPolicy,
		MaxRetries: cfg.Draw.MaxRetries,
	})
	if err := sessionManager.Load(context.Background()); err != nil {
		return nil, err
	}

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Accounts:    cfg.Auth.Accounts,
		TokenSecret: cfg.Auth.TokenSecret,
		TokenTTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authentication: %w", err)
	}

	limiter := ratelimit.NewRateLimiter(cfg.Draw.RateLimitPerMinute)

	apiServer := api.NewServer(api.Deps{
		Sessions: sessionManager,
		Auth:     authenticator,
		Limiter:  limiter,
		Store:    store,
		Registry: registry,
		Events:   rosterHub,
		WebSocket: websocket.HandlerConfig{
			PingInterval: cfg.WebSocket.PingInterval,
			ReadTimeout:  cfg.WebSocket.ReadTimeout,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			BufferSize:   cfg.WebSocket.BufferSize,
		},
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	log.Printf("Application configured: driver=%s name_matching=%s room_mode=%s rate_limit=%d/min",
		cfg.Database.Driver, namePolicy, roomPolicy.Mode, cfg.Draw.RateLimitPerMinute)

	return &Application{
		config:         cfg,
		store:          store,
		sessionManager: sessionManager,
		registry:       registry,
		rosterHub:      rosterHub,
		limiter:        limiter,
		apiServer:      apiServer,
		httpServer:     httpServer,
	}, nil
}

// Start starts the hub, then accepts HTTP connections in the background.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting proctordraw on %s", app.httpServer.Addr)

	if err := app.rosterHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start roster hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.rosterHub.Stop()
		return fmt.Errorf("HTTP server error: %w", err)
	}

	stop := make(chan struct{})
	app.mu.Lock()
	app.listener = listener
	app.stopBackground = stop
	app.mu.Unlock()

	go app.limiter.Run(limiterCleanupInterval, stop)

	// Only a SQLite file can be shared with other instances.
	if app.config.Database.Driver == config.DriverSQLite && app.config.Database.SyncInterval > 0 {
		go app.sessionManager.Watch(app.config.Database.SyncInterval, stop)
	}

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	log.Printf("proctordraw started: addr=%s", listener.Addr())
	return nil
}

// Stop shuts down in reverse order: HTTP → viewers → hub → store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down proctordraw")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Hijacked websocket connections are not closed by Shutdown.
	app.registry.CloseAll()

	app.mu.Lock()
	if app.stopBackground != nil {
		close(app.stopBackground)
		app.stopBackground = nil
	}
	app.mu.Unlock()

	if err := app.rosterHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Printf("Roster hub shutdown error: %v", err)
	}

	if err := app.store.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
		return err
	}

	log.Printf("proctordraw shutdown complete")
	return nil
}

// GetAddr returns the listening address once started, otherwise the
// configured one.
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}
