// Package app assembles the realtime core: component construction in
// dependency order, cascade wiring, and coordinated start/stop.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"teampulse/internal/api"
	"teampulse/internal/auth"
	"teampulse/internal/bridge"
	"teampulse/internal/collab"
	"teampulse/internal/config"
	"teampulse/internal/database"
	"teampulse/internal/gateway"
	"teampulse/internal/heartbeat"
	"teampulse/internal/observability"
	"teampulse/internal/presence"
	"teampulse/internal/room"
	"teampulse/internal/stream"
	"teampulse/internal/ws"
	pkgdatabase "teampulse/pkg/database"
	"teampulse/pkg/interfaces"
)

// Application coordinates all system components.
type Application struct {
	config    *config.Config
	dbManager *database.Manager
	registry  *ws.Registry
	rooms     *room.Manager
	presence  *presence.Tracker
	sessions  *collab.Manager
	streams   *stream.Scheduler
	bridge    *bridge.Bridge
	feed      *bridge.InMemoryFeed
	monitor   *heartbeat.Monitor
	apiServer *api.Server
	wsHandler *gateway.Handler
	httpServer *http.Server
}

// NewApplication builds the component graph. Initialization order:
// database -> registry -> rooms -> presence -> collab -> streams ->
// bridge -> heartbeat -> gateway -> API -> HTTP.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB())
	if err := migrationManager.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	metrics := observability.NewMetrics()
	verifier := auth.NewJWTVerifier(cfg.Auth.Secret)

	registry := ws.NewRegistry()
	rooms := room.NewManager(registry)
	tracker := presence.NewTracker(rooms)
	sessions := collab.NewManager(registry, rooms, dbManager)
	streams := stream.NewScheduler(registry, dbManager, cfg.Realtime.StreamPushInterval)

	feed := bridge.NewInMemoryFeed()
	eventBridge := bridge.NewBridge(rooms, feed)
	rooms.AddLifecycleListener(eventBridge)
	streams.AddInterestListener(eventBridge)

	// The gauges for rooms, sessions, and streams ride the same listener
	// seams the bridge uses.
	rooms.AddLifecycleListener(metrics)
	streams.AddInterestListener(metrics)
	sessions.AddStatusListener(metrics)

	// Disconnect cascade: streams first (synchronous cancel), then
	// sessions, then presence deltas, then room membership. Each step sees
	// the connection already absent from the registry.
	registry.AddTeardownHook(func(conn *ws.Connection) {
		streams.HandleDisconnect(conn.ID())
	})
	registry.AddTeardownHook(func(conn *ws.Connection) {
		sessions.HandleDisconnect(conn.UserID())
	})
	registry.AddTeardownHook(func(conn *ws.Connection) {
		tracker.AbsentAll(conn.UserID())
	})
	registry.AddTeardownHook(func(conn *ws.Connection) {
		rooms.LeaveAll(conn.UserID())
	})

	monitor := heartbeat.NewMonitor(registry, cfg.Realtime.HeartbeatInterval)

	wsHandler := gateway.NewHandler(
		registry, rooms, tracker, sessions, streams,
		verifier, dbManager, metrics,
		cfg.WebSocket, cfg.Realtime.CommandsPerMinute,
	)
	apiServer := api.NewServer(registry, rooms, tracker, sessions, streams, dbManager)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/metrics", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		registry:   registry,
		rooms:      rooms,
		presence:   tracker,
		sessions:   sessions,
		streams:    streams,
		bridge:     eventBridge,
		feed:       feed,
		monitor:    monitor,
		apiServer:  apiServer,
		wsHandler:  wsHandler,
		httpServer: httpServer,
	}, nil
}

// Start begins serving. The heartbeat starts before the HTTP listener so
// the first connected client is already covered.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting TeamPulse realtime core on %s", app.httpServer.Addr)

	if err := app.monitor.Start(); err != nil {
		return fmt.Errorf("failed to start heartbeat monitor: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.monitor.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("TeamPulse realtime core started successfully")
		return nil
	case <-ctx.Done():
		_ = app.monitor.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP listener, heartbeat,
// live connections (cascading their teardown), then the database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down TeamPulse realtime core")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.monitor.Stop(); err != nil && err != heartbeat.ErrNotRunning {
		log.Printf("Heartbeat monitor shutdown error: %v", err)
	}

	for _, conn := range app.registry.Connections() {
		app.registry.Unregister(conn)
	}

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("TeamPulse realtime core shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// Feed exposes the in-process change feed for publishers embedded in the
// same binary.
func (app *Application) Feed() interfaces.ChangeFeed {
	return app.feed
}
