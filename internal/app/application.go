package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"learnsession/internal/api"
	"learnsession/internal/config"
	"learnsession/internal/database"
	"learnsession/internal/hub"
	"learnsession/internal/integration"
	"learnsession/internal/resolver"
	"learnsession/internal/scheduler"
	"learnsession/internal/session"
	"learnsession/internal/tracing"
	pkgdatabase "learnsession/pkg/database"
	"learnsession/pkg/types"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config         *config.Config
	tracing        *tracing.Provider
	dbManager      *database.Manager
	ages           *resolver.Cached
	timerHub       *hub.Hub
	scheduler      *scheduler.Scheduler
	sessionManager *session.Manager
	progress       *integration.ProgressIntegration
	apiServer      *api.Server
	httpServer     *http.Server

	sweepCancel context.CancelFunc
	sweepDone   sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Tracing → Database → Resolver → Hub → Scheduler → Session → Integration → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Tracing first so every component picks up the same tracer
	tp, err := tracing.NewProvider(*cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	tracer := tp.Tracer()

	// STEP 2: Database manager applies embedded migrations on open
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MaxConnections = cfg.Database.MaxConnections
	dbConfig.ConnMaxLifetime = cfg.Database.Timeout
	dbConfig.ConnMaxIdleTime = cfg.Database.Timeout / 3

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	log.Printf("Database ready: path=%s", cfg.Database.Path)

	// STEP 3: Registered children win over configured ones; the configured
	// default bracket catches everyone else
	ages := resolver.NewCached(resolver.Chain{
		dbManager,
		resolver.NewStatic(cfg.Session.ChildAgeGroups(), types.AgeGroup(cfg.Session.DefaultAgeGroup)),
	}, cfg.Session.AgeCacheTTL)

	// STEP 4: Timer firings flow scheduler → hub → session manager
	timerHub := hub.NewHub(cfg.Session.EventBufferSize)
	breakScheduler := scheduler.New(timerHub, cfg.Session.TimerUnit)

	sessionManager := session.NewManager(ages, breakScheduler,
		session.WithTracer(tracer),
		session.WithArchiveRetention(cfg.Session.ArchiveRetention),
	)

	// STEP 5: Evidence buffer flushes into the database on completion
	progress := integration.NewProgressIntegration(sessionManager, dbManager, integration.WithTracer(tracer))
	sessionManager.OnCompleted(progress.OnSessionCompleted)

	// STEP 6: HTTP surface
	apiServer := api.NewServer(sessionManager, progress, dbManager, ages,
		api.WithEvidenceLimit(cfg.HTTP.EvidenceLimit, time.Minute))
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		tracing:        tp,
		dbManager:      dbManager,
		ages:           ages,
		timerHub:       timerHub,
		scheduler:      breakScheduler,
		sessionManager: sessionManager,
		progress:       progress,
		apiServer:      apiServer,
		httpServer:     httpServer,
	}, nil
}

// Start begins application execution
// Hub starts first so armed timers have somewhere to post, then the sweeper,
// then the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting learnsession application on %s", app.httpServer.Addr)

	// STEP 1: Start timer event processing
	if err := app.timerHub.Start(ctx, app.sessionManager); err != nil {
		return fmt.Errorf("failed to start timer hub: %w", err)
	}

	// STEP 2: Periodic cleanup of stale buffers and archived sessions
	sweepCtx, cancel := context.WithCancel(context.Background())
	app.sweepCancel = cancel
	app.sweepDone.Add(1)
	go app.sweepLoop(sweepCtx)

	// STEP 3: Start HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.stopBackground()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("learnsession application started successfully")
		return nil
	case <-ctx.Done():
		app.stopBackground()
		return ctx.Err()
	}
}

// sweepLoop runs Sweep every cleanup interval until ctx is cancelled
func (app *Application) sweepLoop(ctx context.Context) {
	defer app.sweepDone.Done()

	ticker := time.NewTicker(app.config.Cleanup.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.Sweep(ctx, time.Now())
		}
	}
}

// Sweep drops evidence buffers of stale sessions, prunes the archive and
// forgets rate-limit state of idle sessions
func (app *Application) Sweep(ctx context.Context, now time.Time) {
	removed := app.progress.CleanupAbandonedSessions(ctx, app.config.Cleanup.MaxAgeHours)
	pruned := app.sessionManager.PruneArchive(now)
	limits := app.apiServer.CleanupLimits()
	if removed > 0 || pruned > 0 || limits > 0 {
		log.Printf("Sweep complete: buffers_removed=%d archived_pruned=%d limits_dropped=%d", removed, pruned, limits)
	}
}

// stopBackground halts the sweeper, every pending timer and the hub
func (app *Application) stopBackground() {
	if app.sweepCancel != nil {
		app.sweepCancel()
		app.sweepDone.Wait()
		app.sweepCancel = nil
	}

	app.scheduler.CancelAll()

	if err := app.timerHub.Stop(); err != nil {
		log.Printf("Timer hub shutdown error: %v", err)
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Sweeper → Timers → Hub → Tracing → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down learnsession application")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.stopBackground()

	if err := app.tracing.Shutdown(ctx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("learnsession application shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// Handler exposes the HTTP API without a listener
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Stats reports component counters for diagnostics
func (app *Application) Stats() map[string]interface{} {
	return map[string]interface{}{
		"sessions":      app.sessionManager.GetStats(),
		"progress":      app.progress.GetStats(),
		"active_timers": app.scheduler.ActiveTimers(),
	}
}
