// Package catalog wires the discovery, merging, and validation subsystems
// into one runnable application.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcpdex-dev/mcpdex/internal/catalog/api"
	v0 "github.com/mcpdex-dev/mcpdex/internal/catalog/api/handlers/v0"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/config"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/database"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/dispatch"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/jobs"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/orchestrator"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/sandbox"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/sources"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/syncer"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/telemetry"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/validation"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/vault"
	"github.com/mcpdex-dev/mcpdex/internal/version"
)

// components holds everything App and the one-shot commands share.
type components struct {
	cfg     *config.Config
	store   database.Store
	metrics *telemetry.Metrics
	orch    *orchestrator.Orchestrator
	syncer  *syncer.Syncer
}

// buildComponents constructs the full dependency graph from configuration.
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	v, err := vault.New(cfg.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("initialize credential vault: %w", err)
	}

	// Create a context with timeout for the PostgreSQL connection
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := database.NewPostgreSQL(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	metrics := telemetry.InitMetrics(cfg.Version)

	engine := validation.NewEngine(time.Duration(cfg.ValidationTimeout) * time.Second)
	selector := sandbox.NewSelector(
		sandbox.NewDocker(cfg.SandboxImageNode, cfg.SandboxImagePy, cfg.SandboxMemory, cfg.SandboxCPUs),
		sandbox.NewDirect(),
	)

	var dispatcher dispatch.Dispatcher
	if cfg.DispatchURL != "" {
		dispatcher = dispatch.NewHTTP(cfg.DispatchURL)
	}

	orch := orchestrator.New(store, v, engine, selector, dispatcher, metrics)

	filters := sources.Filters{
		MinStars:     cfg.MinStars,
		StaleAfter:   time.Duration(cfg.StaleAfter) * 24 * time.Hour,
		ExcludeNames: cfg.ExcludeNames,
		ExcludeRepos: excludeSet(cfg.ExcludeRepos),
	}
	github := sources.NewGitHub(cfg.GitHubToken, filters)
	adapters := []sources.Adapter{
		sources.NewCommunity(filters),
		github,
		sources.NewNPM(filters),
	}

	catalogSyncer := syncer.New(store, adapters, github, orch, jobs.NewManager(), metrics,
		time.Duration(cfg.SyncInterval)*time.Minute)
	catalogSyncer.EnrichConcurrency = cfg.WorkerConcurrency

	return &components{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		orch:    orch,
		syncer:  catalogSyncer,
	}, nil
}

func excludeSet(repos []string) map[string]struct{} {
	if len(repos) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(repos))
	for _, repo := range repos {
		if repo != "" {
			set[repo] = struct{}{}
		}
	}
	return set
}

// App runs the catalog server until interrupted.
func App(ctx context.Context) error {
	cfg := config.NewConfig()
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.store.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		} else {
			log.Println("Database connection closed successfully")
		}
	}()

	log.Printf("Starting mcpdex %s (commit: %s)", version.Version, version.GitCommit)

	versionInfo := &v0.VersionBody{
		Version:   version.Version,
		GitCommit: version.GitCommit,
		BuildDate: version.BuildDate,
	}

	server := api.NewServer(cfg, c.store, c.orch, c.syncer, c.metrics, versionInfo)

	// The discovery loop lives for the whole process; cancelled on shutdown.
	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	go c.syncer.Run(syncCtx, cfg.SyncOnStartup)

	// Start server in a goroutine so it doesn't block signal handling
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	stopSync()

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := server.Shutdown(sctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
	return nil
}

// RunSyncOnce executes a single discovery cycle and exits. Used by the sync
// subcommand for cron-style deployments.
func RunSyncOnce(ctx context.Context) error {
	cfg := config.NewConfig()
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.store.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		}
	}()

	result, err := c.syncer.Cycle(ctx, "")
	if err != nil {
		return fmt.Errorf("sync cycle failed: %w", err)
	}
	log.Printf("sync cycle done: fetched=%d filtered=%d errors=%d merged=%d deleted=%d revalidations=%d",
		result.RecordsFetched, result.RecordsFiltered, result.SourceErrors,
		result.ServersMerged, result.ServersDeleted, result.RevalidationsQueued)
	return nil
}

// RunValidateOnce performs one validation attempt for a canonical identity
// and reports the terminal status. Used by the validate subcommand and by
// worker deployments invoked per request.
func RunValidateOnce(ctx context.Context, canonicalID, requester string) error {
	cfg := config.NewConfig()
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.store.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		}
	}()

	req, err := c.orch.Create(ctx, canonicalID, requester)
	if err != nil {
		return err
	}
	log.Printf("validation request %s for %s: status=%s", req.ID, canonicalID, req.Status)
	if req.Error != "" {
		log.Printf("  error: %s", req.Error)
	}
	if req.Result != nil && req.Result.Capabilities != nil {
		log.Printf("  tools=%d resources=%d prompts=%d",
			len(req.Result.Capabilities.Tools),
			len(req.Result.Capabilities.Resources),
			len(req.Result.Capabilities.Prompts))
	}
	return nil
}

// RunWorker drains one dispatched request by ID: decrypt stored secrets,
// execute the attempt locally, record the outcome.
func RunWorker(ctx context.Context, requestID string) error {
	cfg := config.NewConfig()
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.store.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		}
	}()

	req, err := c.orch.ExecuteQueued(ctx, requestID)
	if err != nil {
		return err
	}
	log.Printf("request %s finished: status=%s", req.ID, req.Status)
	return nil
}
