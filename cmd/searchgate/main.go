// Searchgate is a search-request admission gateway with HTTP transport.
//
// This binary starts the searchgate HTTP server with full service
// initialization, including NATS-backed rate limiting, quota accounting,
// two-tier result caching, and the embedded vector store.
//
// Configuration is loaded from a YAML file and environment variables.
// See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	searchgate
//
//	# Configure via file and environment
//	searchgate -config /etc/searchgate/config.yaml
//	SEARCHGATE_SERVER_PORT=9480 searchgate
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fernwehlabs/searchgate/internal/cache"
	"github.com/fernwehlabs/searchgate/internal/config"
	"github.com/fernwehlabs/searchgate/internal/embeddings"
	httpserver "github.com/fernwehlabs/searchgate/internal/http"
	"github.com/fernwehlabs/searchgate/internal/identity"
	"github.com/fernwehlabs/searchgate/internal/logging"
	"github.com/fernwehlabs/searchgate/internal/quota"
	"github.com/fernwehlabs/searchgate/internal/ratelimit"
	"github.com/fernwehlabs/searchgate/internal/search"
	"github.com/fernwehlabs/searchgate/internal/tracking"
	"github.com/fernwehlabs/searchgate/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/searchgate/config.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("searchgate by Fernweh Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// run starts the searchgate server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Connects to NATS (or falls back to in-memory stores)
//  4. Creates the embedding service and vector store
//  5. Wires the admission pipeline (rate limiter, quota, cache, tracker)
//  6. Starts the HTTP server
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "Starting searchgate",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	orchestrator, err := search.NewOrchestrator(
		cfg.Search,
		deps.limiter,
		deps.quotas,
		deps.resultCache,
		deps.tracker,
		deps.engine,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	srv, err := httpserver.NewServer(orchestrator, deps.vectorStore, deps.resolver, logger.Underlying(), cfg.Server.HTTP())
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info(ctx, "Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("search_endpoint", "/api/v1/search"),
		zap.String("metrics_endpoint", "/metrics"))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(ctx, "Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	natsConn    *nats.Conn
	limiter     *ratelimit.Limiter
	quotas      *quota.Manager
	resultCache *cache.MultiLayer[[]search.Result]
	tracker     *tracking.Tracker
	engine      *vectorstore.Engine
	vectorStore vectorstore.Store
	resolver    identity.Resolver
	logger      *logging.Logger
}

// Close releases all infrastructure resources in reverse dependency order.
func (d *dependencies) Close() {
	if d.tracker != nil {
		d.tracker.Close()
	}
	if d.vectorStore != nil {
		_ = d.vectorStore.Close()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// initDependencies wires the admission pipeline.
//
// With NATS enabled, rate-limit counters, quota ledgers, the shared cache
// layer, and the analytics stream all live in JetStream so multiple
// instances share state. Without it, everything is in-process.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	var (
		counterStore ratelimit.CounterStore
		quotaStore   quota.Store
		sharedLayer  cache.Layer
		sink         tracking.Sink
	)

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.ReconnectWait(cfg.NATS.ReconnectWait),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		deps.natsConn = nc

		logger.Info(ctx, "Connected to NATS", zap.String("url", cfg.NATS.URL))

		// Counter entries only need to outlive the longest window.
		maxAge := cfg.Search.UserWindow
		if cfg.Search.OrgWindow > maxAge {
			maxAge = cfg.Search.OrgWindow
		}
		counterStore, err = ratelimit.NewNATSCounterStore(nc, maxAge)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to create rate-limit store: %w", err)
		}
		quotaStore, err = quota.NewNATSStore(nc)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to create quota store: %w", err)
		}
		sharedLayer, err = cache.NewNATSLayer(nc, cfg.Cache.TTL)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to create shared cache layer: %w", err)
		}
		sink, err = tracking.NewNATSSink(nc)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to create analytics sink: %w", err)
		}
	} else {
		logger.Warn(ctx, "NATS disabled; using in-memory stores (single-instance only)")
		counterStore = ratelimit.NewMemoryCounterStore()
		quotaStore = quota.NewMemoryStore()
		sharedLayer = cache.NewMemoryLayer()
		sink = tracking.NewLogSink(logger)
	}

	deps.limiter = ratelimit.NewLimiter(counterStore, logger)

	quotas, err := quota.NewManager(quotaStore, cfg.Quota, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create quota manager: %w", err)
	}
	deps.quotas = quotas

	resultCache, err := cache.NewMultiLayer[[]search.Result](cfg.Cache, sharedLayer, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	deps.resultCache = resultCache

	tracker, err := tracking.NewTracker(cfg.Tracking, sink, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}
	deps.tracker = tracker

	embedder, err := embeddings.NewService(cfg.Embeddings)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	logger.Info(ctx, "Embedding service initialized",
		zap.String("base_url", cfg.Embeddings.BaseURL),
		zap.String("model", cfg.Embeddings.Model))

	store, err := vectorstore.NewChromemStore(cfg.VectorStore, embedder, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	deps.vectorStore = store

	engine, err := vectorstore.NewEngine(cfg.Engine, store)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create search engine: %w", err)
	}
	deps.engine = engine

	tokens := make(map[string]identity.Identity, len(cfg.Auth.Tokens))
	for token, id := range cfg.Auth.Tokens {
		tokens[token] = identity.Identity{UserID: id.UserID, OrgID: id.OrgID}
	}
	if len(tokens) == 0 {
		logger.Warn(ctx, "No auth tokens configured; all requests will be rejected")
	}
	resolver, err := identity.NewStaticResolver(tokens)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create identity resolver: %w", err)
	}
	deps.resolver = resolver

	return deps, nil
}
