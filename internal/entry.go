// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tenantgraph/internal/api"
	"github.com/starford/tenantgraph/internal/extraction"
	"github.com/starford/tenantgraph/internal/graphstore"
	"github.com/starford/tenantgraph/internal/inbox"
	"github.com/starford/tenantgraph/internal/journal"
	"github.com/starford/tenantgraph/internal/oracle"
	"github.com/starford/tenantgraph/internal/pipeline"
	"github.com/starford/tenantgraph/internal/querying"
	"github.com/starford/tenantgraph/internal/sse"
	"github.com/starford/tenantgraph/internal/storage"
)

var errConfigRequired = errors.New("config is required")

// components are the long-lived collaborators shared by every command.
type components struct {
	store    *graphstore.Store
	journal  *journal.DB
	registry *extraction.Registry
	broker   *sse.Broker
	pipeline *pipeline.Service
}

func (c *components) close() {
	if c.broker != nil {
		c.broker.Close()
	}
	if c.journal != nil {
		_ = c.journal.Close()
	}
	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.store.Close(ctx)
	}
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (*graphstore.Store, error) {
	store, err := graphstore.Open(ctx, graphstore.Config{
		URI:            cfg.Neo4j.URI,
		Username:       cfg.Neo4j.Username,
		Password:       cfg.Neo4j.Password,
		Database:       cfg.Neo4j.Database,
		MaxPoolSize:    cfg.Neo4j.MaxPoolSize,
		AcquireTimeout: cfg.Neo4j.AcquireTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	return store, nil
}

// build wires the graph store, oracle, journal and pipeline. Metrics register
// with reg; a nil reg keeps them private to the pipeline.
func build(ctx context.Context, cfg *Config, logger *slog.Logger, reg prometheus.Registerer) (*components, error) {
	c := &components{}

	registry, err := extraction.NewRegistry(cfg.Labels.NodeTypes, cfg.Labels.RelationshipTypes, cfg.Labels.AllowNew)
	if err != nil {
		return nil, fmt.Errorf("label registry: %w", err)
	}
	c.registry = registry

	client, err := oracle.NewClient(oracle.Config{
		BaseURL:         cfg.Oracle.BaseURL,
		APIKey:          cfg.Oracle.APIKey,
		Model:           cfg.Oracle.Model,
		Timeout:         cfg.Oracle.Timeout,
		BreakerFailures: cfg.Oracle.BreakerFailures,
		BreakerCooldown: cfg.Oracle.BreakerCooldown,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init oracle: %w", err)
	}

	if c.store, err = openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := c.store.EnsureLabels(ctx, registry.NodeTypes()...); err != nil {
		c.close()
		return nil, fmt.Errorf("ensure label constraints: %w", err)
	}

	if c.journal, err = journal.Open(cfg.Journal.Path); err != nil {
		c.close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	var metrics *pipeline.Metrics
	if reg != nil {
		if metrics, err = pipeline.NewMetrics(reg); err != nil {
			c.close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	c.broker = sse.NewBroker(cfg.Events.SchemaThrottle)

	c.pipeline, err = pipeline.New(pipeline.Config{
		Store:         c.store,
		Extractor:     oracle.NewExtractor(client, registry),
		Translator:    querying.NewTranslator(oracle.NewQueryWriter(client)),
		Summarizer:    querying.NewSummarizer(oracle.NewExplainer(client)),
		Validator:     extraction.NewValidator(registry),
		Journal:       c.journal,
		Publisher:     c.broker,
		Metrics:       metrics,
		OracleTimeout: cfg.Oracle.Timeout,
	})
	if err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

// Run starts the HTTP server, and the inbox watcher when enabled, until ctx
// is cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, app.output(os.Stdout))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("version", app.version),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("neo4j_uri", cfg.Neo4j.URI),
		slog.String("oracle_model", cfg.Oracle.Model),
		slog.String("journal_path", cfg.Journal.Path),
		slog.Bool("inbox_enabled", cfg.Inbox.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := build(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer c.close()

	apiRouter := api.NewRouter(api.Services{
		Pipeline: c.pipeline,
		Runs:     c.journal,
		Tenants:  c.store,
	}, cfg.Auth.AuthEnabled(), cfg.Auth.Token, c.broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.RequestLogger(logger))

	// Health and metrics endpoints are unauthenticated.
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := c.store.Ping(pingCtx); err != nil {
			logger.Warn("readiness check failed", slog.String("error", err.Error()))
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Inbox.Enabled {
		if err := os.MkdirAll(cfg.Inbox.Path, 0o755); err != nil {
			return fmt.Errorf("create inbox dir: %w", err)
		}
		files, err := storage.NewFS(cfg.Inbox.Path)
		if err != nil {
			return fmt.Errorf("init inbox: %w", err)
		}
		watcher := inbox.New(files, c.pipeline, c.journal, logger)
		g.Go(func() error {
			return watcher.Watch(gCtx)
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		// Stops the inbox watcher.
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}
