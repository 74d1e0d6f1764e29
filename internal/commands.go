package internal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/starford/tenantgraph/internal/mcpserver"
	"github.com/starford/tenantgraph/internal/models"
)

// RunMCP serves the MCP tools over stdio. Logs go to stderr because stdout
// carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, app.output(os.Stderr))
	slog.SetDefault(logger)

	c, err := build(ctx, app.config, logger, nil)
	if err != nil {
		return err
	}
	defer c.close()

	logger.Info("MCP server starting", slog.String("version", app.version))
	return mcpserver.New(c.pipeline, c.registry, app.version).ServeStdio()
}

// CreateTenant provisions a tenant and returns it. Only the graph store is
// opened.
func CreateTenant(ctx context.Context, displayName string, opts ...Option) (models.Tenant, error) {
	app, err := newApplication(opts)
	if err != nil {
		return models.Tenant{}, err
	}
	logger := newLogger(app.config, app.output(os.Stderr))

	store, err := openStore(ctx, app.config, logger)
	if err != nil {
		return models.Tenant{}, err
	}
	defer func() { _ = store.Close(context.WithoutCancel(ctx)) }()

	t, err := store.CreateTenant(ctx, displayName)
	if err != nil {
		return models.Tenant{}, err
	}
	logger.Info("tenant created", slog.String("tenant_id", t.ID), slog.String("display_name", t.DisplayName))
	return t, nil
}

// ErrResetNotConfirmed is returned by Reset when the caller did not confirm.
var ErrResetNotConfirmed = errors.New("reset deletes every tenant's data; confirm with --yes")

// Reset deletes every node and relationship in the graph store. It must not
// run while the server is handling traffic.
func Reset(ctx context.Context, confirmed bool, opts ...Option) error {
	if !confirmed {
		return ErrResetNotConfirmed
	}
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, app.output(os.Stderr))

	store, err := openStore(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(context.WithoutCancel(ctx)) }()

	if err := store.Reset(ctx); err != nil {
		return err
	}
	logger.Warn("graph store reset")
	return nil
}

func (a *application) output(fallback io.Writer) io.Writer {
	if a.logOutput != nil {
		return a.logOutput
	}
	return fallback
}
