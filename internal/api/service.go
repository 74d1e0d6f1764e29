package api

import (
	"context"

	"github.com/starford/tenantgraph/internal/journal"
	"github.com/starford/tenantgraph/internal/models"
	"github.com/starford/tenantgraph/internal/pipeline"
)

// Pipeline runs ingestion and queries on behalf of the handlers.
type Pipeline interface {
	Ingest(ctx context.Context, tenantID, text string) (pipeline.IngestResult, error)
	Query(ctx context.Context, tenantID, question string) (pipeline.QueryResult, error)
	Schema(ctx context.Context, tenantID string) (models.Schema, error)
}

// RunLister reads the run journal.
type RunLister interface {
	List(ctx context.Context, tenantID string, limit int) ([]journal.Run, error)
}

// Provisioner creates tenants.
type Provisioner interface {
	CreateTenant(ctx context.Context, displayName string) (models.Tenant, error)
}

// Services bundles what the handlers depend on. Runs and Tenants are optional;
// their routes answer 501 when unset.
type Services struct {
	Pipeline Pipeline
	Runs     RunLister
	Tenants  Provisioner
}
