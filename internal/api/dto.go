package api

import (
	"github.com/starford/tenantgraph/internal/journal"
	"github.com/starford/tenantgraph/internal/models"
	"github.com/starford/tenantgraph/internal/pipeline"
)

// ExtractRequest is the request body for ingesting text.
type ExtractRequest struct {
	TenantID string `json:"tenantId" example:"6f1c2d3e-..." validate:"required"`
	Text     string `json:"text" example:"Alice works at Acme." validate:"required"`
}

// ExtractResponse is returned after a successful ingestion.
type ExtractResponse = pipeline.IngestResult

// QueryRequest is the request body for asking a question.
type QueryRequest struct {
	TenantID string `json:"tenantId" example:"6f1c2d3e-..." validate:"required"`
	Query    string `json:"query" example:"Who works at Acme?" validate:"required"`
}

// QueryResponse is returned by POST /api/query, on success and on failure.
type QueryResponse struct {
	Success bool          `json:"success"`
	Query   string        `json:"query,omitempty"`
	Results *QueryResults `json:"results,omitempty"`
	Error   string        `json:"error,omitempty"`
	Kind    string        `json:"kind,omitempty"`
}

// QueryResults holds the rows and their explanation.
type QueryResults struct {
	Columns           []string       `json:"columns"`
	RawResults        []models.Row   `json:"rawResults"`
	FormattedResponse models.Summary `json:"formattedResponse"`
}

// SchemaResponse lists a tenant's vocabulary.
type SchemaResponse = models.Schema

// RunsResponse wraps journal entries, newest first.
type RunsResponse struct {
	Runs []journal.Run `json:"runs" validate:"required"`
}

// CreateTenantRequest is the request body for provisioning a tenant.
type CreateTenantRequest struct {
	DisplayName string `json:"displayName" example:"Acme Corp" validate:"required"`
}

// TenantResponse is returned after provisioning.
type TenantResponse = models.Tenant
