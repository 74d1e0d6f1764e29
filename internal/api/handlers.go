package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/journal"
	"github.com/starford/tenantgraph/internal/models"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc Services
}

// NewHandler creates a new Handler.
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// Extract handles POST /api/extract.
//
//	@Summary		Extract entities from text and merge them into the tenant's graph
//	@Tags			graph
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ExtractRequest	true	"Text to ingest"
//	@Success		200		{object}	ExtractResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/extract [post]
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("tenantId and text are required"))
		return
	}

	res, err := h.svc.Pipeline.Ingest(r.Context(), req.TenantID, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Nodes == nil {
		res.Nodes = []models.NodeSpec{}
	}
	if res.Relationships == nil {
		res.Relationships = []models.RelationshipSpec{}
	}
	if res.Report.Skipped == nil {
		res.Report.Skipped = []models.SkippedEdge{}
	}
	writeJSON(w, http.StatusOK, res)
}

// Query handles POST /api/query.
//
//	@Summary		Answer a natural-language question from the tenant's graph
//	@Tags			graph
//	@Accept			json
//	@Produce		json
//	@Param			body	body		QueryRequest	true	"Question"
//	@Success		200		{object}	QueryResponse
//	@Failure		400		{object}	QueryResponse
//	@Failure		422		{object}	QueryResponse
//	@Security		BearerAuth
//	@Router			/query [post]
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, QueryResponse{Error: "tenantId and query are required", Kind: string(apperr.KindInvalidRequest)})
		return
	}

	res, err := h.svc.Pipeline.Query(r.Context(), req.TenantID, req.Query)
	if err != nil {
		status, body := failure(r, err)
		writeJSON(w, status, QueryResponse{
			Query: res.Query,
			Error: body.Error,
			Kind:  body.Kind,
		})
		return
	}

	rows := res.Rows.Rows
	if rows == nil {
		rows = []models.Row{}
	}
	columns := res.Rows.Columns
	if columns == nil {
		columns = []string{}
	}
	summary := res.Summary
	if summary.Insights == nil {
		summary.Insights = []string{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Success: true,
		Query:   res.Query,
		Results: &QueryResults{
			Columns:           columns,
			RawResults:        rows,
			FormattedResponse: summary,
		},
	})
}

// Schema handles GET /api/tenants/{tenantID}/schema.
//
//	@Summary		List node labels and relationship types used by a tenant
//	@Tags			tenants
//	@Produce		json
//	@Param			tenantID	path		string	true	"Tenant id"
//	@Success		200			{object}	SchemaResponse
//	@Security		BearerAuth
//	@Router			/tenants/{tenantID}/schema [get]
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.svc.Pipeline.Schema(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if schema.NodeTypes == nil {
		schema.NodeTypes = []string{}
	}
	if schema.RelationshipTypes == nil {
		schema.RelationshipTypes = []string{}
	}
	writeJSON(w, http.StatusOK, schema)
}

// Runs handles GET /api/tenants/{tenantID}/runs.
//
//	@Summary		List recent ingestion and query runs of a tenant
//	@Tags			tenants
//	@Produce		json
//	@Param			tenantID	path		string	true	"Tenant id"
//	@Param			limit		query		int		false	"Maximum entries (default 50)"
//	@Success		200			{object}	RunsResponse
//	@Security		BearerAuth
//	@Router			/tenants/{tenantID}/runs [get]
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	if h.svc.Runs == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody("journal disabled"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.Runs.List(r.Context(), chi.URLParam(r, "tenantID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

// CreateTenant handles POST /api/tenants.
//
//	@Summary		Provision a tenant
//	@Tags			tenants
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateTenantRequest	true	"Tenant"
//	@Success		201		{object}	TenantResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tenants [post]
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	if h.svc.Tenants == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody("provisioning disabled"))
		return
	}
	var req CreateTenantRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("displayName is required"))
		return
	}
	tenant, err := h.svc.Tenants.CreateTenant(r.Context(), strings.TrimSpace(req.DisplayName))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}
