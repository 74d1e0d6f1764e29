// Package pipeline orchestrates tenant-scoped ingestion and question answering
// over the graph store and the oracle capabilities.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/ctxlog"
	"github.com/starford/tenantgraph/internal/cypher"
	"github.com/starford/tenantgraph/internal/extraction"
	"github.com/starford/tenantgraph/internal/journal"
	"github.com/starford/tenantgraph/internal/models"
)

const tracerName = "tenantgraph/pipeline"

// Store is the graph store as seen by the pipeline. Every method acquires and
// releases its own session.
type Store interface {
	TenantExists(ctx context.Context, tenantID string) (bool, error)
	Schema(ctx context.Context, tenantID string) (models.Schema, error)
	Upsert(ctx context.Context, tenantID string, delta models.ResolvedDelta) (models.UpsertReport, error)
	Execute(ctx context.Context, tenantID, query string) (models.ResultSet, error)
}

// Extractor turns text into a raw extraction payload.
type Extractor interface {
	Extract(ctx context.Context, text string, schema models.Schema) ([]byte, error)
}

// Translator turns a question into a tenant-scoped statement.
type Translator interface {
	Translate(ctx context.Context, tenantID, question string, schema models.Schema) (string, error)
}

// Summarizer explains query results.
type Summarizer interface {
	Summarize(ctx context.Context, rows models.ResultSet, query, question string) (models.Summary, error)
}

// Journal records finished runs.
type Journal interface {
	Record(ctx context.Context, r journal.Run) (int64, error)
}

// Publisher announces completed ingestions.
type Publisher interface {
	PublishIngest(tenantID, source string, report models.UpsertReport)
}

// Config wires a Service. Store, Extractor, Translator, Summarizer and
// Validator are required.
type Config struct {
	Store      Store
	Extractor  Extractor
	Translator Translator
	Summarizer Summarizer
	Validator  *extraction.Validator

	Journal   Journal
	Publisher Publisher
	Metrics   *Metrics

	// OracleTimeout bounds every oracle call. Defaults to 60s.
	OracleTimeout time.Duration
}

// Service runs the ingestion and query flows.
type Service struct {
	store      Store
	extractor  Extractor
	translator Translator
	summarizer Summarizer
	validator  *extraction.Validator
	journal    Journal
	publisher  Publisher
	metrics    *Metrics
	timeout    time.Duration
	tracer     trace.Tracer
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Extractor == nil || cfg.Translator == nil || cfg.Summarizer == nil || cfg.Validator == nil {
		return nil, errors.New("pipeline: store, extractor, translator, summarizer and validator are required")
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 60 * time.Second
	}
	if cfg.Metrics == nil {
		m, err := NewMetrics(prometheus.NewRegistry())
		if err != nil {
			return nil, fmt.Errorf("pipeline: metrics: %w", err)
		}
		cfg.Metrics = m
	}
	return &Service{
		store:      cfg.Store,
		extractor:  cfg.Extractor,
		translator: cfg.Translator,
		summarizer: cfg.Summarizer,
		validator:  cfg.Validator,
		journal:    cfg.Journal,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		timeout:    cfg.OracleTimeout,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// Document is a unit of text to ingest. Source and Checksum identify where it
// came from and are recorded in the journal.
type Document struct {
	TenantID string
	Text     string
	Source   string
	Checksum string
}

// IngestResult is the outcome of one ingestion.
type IngestResult struct {
	Nodes         []models.NodeSpec         `json:"nodes"`
	Relationships []models.RelationshipSpec `json:"relationships"`
	Report        models.UpsertReport       `json:"report"`
}

// QueryResult is the outcome of one question. Query is set as soon as a
// statement was produced, also when a later step fails.
type QueryResult struct {
	Query   string           `json:"query"`
	Rows    models.ResultSet `json:"rows"`
	Summary models.Summary   `json:"summary"`
}

// Ingest extracts entities and relationships from text and merges them into
// the tenant's graph.
func (s *Service) Ingest(ctx context.Context, tenantID, text string) (IngestResult, error) {
	return s.IngestDocument(ctx, Document{TenantID: tenantID, Text: text})
}

// IngestDocument runs the ingestion flow. The tenant is checked before the
// oracle is called; no store session is held while the oracle runs.
func (s *Service) IngestDocument(ctx context.Context, doc Document) (res IngestResult, err error) {
	const op = "pipeline.Ingest"

	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("tenant.id", doc.TenantID),
		attribute.String("source", doc.Source),
	))
	defer span.End()
	ctx = ctxlog.With(ctx, slog.String("tenant_id", doc.TenantID), slog.String("op", op))

	defer func() {
		err = apperr.Ensure(op, err)
		s.finishIngest(ctx, span, doc, res, err)
	}()

	if strings.TrimSpace(doc.TenantID) == "" {
		return IngestResult{}, apperr.New(apperr.KindInvalidRequest, op, "tenantId is required")
	}
	if strings.TrimSpace(doc.Text) == "" {
		return IngestResult{}, apperr.New(apperr.KindInvalidRequest, op, "text is required")
	}
	if err := s.requireTenant(ctx, op, doc.TenantID); err != nil {
		return IngestResult{}, err
	}

	schema, err := s.store.Schema(ctx, doc.TenantID)
	if err != nil {
		return IngestResult{}, err
	}

	raw, err := callOracle(ctx, s, "extract", func(ctx context.Context) ([]byte, error) {
		return s.extractor.Extract(ctx, doc.Text, schema)
	})
	if err != nil {
		return IngestResult{}, err
	}

	delta, err := s.validator.Validate(raw)
	if err != nil {
		return IngestResult{}, err
	}
	resolved := extraction.Resolve(delta)
	span.SetAttributes(
		attribute.Int("delta.nodes", len(resolved.Nodes)),
		attribute.Int("delta.edges", len(resolved.Edges)),
		attribute.Int("delta.unresolved", len(resolved.Skipped)),
	)

	report, err := s.store.Upsert(ctx, doc.TenantID, resolved)
	if err != nil {
		return IngestResult{}, err
	}

	return IngestResult{
		Nodes:         delta.Nodes,
		Relationships: delta.Relationships,
		Report:        report,
	}, nil
}

func (s *Service) finishIngest(ctx context.Context, span trace.Span, doc Document, res IngestResult, err error) {
	logger := ctxlog.FromContext(ctx)
	run := journal.Run{
		TenantID: doc.TenantID,
		Kind:     journal.KindIngest,
		Source:   doc.Source,
		Checksum: doc.Checksum,
	}

	if err != nil {
		kind := apperr.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		s.metrics.ingestTotal.WithLabelValues(string(kind)).Inc()
		logger.Warn("ingestion failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		run.ErrorKind = string(kind)
		run.Detail = err.Error()
		s.record(ctx, run)
		return
	}

	report := res.Report
	span.SetAttributes(
		attribute.Int("nodes.created", report.NodesCreated),
		attribute.Int("nodes.matched", report.NodesMatched),
		attribute.Int("edges.created", report.EdgesCreated),
		attribute.Int("edges.skipped", report.EdgesSkipped),
	)
	span.SetStatus(codes.Ok, "")
	s.metrics.ingestTotal.WithLabelValues("ok").Inc()
	s.metrics.recordReport(report)
	logger.Info("ingestion completed",
		slog.Int("nodes_created", report.NodesCreated),
		slog.Int("nodes_matched", report.NodesMatched),
		slog.Int("edges_created", report.EdgesCreated),
		slog.Int("edges_skipped", report.EdgesSkipped))

	run.NodesCreated = report.NodesCreated
	run.NodesMatched = report.NodesMatched
	run.EdgesCreated = report.EdgesCreated
	run.EdgesSkipped = report.EdgesSkipped
	s.record(ctx, run)

	if s.publisher != nil {
		s.publisher.PublishIngest(doc.TenantID, doc.Source, report)
	}
}

// Query answers a natural-language question from the tenant's graph.
func (s *Service) Query(ctx context.Context, tenantID, question string) (res QueryResult, err error) {
	const op = "pipeline.Query"

	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()
	ctx = ctxlog.With(ctx, slog.String("tenant_id", tenantID), slog.String("op", op))

	defer func() {
		err = apperr.Ensure(op, err)
		s.finishQuery(ctx, span, tenantID, res, err)
	}()

	if strings.TrimSpace(tenantID) == "" {
		return QueryResult{}, apperr.New(apperr.KindInvalidRequest, op, "tenantId is required")
	}
	if strings.TrimSpace(question) == "" {
		return QueryResult{}, apperr.New(apperr.KindInvalidRequest, op, "query is required")
	}
	if err := s.requireTenant(ctx, op, tenantID); err != nil {
		return QueryResult{}, err
	}

	schema, err := s.store.Schema(ctx, tenantID)
	if err != nil {
		return QueryResult{}, err
	}

	query, err := callOracle(ctx, s, "translate", func(ctx context.Context) (string, error) {
		return s.translator.Translate(ctx, tenantID, question, schema)
	})
	res.Query = query
	if err != nil {
		return res, err
	}
	if err := cypher.Validate(query); err != nil {
		return res, err
	}

	rows, err := s.store.Execute(ctx, tenantID, query)
	if err != nil {
		return res, err
	}
	res.Rows = rows

	summary, err := callOracle(ctx, s, "summarize", func(ctx context.Context) (models.Summary, error) {
		return s.summarizer.Summarize(ctx, rows, query, question)
	})
	if err != nil {
		return res, err
	}
	res.Summary = summary
	return res, nil
}

func (s *Service) finishQuery(ctx context.Context, span trace.Span, tenantID string, res QueryResult, err error) {
	logger := ctxlog.FromContext(ctx)
	run := journal.Run{
		TenantID: tenantID,
		Kind:     journal.KindQuery,
		Detail:   res.Query,
	}

	if err != nil {
		kind := apperr.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		s.metrics.queryTotal.WithLabelValues(string(kind)).Inc()
		logger.Warn("query failed",
			slog.String("kind", string(kind)),
			slog.String("query", res.Query),
			slog.String("error", err.Error()))
		run.ErrorKind = string(kind)
		if run.Detail == "" {
			run.Detail = err.Error()
		}
		s.record(ctx, run)
		return
	}

	rowCount := len(res.Rows.Rows)
	span.SetAttributes(attribute.Int("rows", rowCount))
	span.SetStatus(codes.Ok, "")
	s.metrics.queryTotal.WithLabelValues("ok").Inc()
	s.metrics.queryRows.Observe(float64(rowCount))
	logger.Info("query completed", slog.Int("rows", rowCount))

	run.RowCount = rowCount
	s.record(ctx, run)
}

// Schema returns the vocabulary in use by a tenant. Unknown tenants yield an
// empty schema.
func (s *Service) Schema(ctx context.Context, tenantID string) (models.Schema, error) {
	const op = "pipeline.Schema"
	if strings.TrimSpace(tenantID) == "" {
		return models.Schema{}, apperr.New(apperr.KindInvalidRequest, op, "tenantId is required")
	}
	schema, err := s.store.Schema(ctx, tenantID)
	return schema, apperr.Ensure(op, err)
}

func (s *Service) requireTenant(ctx context.Context, op, tenantID string) error {
	ok, err := s.store.TenantExists(ctx, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Newf(apperr.KindTenantNotFound, op, "tenant %q does not exist", tenantID).WithFragment(tenantID)
	}
	return nil
}

// record writes a journal entry. The journal is outside the graph core, so a
// failure is logged and otherwise ignored.
func (s *Service) record(ctx context.Context, run journal.Run) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Record(context.WithoutCancel(ctx), run); err != nil {
		ctxlog.FromContext(ctx).Error("journal write failed", slog.String("error", err.Error()))
	}
}

// callOracle runs fn under the oracle timeout and observes its latency. A
// deadline hit while fn runs is reported as Timeout whatever fn returned.
func callOracle[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	v, err := fn(ctx)
	s.metrics.oracleSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && apperr.KindOf(err) != apperr.KindTimeout {
		return v, apperr.Wrap(apperr.KindTimeout, "oracle."+op, err)
	}
	return v, err
}
