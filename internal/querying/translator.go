// Package querying turns natural-language questions into tenant-scoped
// Cypher and query results into structured explanations.
package querying

import (
	"context"
	"log/slog"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/ctxlog"
	"github.com/starford/tenantgraph/internal/cypher"
	"github.com/starford/tenantgraph/internal/models"
	"github.com/starford/tenantgraph/internal/oracle"
)

// Writer produces a candidate statement for a question.
type Writer interface {
	WriteQuery(ctx context.Context, question string, schema models.Schema) (string, error)
}

// Translator converts a question into a Cypher statement carrying the tenant
// ownership predicate.
type Translator struct {
	w Writer
}

// NewTranslator creates a Translator.
func NewTranslator(w Writer) *Translator {
	return &Translator{w: w}
}

// Translate asks the writer for a statement, strips markdown fences and
// surrounding prose, and rejects a statement without the tenant predicate.
// The statement is never repaired; a rejected one is still returned alongside
// the error for reporting. The tenant id is not part of the text, it is bound
// as $tenantId at execution.
func (t *Translator) Translate(ctx context.Context, tenantID, question string, schema models.Schema) (string, error) {
	const op = "querying.Translate"

	raw, err := t.w.WriteQuery(ctx, question, schema)
	if err != nil {
		return "", err
	}
	query := oracle.StripFences(raw)
	if query == "" {
		return "", apperr.New(apperr.KindUnsafeQuery, op, "oracle returned an empty statement")
	}
	if !cypher.HasTenantPredicate(query) {
		ctxlog.FromContext(ctx).Warn("translated query lacks tenant predicate",
			slog.String("tenant_id", tenantID),
			slog.String("query", query))
		return query, apperr.New(apperr.KindUnsafeQuery, op, "statement does not contain the tenant ownership predicate").
			WithFragment(query)
	}
	return query, nil
}
