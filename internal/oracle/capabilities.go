package oracle

import (
	"context"

	"github.com/starford/tenantgraph/internal/models"
)

// Vocabulary exposes the registered labels to the extraction prompt.
// *extraction.Registry satisfies it.
type Vocabulary interface {
	NodeTypes() []string
	RelationshipTypes() []string
	AllowNew() bool
}

// Extractor asks the oracle for a graph delta describing a text.
type Extractor struct {
	c     Completer
	vocab Vocabulary
}

// NewExtractor creates an Extractor. vocab may be nil.
func NewExtractor(c Completer, vocab Vocabulary) *Extractor {
	return &Extractor{c: c, vocab: vocab}
}

// Extract returns the raw JSON document produced by the oracle, with any
// markdown fence removed. The caller validates it.
func (e *Extractor) Extract(ctx context.Context, text string, schema models.Schema) ([]byte, error) {
	out, err := e.c.Complete(ctx, Request{
		Op:     "extract",
		System: extractSystem,
		Prompt: extractionPrompt(text, schema, e.vocab),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}
	return []byte(StripFences(out)), nil
}

// QueryWriter asks the oracle for a Cypher statement answering a question.
type QueryWriter struct {
	c Completer
}

// NewQueryWriter creates a QueryWriter.
func NewQueryWriter(c Completer) *QueryWriter {
	return &QueryWriter{c: c}
}

// WriteQuery returns the oracle's raw answer.
func (w *QueryWriter) WriteQuery(ctx context.Context, question string, schema models.Schema) (string, error) {
	return w.c.Complete(ctx, Request{
		Op:          "translate",
		System:      translateSystem,
		Prompt:      translationPrompt(question, schema),
		Temperature: 0.1,
	})
}

// Explainer asks the oracle to explain query results.
type Explainer struct {
	c Completer
}

// NewExplainer creates an Explainer.
func NewExplainer(c Completer) *Explainer {
	return &Explainer{c: c}
}

// Explain returns the oracle's raw JSON explanation of rows.
func (e *Explainer) Explain(ctx context.Context, rows models.ResultSet, query, question string) (string, error) {
	prompt, err := summaryPrompt(rows, query, question)
	if err != nil {
		return "", err
	}
	return e.c.Complete(ctx, Request{
		Op:          "summarize",
		System:      summarizeSystem,
		Prompt:      prompt,
		Temperature: 0.1,
		JSON:        true,
	})
}
