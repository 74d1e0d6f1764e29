package querying

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/models"
	"github.com/starford/tenantgraph/internal/oracle"
)

// Explainer produces a raw JSON explanation of query results.
type Explainer interface {
	Explain(ctx context.Context, rows models.ResultSet, query, question string) (string, error)
}

// Summarizer turns query results into a structured Summary.
type Summarizer struct {
	e Explainer
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(e Explainer) *Summarizer {
	return &Summarizer{e: e}
}

// Summarize explains rows in terms of the original question. An answer
// without a summary string or an insights array is OracleMalformed.
func (s *Summarizer) Summarize(ctx context.Context, rows models.ResultSet, query, question string) (models.Summary, error) {
	raw, err := s.e.Explain(ctx, rows, query, question)
	if err != nil {
		return models.Summary{}, err
	}
	return ParseSummary(oracle.StripFences(raw))
}

// ParseSummary decodes a summarizer answer. Non-string insights are kept in
// their JSON form; limitations may be a string or a list of strings.
func ParseSummary(raw string) (models.Summary, error) {
	const op = "querying.Summarize"

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return models.Summary{}, apperr.Wrap(apperr.KindOracleMalformed, op, fmt.Errorf("answer is not a JSON object: %w", err))
	}

	var out models.Summary
	rawSummary, ok := doc["summary"]
	if !ok {
		return models.Summary{}, apperr.New(apperr.KindOracleMalformed, op, "missing key").WithFragment("summary")
	}
	if err := json.Unmarshal(rawSummary, &out.Summary); err != nil || string(rawSummary) == "null" {
		return models.Summary{}, apperr.New(apperr.KindOracleMalformed, op, "must be a string").WithFragment("summary")
	}

	rawInsights, ok := doc["insights"]
	if !ok {
		return models.Summary{}, apperr.New(apperr.KindOracleMalformed, op, "missing key").WithFragment("insights")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawInsights, &items); err != nil || items == nil {
		return models.Summary{}, apperr.New(apperr.KindOracleMalformed, op, "must be an array").WithFragment("insights")
	}
	out.Insights = make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out.Insights = append(out.Insights, s)
			continue
		}
		out.Insights = append(out.Insights, string(item))
	}

	if rawLimits, ok := doc["limitations"]; ok {
		out.Limitations = limitations(rawLimits)
	}
	return out, nil
}

func limitations(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}
