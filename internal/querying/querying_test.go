package querying

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/models"
)

type fixedWriter struct {
	reply string
	err   error
}

func (f fixedWriter) WriteQuery(context.Context, string, models.Schema) (string, error) {
	return f.reply, f.err
}

type fixedExplainer struct {
	reply string
	err   error
}

func (f fixedExplainer) Explain(context.Context, models.ResultSet, string, string) (string, error) {
	return f.reply, f.err
}

var acmeSchema = models.Schema{
	NodeTypes:         []string{"Company", "Person"},
	RelationshipTypes: []string{"WORKS_AT"},
}

func TestTranslate_StripsFences(t *testing.T) {
	reply := "Sure! Here is the query:\n```cypher\n" +
		"MATCH (p:Person)-[:BELONGS_TO]->(t:Tenant {id: $tenantId})\n" +
		"MATCH (p)-[:WORKS_AT]->(c:Company {name: 'Acme'})\n" +
		"RETURN p.name AS name\n```"
	q, err := NewTranslator(fixedWriter{reply: reply}).Translate(context.Background(), "t1", "Who works at Acme?", acmeSchema)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (p:Person)-[:BELONGS_TO]->(t:Tenant {id: $tenantId})\n"+
		"MATCH (p)-[:WORKS_AT]->(c:Company {name: 'Acme'})\n"+
		"RETURN p.name AS name", q)
	assert.NotContains(t, q, "t1")
}

func TestTranslate_RejectsMissingPredicate(t *testing.T) {
	cases := map[string]string{
		"no predicate":   "MATCH (p:Person) RETURN p.name",
		"literal tenant": `MATCH (p:Person)-[:BELONGS_TO]->(:Tenant {id: "t1"}) RETURN p.name`,
		"empty":          "```cypher\n```",
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTranslator(fixedWriter{reply: reply}).Translate(context.Background(), "t1", "q", acmeSchema)
			assert.ErrorIs(t, err, apperr.ErrUnsafeQuery)
		})
	}
}

func TestTranslate_ReturnsRejectedStatement(t *testing.T) {
	q, err := NewTranslator(fixedWriter{reply: "MATCH (p) RETURN p"}).Translate(context.Background(), "t1", "q", acmeSchema)
	require.Error(t, err)
	assert.Equal(t, "MATCH (p) RETURN p", q)
}

func TestTranslate_PropagatesOracleError(t *testing.T) {
	_, err := NewTranslator(fixedWriter{err: apperr.New(apperr.KindTimeout, "oracle.translate", "slow")}).
		Translate(context.Background(), "t1", "q", acmeSchema)
	assert.ErrorIs(t, err, apperr.ErrTimeout)
}

func TestSummarize(t *testing.T) {
	s := NewSummarizer(fixedExplainer{reply: `{
		"summary": "Alice works at Acme.",
		"insights": ["Acme has one employee", {"count": 1}],
		"limitations": ["Only one company was queried", "Names may be partial"]
	}`})
	got, err := s.Summarize(context.Background(), models.ResultSet{}, "MATCH ...", "Who works at Acme?")
	require.NoError(t, err)
	assert.Equal(t, "Alice works at Acme.", got.Summary)
	assert.Equal(t, []string{"Acme has one employee", `{"count": 1}`}, got.Insights)
	assert.Equal(t, "Only one company was queried; Names may be partial", got.Limitations)
}

func TestParseSummary_Malformed(t *testing.T) {
	cases := map[string]struct {
		raw      string
		fragment string
	}{
		"not json":          {`Alice works at Acme.`, ""},
		"missing summary":   {`{"insights": []}`, "summary"},
		"null summary":      {`{"summary": null, "insights": []}`, "summary"},
		"summary not text":  {`{"summary": 3, "insights": []}`, "summary"},
		"missing insights":  {`{"summary": "x"}`, "insights"},
		"insights not list": {`{"summary": "x", "insights": "none"}`, "insights"},
		"insights null":     {`{"summary": "x", "insights": null}`, "insights"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSummary(tc.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrOracleMalformed)
			assert.Equal(t, tc.fragment, apperr.FragmentOf(err))
		})
	}
}

func TestParseSummary_OptionalLimitations(t *testing.T) {
	got, err := ParseSummary(`{"summary": "none", "insights": [], "limitations": null}`)
	require.NoError(t, err)
	assert.Empty(t, got.Limitations)
	assert.NotNil(t, got.Insights)
}
