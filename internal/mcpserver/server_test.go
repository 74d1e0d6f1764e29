package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/extraction"
	"github.com/starford/tenantgraph/internal/models"
	"github.com/starford/tenantgraph/internal/pipeline"
)

type stubPipeline struct {
	ingested []string
	ingest   pipeline.IngestResult
	query    pipeline.QueryResult
	schema   models.Schema
	err      error
}

func (p *stubPipeline) Ingest(_ context.Context, tenantID, text string) (pipeline.IngestResult, error) {
	p.ingested = append(p.ingested, tenantID+":"+text)
	return p.ingest, p.err
}

func (p *stubPipeline) Query(context.Context, string, string) (pipeline.QueryResult, error) {
	return p.query, p.err
}

func (p *stubPipeline) Schema(context.Context, string) (models.Schema, error) {
	return p.schema, p.err
}

func testServer(t *testing.T, pipe *stubPipeline) *Server {
	t.Helper()
	reg, err := extraction.NewRegistry([]string{"Person", "Company"}, []string{"WORKS_AT"}, false)
	if err != nil {
		t.Fatal(err)
	}
	return New(pipe, reg, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "ingest_text":
		result, err = srv.ingestText(ctx, req)
	case "query_graph":
		result, err = srv.queryGraph(ctx, req)
	case "get_schema":
		result, err = srv.getSchema(ctx, req)
	case "get_extraction_contract":
		result, err = srv.getExtractionContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestIngestText(t *testing.T) {
	pipe := &stubPipeline{ingest: pipeline.IngestResult{
		Nodes:  []models.NodeSpec{{Type: "Person", Name: "Alice"}},
		Report: models.UpsertReport{NodesCreated: 1},
	}}
	srv := testServer(t, pipe)

	r := callTool(t, srv, "ingest_text", map[string]any{"tenantId": "acme", "text": "Alice."})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}
	var got pipeline.IngestResult
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if got.Report.NodesCreated != 1 {
		t.Errorf("nodesCreated = %d", got.Report.NodesCreated)
	}
	if len(pipe.ingested) != 1 || pipe.ingested[0] != "acme:Alice." {
		t.Errorf("ingested = %v", pipe.ingested)
	}
}

func TestIngestText_MissingArgument(t *testing.T) {
	pipe := &stubPipeline{}
	srv := testServer(t, pipe)

	r := callTool(t, srv, "ingest_text", map[string]any{"text": "Alice."})
	if !r.IsError {
		t.Error("expected error without tenantId")
	}
	if len(pipe.ingested) != 0 {
		t.Error("pipeline must not be called")
	}
}

func TestIngestText_KindInError(t *testing.T) {
	srv := testServer(t, &stubPipeline{err: apperr.New(apperr.KindTenantNotFound, "pipeline.Ingest", "tenant does not exist")})

	r := callTool(t, srv, "ingest_text", map[string]any{"tenantId": "nope", "text": "x"})
	if !r.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(resultText(r), "TenantNotFound") {
		t.Errorf("error text = %q", resultText(r))
	}
}

func TestQueryGraph(t *testing.T) {
	srv := testServer(t, &stubPipeline{query: pipeline.QueryResult{
		Query:   "MATCH (p:Person)-[:BELONGS_TO]->(:Tenant {id: $tenantId}) RETURN p.name",
		Rows:    models.ResultSet{Columns: []string{"p.name"}, Rows: []models.Row{{"p.name": "Alice"}}},
		Summary: models.Summary{Summary: "One person.", Insights: []string{}},
	}})

	r := callTool(t, srv, "query_graph", map[string]any{"tenantId": "acme", "question": "Who is here?"})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "One person.") {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestQueryGraph_RejectedStatementReported(t *testing.T) {
	srv := testServer(t, &stubPipeline{
		query: pipeline.QueryResult{Query: "MATCH (n) DETACH DELETE n"},
		err:   apperr.New(apperr.KindUnsafeQuery, "cypher.Validate", "mutating keyword"),
	})

	r := callTool(t, srv, "query_graph", map[string]any{"tenantId": "acme", "question": "Delete it all"})
	if !r.IsError {
		t.Fatal("expected error result")
	}
	text := resultText(r)
	if !strings.Contains(text, "UnsafeQuery") || !strings.Contains(text, "DETACH DELETE") {
		t.Errorf("error text = %q", text)
	}
}

func TestGetSchema(t *testing.T) {
	srv := testServer(t, &stubPipeline{schema: models.Schema{
		NodeTypes:         []string{"Company", "Person"},
		RelationshipTypes: []string{"WORKS_AT"},
	}})

	r := callTool(t, srv, "get_schema", map[string]any{"tenantId": "acme"})
	var got models.Schema
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(got.NodeTypes) != 2 || got.RelationshipTypes[0] != "WORKS_AT" {
		t.Errorf("schema = %+v", got)
	}
}

func TestGetExtractionContract(t *testing.T) {
	srv := testServer(t, &stubPipeline{})

	text := resultText(callTool(t, srv, "get_extraction_contract", map[string]any{}))
	for _, want := range []string{"from_id", "Company, Person", "WORKS_AT", "rejected as UnsafeLabel"} {
		if !strings.Contains(text, want) {
			t.Errorf("contract missing %q", want)
		}
	}
}

func TestExtractionFormatResource(t *testing.T) {
	srv := testServer(t, &stubPipeline{})

	contents, err := srv.readExtractionFormat(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("unexpected content type %T", contents[0])
	}
	if tc.URI != contractURI || !strings.Contains(tc.Text, `"nodes"`) {
		t.Errorf("resource = %+v", tc)
	}
}

func TestContract_NilVocabulary(t *testing.T) {
	text := Contract(nil)
	if strings.Contains(text, "## Vocabulary") {
		t.Error("nil vocabulary must not render a vocabulary section")
	}
}
