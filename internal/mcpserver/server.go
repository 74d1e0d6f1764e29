// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes tenantgraph ingestion and querying via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tenantgraph/internal/models"
	"github.com/starford/tenantgraph/internal/oracle"
	"github.com/starford/tenantgraph/internal/pipeline"
)

// Pipeline is the part of pipeline.Service the tools use.
type Pipeline interface {
	Ingest(ctx context.Context, tenantID, text string) (pipeline.IngestResult, error)
	Query(ctx context.Context, tenantID, question string) (pipeline.QueryResult, error)
	Schema(ctx context.Context, tenantID string) (models.Schema, error)
}

// Server wraps the MCP server with tenantgraph tools.
type Server struct {
	mcp   *server.MCPServer
	pipe  Pipeline
	vocab oracle.Vocabulary
}

// New creates a new MCP server with all tools registered. vocab may be nil.
func New(pipe Pipeline, vocab oracle.Vocabulary, version string) *Server {
	s := &Server{pipe: pipe, vocab: vocab}

	s.mcp = server.NewMCPServer(
		"tenantgraph",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("ingest_text",
		mcp.WithDescription("Extract entities and relationships from text and merge them into the tenant's graph. "+
			"Read the extraction contract first via get_extraction_contract or the "+contractURI+" resource."),
		mcp.WithString("tenantId", mcp.Required(), mcp.Description("Tenant that owns the extracted data")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Unstructured text to extract from")),
	), s.ingestText)

	s.mcp.AddTool(mcp.NewTool("query_graph",
		mcp.WithDescription("Answer a natural-language question from the tenant's graph. "+
			"Returns the generated Cypher, the result rows and a summary."),
		mcp.WithString("tenantId", mcp.Required(), mcp.Description("Tenant whose graph is queried")),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question in natural language")),
	), s.queryGraph)

	s.mcp.AddTool(mcp.NewTool("get_schema",
		mcp.WithDescription("List the node labels and relationship types used by a tenant."),
		mcp.WithString("tenantId", mcp.Required(), mcp.Description("Tenant id")),
	), s.getSchema)

	s.mcp.AddTool(mcp.NewTool("get_extraction_contract",
		mcp.WithDescription("Returns the extraction format and the registered vocabulary. "+
			"Call this before ingesting text."),
	), s.getExtractionContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Extraction Format",
			mcp.WithResourceDescription("JSON format produced by extraction and the vocabulary it may use."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readExtractionFormat,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) ingestText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenantId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.pipe.Ingest(ctx, tenantID, text)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res)
}

func (s *Server) queryGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenantId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.pipe.Query(ctx, tenantID, question)
	if err != nil {
		if res.Query != "" {
			return mcp.NewToolResultError(fmt.Sprintf("%s\nquery: %s", err.Error(), res.Query)), nil
		}
		return toolError(err), nil
	}
	return jsonResult(res)
}

func (s *Server) getSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenantId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	schema, err := s.pipe.Schema(ctx, tenantID)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(schema)
}

func (s *Server) getExtractionContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(Contract(s.vocab)), nil
}

func (s *Server) readExtractionFormat(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     Contract(s.vocab),
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}
