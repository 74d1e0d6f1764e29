package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/tenantgraph/internal/oracle"
)

const contractURI = "tenantgraph://extraction-format"

// Contract describes how agents feed text into the graph and what the
// extraction step produces. vocab may be nil.
func Contract(vocab oracle.Vocabulary) string {
	var b strings.Builder
	b.WriteString(`# tenantgraph Extraction Contract

Every call is scoped to one tenant. Pass the tenant id returned by
provisioning as ` + "`tenantId`" + `; unknown tenants are rejected before any
extraction happens.

## Ingestion

` + "`ingest_text`" + ` sends free text through the extraction oracle. The oracle
answers with a document in the following format, which is validated and
merged into the tenant's graph:

` + "```json\n")
	b.WriteString(oracle.ExtractionFormat)
	b.WriteString("\n```\n\n")

	b.WriteString(`Merging is idempotent: a node is identified by (type, name) within the
tenant, a relationship by (from, to, type). Relationships whose endpoints are
not among the document's nodes are reported as skipped, never created.

`)

	if vocab != nil {
		b.WriteString("## Vocabulary\n\n")
		fmt.Fprintf(&b, "- Node types: %s\n", joinOrNone(vocab.NodeTypes()))
		fmt.Fprintf(&b, "- Relationship types: %s\n", joinOrNone(vocab.RelationshipTypes()))
		if vocab.AllowNew() {
			b.WriteString("- New types are admitted and registered on first use.\n")
		} else {
			b.WriteString("- Types outside this list are rejected as UnsafeLabel.\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(`## Questions

` + "`query_graph`" + ` translates a question into a read-only Cypher statement
restricted to the tenant, runs it and explains the rows. Call ` + "`get_schema`" + `
first to see which node and relationship types the tenant uses.
`)
	return b.String()
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "(none)"
	}
	return strings.Join(values, ", ")
}
