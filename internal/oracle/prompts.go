package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/starford/tenantgraph/internal/cypher"
	"github.com/starford/tenantgraph/internal/models"
)

const (
	extractSystem   = "You are an information extraction system. You identify entities and the relationships between them in text and return them as strict JSON."
	translateSystem = "You are a database expert who converts natural language questions into read-only Cypher queries for a Neo4j graph database."
	summarizeSystem = "You are a data analyst assistant who interprets query results from a graph database."
)

// ExtractionFormat documents the JSON document the extraction oracle must
// return. It is also served to agents as a resource.
const ExtractionFormat = `{
  "nodes": [
    {"type": "Person", "name": "Alice"},
    {"type": "Company", "name": "Acme"}
  ],
  "relationships": [
    {"from_id": "Person-Alice", "to_id": "Company-Acme", "type": "WORKS_AT"}
  ]
}

Rules:
- "type" of a node is a label such as Person or Company: letters, digits and
  underscores, starting with a letter.
- "name" is the entity's name as written in the text.
- "from_id" and "to_id" reference nodes of the same document as
  "{type}-{name}", e.g. "Person-Alice".
- Relationship "type" is UPPER_SNAKE_CASE, e.g. WORKS_AT.
- Both arrays are required, even when empty.`

func listOrNone(values []string) string {
	if len(values) == 0 {
		return "(none yet)"
	}
	return strings.Join(values, ", ")
}

func extractionPrompt(text string, schema models.Schema, vocab Vocabulary) string {
	var b strings.Builder
	b.WriteString("Extract entities (nodes) and relationships from the text below.\n\n")

	b.WriteString("Types already used by this tenant:\n")
	fmt.Fprintf(&b, "- Node types: %s\n", listOrNone(schema.NodeTypes))
	fmt.Fprintf(&b, "- Relationship types: %s\n\n", listOrNone(schema.RelationshipTypes))

	if vocab != nil {
		b.WriteString("Allowed vocabulary:\n")
		fmt.Fprintf(&b, "- Node types: %s\n", listOrNone(vocab.NodeTypes()))
		fmt.Fprintf(&b, "- Relationship types: %s\n", listOrNone(vocab.RelationshipTypes()))
		if !vocab.AllowNew() {
			b.WriteString("Use only these types. Leave out anything that does not fit them.\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Return a single JSON object in exactly this format:\n")
	b.WriteString(ExtractionFormat)
	b.WriteString("\n\nTEXT TO ANALYZE:\n")
	b.WriteString(text)
	return b.String()
}

func translationPrompt(question string, schema models.Schema) string {
	predicate := cypher.OwnershipPattern("n")
	var b strings.Builder
	b.WriteString("Convert the following natural language question into a Neo4j Cypher query.\n\n")

	b.WriteString("SCHEMA:\n")
	fmt.Fprintf(&b, "- Node types: %s\n", listOrNone(schema.NodeTypes))
	fmt.Fprintf(&b, "- Relationship types: %s\n", listOrNone(schema.RelationshipTypes))
	b.WriteString("- Every node belongs to exactly one tenant through a BELONGS_TO relationship to a Tenant node.\n")
	b.WriteString("- Nodes have a name property.\n\n")

	b.WriteString("CONSTRAINTS:\n")
	fmt.Fprintf(&b, "- Every MATCH pattern must be tied to the current tenant with %s,\n", predicate)
	b.WriteString("  either directly or by reusing a variable that is already tied to it.\n")
	fmt.Fprintf(&b, "- Always write the tenant id as the parameter $%s. Never write an id literally.\n", cypher.TenantParam)
	b.WriteString("- Only read: MATCH, OPTIONAL MATCH, WHERE, WITH, RETURN, ORDER BY, SKIP, LIMIT.\n")
	b.WriteString("- Never use CREATE, MERGE, SET, DELETE, REMOVE, CALL, LOAD, FOREACH or UNION.\n")
	b.WriteString("- A single statement with a RETURN clause; give returned values clear aliases.\n\n")

	b.WriteString("EXAMPLES:\n\n")
	b.WriteString("Question: Show me all Person nodes\n")
	b.WriteString("MATCH (p:Person)-[:BELONGS_TO]->(:Tenant {id: $tenantId})\nRETURN p.name AS name\n\n")
	b.WriteString("Question: Which companies are related to John?\n")
	b.WriteString("MATCH (p:Person {name: 'John'})-[:BELONGS_TO]->(t:Tenant {id: $tenantId})\n")
	b.WriteString("MATCH (p)-[r]-(c:Company)-[:BELONGS_TO]->(t)\n")
	b.WriteString("RETURN p.name AS person, type(r) AS relationship, c.name AS company\n\n")

	b.WriteString("QUESTION:\n")
	b.WriteString(question)
	b.WriteString("\n\nReturn ONLY the Cypher query, with no explanation.")
	return b.String()
}

func summaryPrompt(rows models.ResultSet, query, question string) (string, error) {
	data, err := json.MarshalIndent(rows.Rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	var b strings.Builder
	b.WriteString("I executed this Cypher query:\n```\n")
	b.WriteString(query)
	b.WriteString("\n```\n\n")
	fmt.Fprintf(&b, "It was generated to answer the question: %q\n\n", question)
	b.WriteString("The query returned these rows:\n```\n")
	b.Write(data)
	b.WriteString("\n```\n\n")
	b.WriteString("Respond with a JSON object with these keys:\n")
	b.WriteString("- summary: a complete answer to the question based on the rows\n")
	b.WriteString("- insights: an array of key insights or patterns in the rows\n")
	b.WriteString("- limitations: anything that looks incomplete or possibly wrong, or an empty string\n")
	return b.String(), nil
}
