package graphstore

import (
	"fmt"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/cypher"
	"github.com/starford/tenantgraph/internal/extraction"
	"github.com/starford/tenantgraph/internal/models"
)

const (
	tenantConstraintCypher = `CREATE CONSTRAINT tenant_id IF NOT EXISTS FOR (t:Tenant) REQUIRE t.id IS UNIQUE`

	tenantExistsCypher = `MATCH (t:Tenant {id: $tenantId}) RETURN count(t) AS n`

	createTenantCypher = `
		MERGE (t:Tenant {id: $tenantId})
		ON CREATE SET t.name = $name, t.created_at = $createdAt
		RETURN t.name AS name`

	schemaLabelsCypher = `
		MATCH (n)-[:BELONGS_TO]->(:Tenant {id: $tenantId})
		UNWIND labels(n) AS label
		RETURN DISTINCT label
		ORDER BY label`

	schemaRelTypesCypher = `
		MATCH (a)-[:BELONGS_TO]->(t:Tenant {id: $tenantId})
		MATCH (a)-[r]->(b)-[:BELONGS_TO]->(t)
		WHERE type(r) <> 'BELONGS_TO'
		RETURN DISTINCT type(r) AS type
		ORDER BY type`

	resetCypher = `MATCH (n) DETACH DELETE n`
)

// quote backtick-quotes an identifier after checking it against the
// identifier grammar. Nothing reaches a statement unquoted.
func quote(ident string) (string, error) {
	if !extraction.ValidIdentifier(ident) {
		return "", apperr.Newf(apperr.KindUnsafeLabel, "graphstore.quote", "identifier %q is not allowed", ident).WithFragment(ident)
	}
	return "`" + ident + "`", nil
}

// nodeConstraintCypher makes (tenant_id, name) unique per label so that
// concurrent merges of the same node converge on one node.
func nodeConstraintCypher(label string) (string, error) {
	q, err := quote(label)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE CONSTRAINT IF NOT EXISTS FOR (n:%s) REQUIRE (n.tenant_id, n.name) IS UNIQUE", q), nil
}

// mergeNodeCypher merges one node and (re)establishes its ownership edge.
// The ownership edge is merged even when the node already existed.
func mergeNodeCypher(label string) (string, error) {
	q, err := quote(label)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`
		MATCH (t:%s {id: $tenantId})
		MERGE (n:%s {tenant_id: $tenantId, name: $name})
		MERGE (n)-[:%s]->(t)`,
		models.TenantLabel, q, models.OwnershipType), nil
}

// mergeEdgeCypher merges one relationship between two nodes owned by the
// same tenant. It returns merged = 0 when either endpoint is missing.
func mergeEdgeCypher(fromLabel, toLabel, relType string) (string, error) {
	from, err := quote(fromLabel)
	if err != nil {
		return "", err
	}
	to, err := quote(toLabel)
	if err != nil {
		return "", err
	}
	rel, err := quote(relType)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`
		MATCH (t:%[1]s {id: $tenantId})
		MATCH (a:%[3]s {tenant_id: $tenantId, name: $from})-[:%[2]s]->(t)
		MATCH (b:%[4]s {tenant_id: $tenantId, name: $to})-[:%[2]s]->(t)
		MERGE (a)-[r:%[5]s]->(b)
		RETURN count(r) AS merged`,
		models.TenantLabel, models.OwnershipType, from, to, rel), nil
}

func tenantParams(tenantID string, kv ...any) map[string]any {
	params := map[string]any{cypher.TenantParam: tenantID}
	for i := 0; i+1 < len(kv); i += 2 {
		params[kv[i].(string)] = kv[i+1]
	}
	return params
}
