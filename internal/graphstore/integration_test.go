//go:build integration

package graphstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/cypher"
	"github.com/starford/tenantgraph/internal/extraction"
	"github.com/starford/tenantgraph/internal/models"
)

const testPassword = "tenantgraph-test"

// startNeo4j runs a throwaway Neo4j container and returns an open store.
func startNeo4j(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "neo4j:5",
		ExposedPorts: []string{"7687/tcp"},
		Env: map[string]string{
			"NEO4J_AUTH": "neo4j/" + testPassword,
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("7687/tcp"),
			wait.ForLog("Started.").WithStartupTimeout(2*time.Minute),
		),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "7687")
	require.NoError(t, err)

	s, err := Open(ctx, Config{
		URI:            fmt.Sprintf("neo4j://%s:%s", host, port.Port()),
		Username:       "neo4j",
		Password:       testPassword,
		MaxPoolSize:    10,
		AcquireTimeout: 10 * time.Second,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func aliceAtAcme() models.ResolvedDelta {
	return extraction.Resolve(models.GraphDelta{
		Nodes: []models.NodeSpec{
			{Type: "Person", Name: "Alice"},
			{Type: "Company", Name: "Acme"},
		},
		Relationships: []models.RelationshipSpec{
			{FromID: "Person-Alice", ToID: "Company-Acme", Type: "WORKS_AT"},
		},
	})
}

func countAll(t *testing.T, s *Store, tenantID string) (nodes, edges int64) {
	t.Helper()
	rs, err := s.Execute(context.Background(), tenantID, `
		MATCH (n)-[:BELONGS_TO]->(:Tenant {id: $tenantId})
		OPTIONAL MATCH (n)-[r]->(m)-[:BELONGS_TO]->(:Tenant {id: $tenantId})
		WHERE type(r) <> 'BELONGS_TO'
		RETURN count(DISTINCT n) AS nodes, count(DISTINCT r) AS edges`)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	return rs.Rows[0]["nodes"].(int64), rs.Rows[0]["edges"].(int64)
}

func TestIntegration_IngestOwnedByTenant(t *testing.T) {
	s := startNeo4j(t)
	ctx := context.Background()

	tenant, err := s.CreateTenant(ctx, "Tenant T")
	require.NoError(t, err)

	report, err := s.Upsert(ctx, tenant.ID, aliceAtAcme())
	require.NoError(t, err)
	assert.Equal(t, 2, report.NodesCreated)
	assert.Equal(t, 1, report.EdgesCreated)
	assert.Zero(t, report.EdgesSkipped)

	schema, err := s.Schema(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Company", "Person"}, schema.NodeTypes)
	assert.Equal(t, []string{"WORKS_AT"}, schema.RelationshipTypes)
	assert.Zero(t, s.OpenSessions())
}

func TestIntegration_UpsertIdempotent(t *testing.T) {
	s := startNeo4j(t)
	ctx := context.Background()

	tenant, err := s.CreateTenant(ctx, "Tenant T")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, tenant.ID, aliceAtAcme())
	require.NoError(t, err)
	nodes1, edges1 := countAll(t, s, tenant.ID)

	report, err := s.Upsert(ctx, tenant.ID, aliceAtAcme())
	require.NoError(t, err)
	assert.Zero(t, report.NodesCreated)
	assert.Equal(t, 2, report.NodesMatched)
	assert.Equal(t, 1, report.EdgesMatched)

	nodes2, edges2 := countAll(t, s, tenant.ID)
	assert.Equal(t, nodes1, nodes2)
	assert.Equal(t, edges1, edges2)
	assert.Equal(t, int64(2), nodes2)
	assert.Equal(t, int64(1), edges2)
}

func TestIntegration_ConcurrentUpsertsConverge(t *testing.T) {
	s := startNeo4j(t)
	ctx := context.Background()

	tenant, err := s.CreateTenant(ctx, "Tenant T")
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	var ok atomic.Int32
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			// Lock contention may abort a transaction; the graph must still
			// hold exactly one copy of each node.
			if _, err := s.Upsert(ctx, tenant.ID, aliceAtAcme()); err == nil {
				ok.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	require.Positive(t, ok.Load())

	rs, err := s.Execute(ctx, tenant.ID, `
		MATCH (p:Person {name: 'Alice'})-[:BELONGS_TO]->(:Tenant {id: $tenantId})
		RETURN count(p) AS n`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rs.Rows[0]["n"])

	nodes, _ := countAll(t, s, tenant.ID)
	assert.Equal(t, int64(2), nodes)

	res, err := neo4j.ExecuteQuery(ctx, s.driver,
		`SHOW CONSTRAINTS YIELD labelsOrTypes, properties, type WHERE type CONTAINS 'UNIQUENESS' RETURN labelsOrTypes, properties`,
		nil, neo4j.EagerResultTransformer)
	require.NoError(t, err)
	covered := map[string][]any{}
	for _, rec := range res.Records {
		labels, _ := rec.Get("labelsOrTypes")
		props, _ := rec.Get("properties")
		covered[fmt.Sprint(labels)] = props.([]any)
	}
	assert.Equal(t, []any{"tenant_id", "name"}, covered["[Person]"])
	assert.Equal(t, []any{"tenant_id", "name"}, covered["[Company]"])
}

func TestIntegration_QueryReturnsEmployee(t *testing.T) {
	s := startNeo4j(t)
	ctx := context.Background()

	tenant, err := s.CreateTenant(ctx, "Tenant T")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, tenant.ID, aliceAtAcme())
	require.NoError(t, err)

	q := `MATCH (p:Person)-[:BELONGS_TO]->(:Tenant {id: $tenantId})
		MATCH (p)-[:WORKS_AT]->(c:Company {name: 'Acme'})
		RETURN p.name AS name, p AS person`
	require.NoError(t, cypher.Validate(q))

	rs, err := s.Execute(ctx, tenant.ID, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "person"}, rs.Columns)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "Alice", rs.Rows[0]["name"])
	assert.Equal(t, map[string]any{"name": "Alice", "labels": []string{"Person"}}, rs.Rows[0]["person"])
}

func TestIntegration_TenantIsolation(t *testing.T) {
	s := startNeo4j(t)
	ctx := context.Background()

	t1, err := s.CreateTenant(ctx, "one")
	require.NoError(t, err)
	t2, err := s.CreateTenant(ctx, "two")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, t1.ID, aliceAtAcme())
	require.NoError(t, err)

	// Same keys under another tenant are distinct nodes.
	report, err := s.Upsert(ctx, t2.ID, aliceAtAcme())
	require.NoError(t, err)
	assert.Equal(t, 2, report.NodesCreated)

	_, err = s.Upsert(ctx, t2.ID, extraction.Resolve(models.GraphDelta{
		Nodes: []models.NodeSpec{{Type: "Person", Name: "Bob"}},
	}))
	require.NoError(t, err)

	rs, err := s.Execute(ctx, t1.ID, `MATCH (p:Person)-[:BELONGS_TO]->(:Tenant {id: $tenantId}) RETURN p.name AS name ORDER BY name`)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "Alice", rs.Rows[0]["name"])

	schema, err := s.Schema(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Company", "Person"}, schema.NodeTypes)

	empty, err := s.Schema(ctx, "no-such-tenant")
	require.NoError(t, err)
	assert.Empty(t, empty.NodeTypes)
	assert.Empty(t, empty.RelationshipTypes)
}

func TestIntegration_UnknownTenantRejectedWithoutWrites(t *testing.T) {
	s := startNeo4j(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "ghost", aliceAtAcme())
	assert.ErrorIs(t, err, apperr.ErrTenantNotFound)

	rs, err := s.Execute(ctx, "ghost", `MATCH (n:Person)-[:BELONGS_TO]->(:Tenant {id: $tenantId}) RETURN n`)
	require.NoError(t, err)
	assert.Empty(t, rs.Rows)
}

func TestIntegration_UnresolvedEdgesReported(t *testing.T) {
	s := startNeo4j(t)
	ctx := context.Background()

	tenant, err := s.CreateTenant(ctx, "Tenant T")
	require.NoError(t, err)

	delta := extraction.Resolve(models.GraphDelta{
		Nodes: []models.NodeSpec{{Type: "Company", Name: "Acme"}},
		Relationships: []models.RelationshipSpec{
			{FromID: "Person-Bob", ToID: "Company-Acme", Type: "WORKS_AT"},
		},
	})
	report, err := s.Upsert(ctx, tenant.ID, delta)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EdgesSkipped)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, apperr.KindResolutionFailure, report.Skipped[0].Kind)

	rs, err := s.Execute(ctx, tenant.ID, `MATCH (p)-[:BELONGS_TO]->(:Tenant {id: $tenantId}) WHERE p.name = 'Person-Bob' OR p.name = 'Bob' RETURN p`)
	require.NoError(t, err)
	assert.Empty(t, rs.Rows, "no node is created from an unresolved placeholder")
}

func TestIntegration_QueryFailedOnBadStatement(t *testing.T) {
	s := startNeo4j(t)
	_, err := s.Execute(context.Background(), "t", `MATCH (n)-[:BELONGS_TO]->(:Tenant {id: $tenantId}) RETURN n.name +`)
	assert.ErrorIs(t, err, apperr.ErrQueryFailed)
}

func TestIntegration_Reset(t *testing.T) {
	s := startNeo4j(t)
	ctx := context.Background()

	tenant, err := s.CreateTenant(ctx, "Tenant T")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, tenant.ID, aliceAtAcme())
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	ok, err := s.TenantExists(ctx, tenant.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
