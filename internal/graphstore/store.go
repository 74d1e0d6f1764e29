// Package graphstore persists tenant-owned graphs in Neo4j: schema
// introspection, idempotent upsert, read-only query execution and tenant
// provisioning.
package graphstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/models"
)

// Config holds connection settings for the Neo4j driver.
type Config struct {
	URI            string
	Username       string
	Password       string
	Database       string
	MaxPoolSize    int
	AcquireTimeout time.Duration
}

// Store is a Neo4j-backed tenant graph.
//
// Every method opens its own session and closes it before returning, so no
// connection is held between calls. Regular calls share the store gate;
// Reset takes it exclusively.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger

	gate     sync.RWMutex
	sessions atomic.Int64

	// labels already backed by a node uniqueness constraint
	schemaMu    sync.Mutex
	constrained map[string]struct{}
}

// Open creates the driver, verifies connectivity and ensures the tenant id
// constraint exists.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		driverConfig(cfg),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "graphstore.Open", fmt.Errorf("create driver: %w", err))
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, classify("graphstore.Open", fmt.Errorf("verify connectivity: %w", err))
	}

	s := New(driver, cfg.Database, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

// driverConfig applies the pool settings and turns off managed transaction
// retries: every call makes one attempt and failures surface to the caller.
func driverConfig(cfg Config) func(*config.Config) {
	return func(c *config.Config) {
		c.MaxTransactionRetryTime = 0
		if cfg.MaxPoolSize > 0 {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
		}
		if cfg.AcquireTimeout > 0 {
			c.ConnectionAcquisitionTimeout = cfg.AcquireTimeout
		}
	}
}

// New wraps an existing driver. The caller keeps ownership of the driver
// until Close is called.
func New(driver neo4j.DriverWithContext, database string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{driver: driver, database: database, logger: logger, constrained: make(map[string]struct{})}
}

// Close closes the driver and its connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return classify("graphstore.Ping", s.driver.VerifyConnectivity(ctx))
}

// OpenSessions reports the number of sessions currently open.
func (s *Store) OpenSessions() int64 {
	return s.sessions.Load()
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) (neo4j.SessionWithContext, func()) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
	s.sessions.Add(1)
	return sess, func() {
		if err := sess.Close(ctx); err != nil {
			s.logger.Warn("graphstore: close session", slog.String("error", err.Error()))
		}
		s.sessions.Add(-1)
	}
}

// EnsureSchema creates the unique constraint on tenant ids.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.gate.RLock()
	defer s.gate.RUnlock()

	sess, release := s.session(ctx, neo4j.AccessModeWrite)
	defer release()

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, tenantConstraintCypher, nil)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return classify("graphstore.EnsureSchema", err)
}

// EnsureLabels creates the (tenant_id, name) uniqueness constraint behind
// node merges for every label not already covered. Schema statements cannot
// share a transaction with data writes, so each runs in its own auto-commit
// transaction.
func (s *Store) EnsureLabels(ctx context.Context, labels ...string) error {
	const op = "graphstore.EnsureLabels"

	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	var pending, stmts []string
	for _, l := range labels {
		if _, ok := s.constrained[l]; ok || slices.Contains(pending, l) {
			continue
		}
		q, err := nodeConstraintCypher(l)
		if err != nil {
			return err
		}
		pending = append(pending, l)
		stmts = append(stmts, q)
	}
	if len(pending) == 0 {
		return nil
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	sess, release := s.session(ctx, neo4j.AccessModeWrite)
	defer release()

	for i, q := range stmts {
		res, err := sess.Run(ctx, q, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			return classify(op, fmt.Errorf("constraint for %s: %w", pending[i], err))
		}
		s.constrained[pending[i]] = struct{}{}
	}
	s.logger.Debug("graphstore: node constraints ensured", slog.Any("labels", pending))
	return nil
}

// CreateTenant provisions a new tenant root with a random id.
func (s *Store) CreateTenant(ctx context.Context, displayName string) (models.Tenant, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	t := models.Tenant{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}

	sess, release := s.session(ctx, neo4j.AccessModeWrite)
	defer release()

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, createTenantCypher, tenantParams(t.ID, "name", t.DisplayName, "createdAt", t.CreatedAt))
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return models.Tenant{}, classify("graphstore.CreateTenant", err)
	}
	return t, nil
}

// TenantExists reports whether the tenant root node exists.
func (s *Store) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	sess, release := s.session(ctx, neo4j.AccessModeRead)
	defer release()

	n, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return countTenant(ctx, tx, tenantID)
	})
	if err != nil {
		return false, classify("graphstore.TenantExists", err)
	}
	return n.(int64) > 0, nil
}

type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error)
}

func countTenant(ctx context.Context, tx runner, tenantID string) (int64, error) {
	res, err := tx.Run(ctx, tenantExistsCypher, tenantParams(tenantID))
	if err != nil {
		return 0, err
	}
	rec, err := res.Single(ctx)
	if err != nil {
		return 0, err
	}
	n, _, err := neo4j.GetRecordValue[int64](rec, "n")
	return n, err
}

// Schema returns the sorted node labels and relationship types in use by the
// tenant. An unknown or empty tenant yields empty sets.
func (s *Store) Schema(ctx context.Context, tenantID string) (models.Schema, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	sess, release := s.session(ctx, neo4j.AccessModeRead)
	defer release()

	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		labels, err := collectStrings(ctx, tx, schemaLabelsCypher, tenantID, "label")
		if err != nil {
			return nil, err
		}
		types, err := collectStrings(ctx, tx, schemaRelTypesCypher, tenantID, "type")
		if err != nil {
			return nil, err
		}
		return models.Schema{
			NodeTypes:         without(labels, models.TenantLabel),
			RelationshipTypes: without(types, models.OwnershipType),
		}, nil
	})
	if err != nil {
		return models.Schema{}, classify("graphstore.Schema", err)
	}
	return out.(models.Schema), nil
}

func collectStrings(ctx context.Context, tx runner, query, tenantID, key string) ([]string, error) {
	res, err := tx.Run(ctx, query, tenantParams(tenantID))
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(records))
	for _, rec := range records {
		v, _, err := neo4j.GetRecordValue[string](rec, key)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func without(values []string, drop string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != drop {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Upsert merges a resolved delta into the tenant's graph in one write
// transaction. Nodes are merged on (tenant, label, name) and their ownership
// edge is re-established; edges are merged on (from, to, type).
//
// Edges whose endpoints cannot be found within the tenant are reported as
// skipped. On any failure the transaction is rolled back. Node labels of the
// delta get their uniqueness constraint first, see EnsureLabels.
func (s *Store) Upsert(ctx context.Context, tenantID string, delta models.ResolvedDelta) (models.UpsertReport, error) {
	const op = "graphstore.Upsert"

	// Build every statement before touching the store.
	nodeStmts := make([]string, len(delta.Nodes))
	for i, n := range delta.Nodes {
		q, err := mergeNodeCypher(n.Type)
		if err != nil {
			return models.UpsertReport{}, err
		}
		nodeStmts[i] = q
	}
	edgeStmts := make([]string, len(delta.Edges))
	for i, e := range delta.Edges {
		q, err := mergeEdgeCypher(e.From.Label, e.To.Label, e.Type)
		if err != nil {
			return models.UpsertReport{}, err
		}
		edgeStmts[i] = q
	}

	labels := make([]string, len(delta.Nodes))
	for i, n := range delta.Nodes {
		labels[i] = n.Type
	}
	if err := s.EnsureLabels(ctx, labels...); err != nil {
		return models.UpsertReport{}, err
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	sess, release := s.session(ctx, neo4j.AccessModeWrite)
	defer release()

	tx, err := sess.BeginTransaction(ctx)
	if err != nil {
		return models.UpsertReport{}, classify(op, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Close(ctx) //nolint:errcheck // rolls back unless committed

	n, err := countTenant(ctx, tx, tenantID)
	if err != nil {
		return models.UpsertReport{}, classify(op, fmt.Errorf("check tenant: %w", err))
	}
	if n == 0 {
		return models.UpsertReport{}, apperr.Newf(apperr.KindTenantNotFound, op, "tenant %q does not exist", tenantID)
	}

	report := models.UpsertReport{Skipped: append([]models.SkippedEdge{}, delta.Skipped...)}

	for i, node := range delta.Nodes {
		res, err := tx.Run(ctx, nodeStmts[i], tenantParams(tenantID, "name", node.Name))
		if err != nil {
			return models.UpsertReport{}, classify(op, fmt.Errorf("merge node %s: %w", node.Placeholder(), err))
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return models.UpsertReport{}, classify(op, fmt.Errorf("merge node %s: %w", node.Placeholder(), err))
		}
		if summary.Counters().NodesCreated() > 0 {
			report.NodesCreated++
		} else {
			report.NodesMatched++
		}
	}

	for i, edge := range delta.Edges {
		res, err := tx.Run(ctx, edgeStmts[i], tenantParams(tenantID, "from", edge.From.Name, "to", edge.To.Name))
		if err != nil {
			return models.UpsertReport{}, classify(op, fmt.Errorf("merge edge %s: %w", edge.Type, err))
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return models.UpsertReport{}, classify(op, fmt.Errorf("merge edge %s: %w", edge.Type, err))
		}
		merged, _, err := neo4j.GetRecordValue[int64](rec, "merged")
		if err != nil {
			return models.UpsertReport{}, classify(op, fmt.Errorf("merge edge %s: %w", edge.Type, err))
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return models.UpsertReport{}, classify(op, fmt.Errorf("merge edge %s: %w", edge.Type, err))
		}
		switch {
		case merged == 0:
			report.Skipped = append(report.Skipped, models.SkippedEdge{
				Relationship: models.RelationshipSpec{
					FromID: edge.From.Label + "-" + edge.From.Name,
					ToID:   edge.To.Label + "-" + edge.To.Name,
					Type:   edge.Type,
				},
				Kind:   apperr.KindResolutionFailure,
				Reason: "endpoint not found in tenant",
			})
		case summary.Counters().RelationshipsCreated() > 0:
			report.EdgesCreated++
		default:
			report.EdgesMatched++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.UpsertReport{}, classify(op, fmt.Errorf("commit: %w", err))
	}
	report.EdgesSkipped = len(report.Skipped)
	return report, nil
}

// Execute runs a validated read-only statement with $tenantId bound to the
// calling tenant. Rows come back in store order.
func (s *Store) Execute(ctx context.Context, tenantID, query string) (models.ResultSet, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()

	sess, release := s.session(ctx, neo4j.AccessModeRead)
	defer release()

	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, tenantParams(tenantID))
		if err != nil {
			return nil, err
		}
		keys, err := res.Keys()
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return toResultSet(keys, records), nil
	})
	if err != nil {
		return models.ResultSet{}, classifyQuery("graphstore.Execute", err)
	}
	return out.(models.ResultSet), nil
}

// Reset deletes every node and relationship of every tenant. It waits for
// in-flight calls to finish and blocks new ones until done.
func (s *Store) Reset(ctx context.Context) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	sess, release := s.session(ctx, neo4j.AccessModeWrite)
	defer release()

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, resetCypher, nil)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return classify("graphstore.Reset", err)
	}
	s.logger.Warn("graphstore: all graph data deleted")
	return nil
}

// classify tags a driver error. Deadlines become Timeout; everything else,
// including connectivity loss, is StoreUnavailable.
func classify(op string, err error) error {
	if err == nil || apperr.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, op, err)
	}
	return apperr.Wrap(apperr.KindStoreUnavailable, op, err)
}

// classifyQuery is classify for caller-supplied statements: a statement the
// database rejects is QueryFailed rather than StoreUnavailable.
func classifyQuery(op string, err error) error {
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) && strings.HasPrefix(nerr.Code, "Neo.ClientError.") {
		return apperr.Wrap(apperr.KindQueryFailed, op, err)
	}
	return classify(op, err)
}
