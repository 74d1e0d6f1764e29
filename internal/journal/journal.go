// Package journal keeps a SQLite record of ingestion and query runs.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id     TEXT    NOT NULL,
	kind          TEXT    NOT NULL,
	source        TEXT    NOT NULL DEFAULT '',
	checksum      TEXT    NOT NULL DEFAULT '',
	nodes_created INTEGER NOT NULL DEFAULT 0,
	nodes_matched INTEGER NOT NULL DEFAULT 0,
	edges_created INTEGER NOT NULL DEFAULT 0,
	edges_skipped INTEGER NOT NULL DEFAULT 0,
	row_count     INTEGER NOT NULL DEFAULT 0,
	error_kind    TEXT    NOT NULL DEFAULT '',
	detail        TEXT    NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_tenant ON runs(tenant_id, id);
CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(tenant_id, source, id);
`

// Kind is the type of run.
type Kind string

const (
	KindIngest Kind = "ingest"
	KindQuery  Kind = "query"
)

// Run is one journal entry.
type Run struct {
	ID           int64     `json:"id"`
	TenantID     string    `json:"tenantId"`
	Kind         Kind      `json:"kind"`
	Source       string    `json:"source,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
	NodesCreated int       `json:"nodesCreated"`
	NodesMatched int       `json:"nodesMatched"`
	EdgesCreated int       `json:"edgesCreated"`
	EdgesSkipped int       `json:"edgesSkipped"`
	RowCount     int       `json:"rowCount"`
	ErrorKind    string    `json:"errorKind,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DB wraps a sql.DB holding the runs table.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the journal database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Record appends a run and returns its id. A zero CreatedAt is set to now.
func (db *DB) Record(ctx context.Context, r Run) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO runs (tenant_id, kind, source, checksum,
			nodes_created, nodes_matched, edges_created, edges_skipped,
			row_count, error_kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.TenantID, string(r.Kind), r.Source, r.Checksum,
		r.NodesCreated, r.NodesMatched, r.EdgesCreated, r.EdgesSkipped,
		r.RowCount, r.ErrorKind, r.Detail, r.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("journal: insert run: %w", err)
	}
	return res.LastInsertId()
}

// List returns the tenant's most recent runs, newest first.
func (db *DB) List(ctx context.Context, tenantID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, tenant_id, kind, source, checksum,
			nodes_created, nodes_matched, edges_created, edges_skipped,
			row_count, error_kind, detail, created_at
		FROM runs
		WHERE tenant_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var r Run
		var kind string
		if err := rows.Scan(&r.ID, &r.TenantID, &kind, &r.Source, &r.Checksum,
			&r.NodesCreated, &r.NodesMatched, &r.EdgesCreated, &r.EdgesSkipped,
			&r.RowCount, &r.ErrorKind, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		r.Kind = Kind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastChecksum returns the checksum of the latest successful ingestion of
// source for the tenant, or "" when there is none.
func (db *DB) LastChecksum(ctx context.Context, tenantID, source string) (string, error) {
	var cs string
	err := db.conn.QueryRowContext(ctx, `
		SELECT checksum FROM runs
		WHERE tenant_id = ? AND source = ? AND kind = ? AND error_kind = ''
		ORDER BY id DESC
		LIMIT 1
	`, tenantID, source, string(KindIngest)).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("journal: last checksum: %w", err)
	}
	return cs, nil
}
