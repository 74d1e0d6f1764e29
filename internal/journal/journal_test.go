package journal

import (
	"context"
	"os"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "tenantgraph-journal-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM runs`).Scan(&count); err != nil {
		t.Fatalf("runs table missing: %v", err)
	}
}

func TestRecordAndList(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Record(ctx, Run{TenantID: "t1", Kind: KindIngest, NodesCreated: 2, EdgesCreated: 1}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := db.Record(ctx, Run{TenantID: "t1", Kind: KindQuery, RowCount: 1, Detail: "Who works at Acme?"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := db.Record(ctx, Run{TenantID: "t2", Kind: KindIngest}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := db.List(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Kind != KindQuery || runs[0].RowCount != 1 {
		t.Errorf("newest run = %+v, want the query run", runs[0])
	}
	if runs[1].NodesCreated != 2 || runs[1].EdgesCreated != 1 {
		t.Errorf("ingest counts = %+v", runs[1])
	}
	if runs[0].CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestListLimitAndEmpty(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = db.Record(ctx, Run{TenantID: "t1", Kind: KindIngest})
	}

	runs, err := db.List(ctx, "t1", 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("got %d runs, want 3", len(runs))
	}

	none, err := db.List(ctx, "nobody", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", none)
	}
}

func TestLastChecksum(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	cs, err := db.LastChecksum(ctx, "t1", "notes/a.md")
	if err != nil || cs != "" {
		t.Fatalf("LastChecksum on empty = %q, %v", cs, err)
	}

	_, _ = db.Record(ctx, Run{TenantID: "t1", Kind: KindIngest, Source: "notes/a.md", Checksum: "aaa"})
	_, _ = db.Record(ctx, Run{TenantID: "t1", Kind: KindIngest, Source: "notes/a.md", Checksum: "bbb", ErrorKind: "Timeout"})
	_, _ = db.Record(ctx, Run{TenantID: "t2", Kind: KindIngest, Source: "notes/a.md", Checksum: "ccc"})

	cs, err = db.LastChecksum(ctx, "t1", "notes/a.md")
	if err != nil {
		t.Fatalf("LastChecksum: %v", err)
	}
	if cs != "aaa" {
		t.Errorf("checksum = %q, want %q (failed runs are ignored)", cs, "aaa")
	}
}
