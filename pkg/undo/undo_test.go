package undo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gridmind/gridmind/pkg/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *sqlite.Store, table string, n int) {
	t.Helper()
	rows := make([][]any, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, []any{int64(i)})
	}
	if _, err := s.RegisterTable(context.Background(), table, []string{"id"}, rows); err != nil {
		t.Fatalf("RegisterTable: %v", err)
	}
}

func rowCount(t *testing.T, s *sqlite.Store, table string) int64 {
	t.Helper()
	val, err := s.Query(context.Background(), fmt.Sprintf(`SELECT COUNT(*) AS n FROM "%s"`, table))
	if err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return val.Records[0]["n"].(int64)
}

func TestSnapshotUndoRoundTrip(t *testing.T) {
	s := newTestStore(t)
	m := New(s, 0)
	ctx := context.Background()
	seed(t, s, "sales", 10)

	id, err := m.Snapshot(ctx, []string{"sales"})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if id == "" {
		t.Fatal("Snapshot returned empty id")
	}
	if m.Depth() != 1 {
		t.Fatalf("Depth = %d, want 1", m.Depth())
	}

	if _, err := s.Exec(ctx, `DELETE FROM sales WHERE id % 2 = 1`); err != nil {
		t.Fatalf("mutation: %v", err)
	}
	if n := rowCount(t, s, "sales"); n != 5 {
		t.Fatalf("rows after mutation = %d, want 5", n)
	}

	res, err := m.Undo(ctx)
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if !res.Success {
		t.Fatalf("Undo failed: %s", res.Message)
	}
	if len(res.RestoredTables) != 1 || res.RestoredTables[0] != "sales" {
		t.Errorf("restored = %v, want [sales]", res.RestoredTables)
	}
	if n := rowCount(t, s, "sales"); n != 10 {
		t.Errorf("rows after undo = %d, want 10", n)
	}
	if m.Depth() != 0 {
		t.Errorf("Depth after undo = %d, want 0", m.Depth())
	}

	info, err := s.TableInfo(ctx, "sales")
	if err != nil {
		t.Fatalf("TableInfo after undo: %v", err)
	}
	if info.Rows != 10 {
		t.Errorf("metadata rows = %d, want 10", info.Rows)
	}
}

func TestUndoEmptyStack(t *testing.T) {
	s := newTestStore(t)
	m := New(s, 0)
	seed(t, s, "sales", 3)

	_, err := m.Undo(context.Background())
	if !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("err = %v, want ErrNothingToUndo", err)
	}
	if n := rowCount(t, s, "sales"); n != 3 {
		t.Errorf("rows = %d, table mutated by failed undo", n)
	}
}

func TestSnapshotSkipsUntrackedTables(t *testing.T) {
	s := newTestStore(t)
	m := New(s, 0)

	id, err := m.Snapshot(context.Background(), []string{"ghost"})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if id != "" {
		t.Errorf("id = %q, want empty for no eligible tables", id)
	}
	if m.Depth() != 0 {
		t.Errorf("Depth = %d, want 0", m.Depth())
	}
}

func TestCapacityEviction(t *testing.T) {
	s := newTestStore(t)
	m := New(s, 20)
	ctx := context.Background()
	seed(t, s, "sales", 2)

	for i := 0; i < 21; i++ {
		if _, err := m.Snapshot(ctx, []string{"sales"}); err != nil {
			t.Fatalf("Snapshot %d: %v", i, err)
		}
	}
	if m.Depth() != 20 {
		t.Fatalf("Depth = %d, want 20", m.Depth())
	}

	// The evicted snapshot's backup table must be gone from the database,
	// leaving exactly one backup per retained snapshot.
	if n := backupCount(t, s); n != 20 {
		t.Errorf("backup tables = %d, want 20 after eviction", n)
	}

	undos := 0
	for {
		_, err := m.Undo(ctx)
		if errors.Is(err, ErrNothingToUndo) {
			break
		}
		if err != nil {
			t.Fatalf("Undo: %v", err)
		}
		undos++
		if undos > 21 {
			t.Fatal("undo never exhausted")
		}
	}
	if undos != 20 {
		t.Errorf("undo count = %d, want 20", undos)
	}
	if n := backupCount(t, s); n != 0 {
		t.Errorf("backup tables = %d, want 0 after exhausting undo", n)
	}
}

func backupCount(t *testing.T, s *sqlite.Store) int64 {
	t.Helper()
	val, err := s.Query(context.Background(),
		`SELECT COUNT(*) AS n FROM sqlite_master WHERE type = 'table' AND name LIKE '\_snap\_%' ESCAPE '\'`)
	if err != nil {
		t.Fatalf("counting backups: %v", err)
	}
	return val.Records[0]["n"].(int64)
}
