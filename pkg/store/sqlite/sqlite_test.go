package sqlite

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func registerSales(t *testing.T, s *Store, n int) {
	t.Helper()
	rows := make([][]any, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, []any{int64(i), float64(i) * 1.5})
	}
	if _, err := s.RegisterTable(context.Background(), "sales", []string{"id", "amount"}, rows); err != nil {
		t.Fatalf("RegisterTable: %v", err)
	}
}

func TestRegisterAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerSales(t, s, 3)

	info, err := s.TableInfo(ctx, "sales")
	if err != nil {
		t.Fatalf("TableInfo: %v", err)
	}
	if info.Rows != 3 || info.Columns != 2 {
		t.Errorf("info = %d rows, %d cols, want 3, 2", info.Rows, info.Columns)
	}
	if info.Schema["id"] != "INTEGER" || info.Schema["amount"] != "REAL" {
		t.Errorf("schema = %v, want INTEGER/REAL", info.Schema)
	}

	val, err := s.Query(ctx, `SELECT id FROM sales WHERE amount > 2 ORDER BY id`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if val.Shape != [2]int{2, 1} {
		t.Errorf("shape = %v, want [2 1]", val.Shape)
	}
	if val.Records[0]["id"] != int64(2) {
		t.Errorf("first id = %v, want 2", val.Records[0]["id"])
	}
}

func TestExecMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerSales(t, s, 4)

	affected, err := s.Exec(ctx, `DELETE FROM sales WHERE id > 2`)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if affected != 2 {
		t.Errorf("affected = %d, want 2", affected)
	}

	if err := s.RefreshRowCounts(ctx); err != nil {
		t.Fatalf("RefreshRowCounts: %v", err)
	}
	info, _ := s.TableInfo(ctx, "sales")
	if info.Rows != 2 {
		t.Errorf("rows after delete = %d, want 2", info.Rows)
	}
}

func TestCopyRenameDrop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerSales(t, s, 2)

	if err := s.CopyTable(ctx, "sales", "_snap_abc_sales"); err != nil {
		t.Fatalf("CopyTable: %v", err)
	}

	// Backups stay out of the user-visible listing.
	names, _ := s.ListTables(ctx)
	if len(names) != 1 || names[0] != "sales" {
		t.Errorf("ListTables = %v, want [sales]", names)
	}

	if err := s.DropTable(ctx, "sales"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if err := s.RenameTable(ctx, "_snap_abc_sales", "sales"); err != nil {
		t.Fatalf("RenameTable: %v", err)
	}

	info, err := s.RefreshTable(ctx, "sales")
	if err != nil {
		t.Fatalf("RefreshTable: %v", err)
	}
	if info.Rows != 2 {
		t.Errorf("restored rows = %d, want 2", info.Rows)
	}
	if names, _ := s.ListTables(ctx); len(names) != 1 {
		t.Errorf("ListTables after restore = %v, want [sales]", names)
	}
}

func TestCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	registerSales(t, s, 1)

	if err := s.Check(ctx, `DELETE FROM sales WHERE id = 1`); err != nil {
		t.Errorf("Check valid statement: %v", err)
	}
	if err := s.Check(ctx, `DELETE FROM nothere`); err == nil {
		t.Error("Check on missing table: expected error, got nil")
	}

	// Check must not execute.
	info, _ := s.TableInfo(ctx, "sales")
	if info.Rows != 1 {
		t.Errorf("rows after Check = %d, want 1", info.Rows)
	}
}

func TestSample(t *testing.T) {
	s := newTestStore(t)
	registerSales(t, s, 10)

	val, err := s.Sample(context.Background(), "sales", 3)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(val.Records) != 3 {
		t.Errorf("sample size = %d, want 3", len(val.Records))
	}

	if _, err := s.Sample(context.Background(), "missing", 3); err == nil {
		t.Error("Sample of missing table: expected error, got nil")
	}
}
