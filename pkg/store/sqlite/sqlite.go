package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gridmind/gridmind/pkg/domain"
	"github.com/gridmind/gridmind/pkg/store"
)

// Store implements store.TableStore using SQLite.
//
// Registered table metadata is kept in memory alongside the database. The
// metadata map is the source of truth for which tables are user-visible;
// backup tables created by CopyTable live in the same namespace but are
// never registered, so they never show up in listings.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	tables map[string]*domain.TableInfo
}

// Verify interface compliance at compile time.
var _ store.TableStore = (*Store)(nil)

// New opens a SQLite database at the given path. An empty path opens a
// process-private in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if dsn == "" {
		dsn = "file:gridmind?mode=memory&cache=shared"
	} else {
		dsn = dsn + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps the shared-cache memory database alive and
	// serializes access, matching the single-session request model.
	db.SetMaxOpenConns(1)

	return &Store{
		db:     db,
		tables: make(map[string]*domain.TableInfo),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// quoteIdent quotes an identifier for safe interpolation into DDL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// columnType infers a SQLite column type from the first non-nil value.
func columnType(rows [][]any, col int) string {
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		switch row[col].(type) {
		case int, int32, int64:
			return "INTEGER"
		case float32, float64:
			return "REAL"
		case bool:
			return "INTEGER"
		default:
			return "TEXT"
		}
	}
	return "TEXT"
}

func (s *Store) RegisterTable(ctx context.Context, name string, columns []string, rows [][]any) (*domain.TableInfo, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q: no columns", name)
	}

	schema := make(map[string]string, len(columns))
	defs := make([]string, 0, len(columns))
	for i, col := range columns {
		typ := columnType(rows, i)
		schema[col] = typ
		defs = append(defs, quoteIdent(col)+" "+typ)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return nil, fmt.Errorf("replacing table %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))); err != nil {
		return nil, fmt.Errorf("creating table %q: %w", name, err)
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	insert := fmt.Sprintf("INSERT INTO %s VALUES %s", quoteIdent(name), placeholders)
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, row := range rows {
		vals := make([]any, len(columns))
		copy(vals, row)
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return nil, fmt.Errorf("inserting into %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	info := &domain.TableInfo{
		Name:        name,
		Rows:        int64(len(rows)),
		Columns:     len(columns),
		ColumnNames: append([]string(nil), columns...),
		Schema:      schema,
	}

	s.mu.Lock()
	s.tables[name] = info
	s.mu.Unlock()

	return info, nil
}

func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) TableInfo(ctx context.Context, name string) (*domain.TableInfo, error) {
	s.mu.RLock()
	info, ok := s.tables[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("table not found: %s", name)
	}
	cp := *info
	return &cp, nil
}

func (s *Store) Sample(ctx context.Context, name string, limit int) (*domain.TableValue, error) {
	if _, err := s.TableInfo(ctx, name); err != nil {
		return nil, err
	}
	return s.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(name), limit))
}

func (s *Store) Query(ctx context.Context, query string, args ...any) (*domain.TableValue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			record[col] = v
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.TableValue{
		Columns: columns,
		Records: records,
		Shape:   [2]int{len(records), len(columns)},
	}, nil
}

func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *Store) Check(ctx context.Context, query string) error {
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	return stmt.Close()
}

func (s *Store) CopyTable(ctx context.Context, src, dst string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", quoteIdent(dst), quoteIdent(src)))
	if err != nil {
		return fmt.Errorf("copying %q to %q: %w", src, dst, err)
	}
	return nil
}

func (s *Store) DropTable(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return fmt.Errorf("dropping %q: %w", name, err)
	}
	s.mu.Lock()
	delete(s.tables, name)
	s.mu.Unlock()
	return nil
}

func (s *Store) RenameTable(ctx context.Context, oldName, newName string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(oldName), quoteIdent(newName)))
	if err != nil {
		return fmt.Errorf("renaming %q to %q: %w", oldName, newName, err)
	}
	return nil
}

func (s *Store) RefreshTable(ctx context.Context, name string) (*domain.TableInfo, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schema := make(map[string]string)
	var columnNames []string
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		columnNames = append(columnNames, colName)
		schema[colName] = colType
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columnNames) == 0 {
		return nil, fmt.Errorf("table not found: %s", name)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+quoteIdent(name)).Scan(&count); err != nil {
		return nil, err
	}

	info := &domain.TableInfo{
		Name:        name,
		Rows:        count,
		Columns:     len(columnNames),
		ColumnNames: columnNames,
		Schema:      schema,
	}

	s.mu.Lock()
	s.tables[name] = info
	s.mu.Unlock()

	cp := *info
	return &cp, nil
}

func (s *Store) RefreshRowCounts(ctx context.Context) error {
	names, _ := s.ListTables(ctx)
	for _, name := range names {
		var count int64
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+quoteIdent(name)).Scan(&count); err != nil {
			return fmt.Errorf("counting %q: %w", name, err)
		}
		s.mu.Lock()
		if info, ok := s.tables[name]; ok {
			info.Rows = count
		}
		s.mu.Unlock()
	}
	return nil
}
