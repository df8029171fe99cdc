package store

import (
	"context"

	"github.com/gridmind/gridmind/pkg/domain"
)

// TableStore is the tabular storage collaborator. The agent, sandbox, and
// undo manager consume it as a capability; they never touch the underlying
// database directly.
type TableStore interface {
	// RegisterTable creates (or replaces) a user-visible table from raw
	// columns and rows, and records its metadata.
	RegisterTable(ctx context.Context, name string, columns []string, rows [][]any) (*domain.TableInfo, error)

	// ListTables returns the names of all user-visible tables, sorted.
	// Backup tables created via CopyTable are not listed.
	ListTables(ctx context.Context) ([]string, error)

	// TableInfo returns metadata for a registered table.
	// Returns an error if the table is not registered.
	TableInfo(ctx context.Context, name string) (*domain.TableInfo, error)

	// Sample returns up to limit rows from the table, for context building.
	Sample(ctx context.Context, name string, limit int) (*domain.TableValue, error)

	// Query executes an arbitrary row-returning statement.
	// args may include sql.Named values for named parameters.
	Query(ctx context.Context, query string, args ...any) (*domain.TableValue, error)

	// Exec executes a non-row-returning statement and reports rows affected.
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	// Check prepares a statement without executing it, surfacing syntax and
	// schema errors. Used to validate deferred mutations.
	Check(ctx context.Context, query string) error

	// CopyTable creates dst as a full copy of src. dst is not registered as
	// a user-visible table; this is the snapshot primitive.
	CopyTable(ctx context.Context, src, dst string) error

	// DropTable removes a table. Unregisters it if it was user-visible.
	DropTable(ctx context.Context, name string) error

	// RenameTable renames a table without touching registration.
	RenameTable(ctx context.Context, oldName, newName string) error

	// RefreshTable rebuilds and registers metadata for a table by
	// introspecting the database. Used after a rename restores a backup.
	RefreshTable(ctx context.Context, name string) (*domain.TableInfo, error)

	// RefreshRowCounts re-reads the row count of every registered table.
	RefreshRowCounts(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
