// Package undo makes one "undo" step available after a confirmed mutation
// by keeping backup copies of tables inside the storage engine namespace.
package undo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridmind/gridmind/pkg/domain"
	"github.com/gridmind/gridmind/pkg/store"
)

// ErrNothingToUndo is returned when the snapshot stack is empty.
var ErrNothingToUndo = errors.New("nothing to undo")

// DefaultCapacity bounds the snapshot stack; the oldest snapshot is
// evicted (its backups dropped) when the bound is exceeded.
const DefaultCapacity = 20

// backupPrefix is the reserved naming convention for backup tables. Names
// under this prefix never collide with user-visible tables because the
// store only lists registered tables.
const backupPrefix = "_snap_"

// Manager owns the snapshot stack.
type Manager struct {
	store    store.TableStore
	capacity int

	mu    sync.Mutex
	stack []domain.Snapshot
}

// New creates a Manager. capacity <= 0 selects DefaultCapacity.
func New(ts store.TableStore, capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{store: ts, capacity: capacity}
}

// BackupName derives the backup table name for a snapshot id and table.
func BackupName(snapshotID, table string) string {
	return backupPrefix + snapshotID + "_" + table
}

// Snapshot copies each named, currently-tracked table and pushes the
// snapshot record. Returns the snapshot id, or "" if no table was eligible.
func (m *Manager) Snapshot(ctx context.Context, tableNames []string) (string, error) {
	if len(tableNames) == 0 {
		return "", nil
	}

	id := uuid.New().String()[:8]
	snap := domain.Snapshot{ID: id, CreatedAt: time.Now()}

	for _, table := range tableNames {
		if _, err := m.store.TableInfo(ctx, table); err != nil {
			continue
		}
		backup := BackupName(id, table)
		if err := m.store.CopyTable(ctx, table, backup); err != nil {
			slog.Error("Snapshot copy failed", "table", table, "error", err)
			continue
		}
		snap.Tables = append(snap.Tables, domain.SnapshotEntry{Original: table, Backup: backup})
	}

	if len(snap.Tables) == 0 {
		return "", nil
	}

	m.mu.Lock()
	m.stack = append(m.stack, snap)
	var evicted *domain.Snapshot
	if len(m.stack) > m.capacity {
		evicted = &m.stack[0]
		m.stack = append([]domain.Snapshot(nil), m.stack[1:]...)
	}
	m.mu.Unlock()

	if evicted != nil {
		m.dropBackups(ctx, *evicted)
	}

	return id, nil
}

// Undo pops the most recent snapshot and restores its tables. The snapshot
// is consumed even when restoration partially fails: some backups may have
// already been renamed into place, so pushing it back would not make the
// remainder retryable.
func (m *Manager) Undo(ctx context.Context) (*domain.UndoResult, error) {
	m.mu.Lock()
	if len(m.stack) == 0 {
		m.mu.Unlock()
		return nil, ErrNothingToUndo
	}
	snap := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	m.mu.Unlock()

	var restored []string
	for _, entry := range snap.Tables {
		if err := m.store.DropTable(ctx, entry.Original); err != nil {
			return failedUndo(restored, entry.Original, err), nil
		}
		if err := m.store.RenameTable(ctx, entry.Backup, entry.Original); err != nil {
			return failedUndo(restored, entry.Original, err), nil
		}
		if _, err := m.store.RefreshTable(ctx, entry.Original); err != nil {
			return failedUndo(restored, entry.Original, err), nil
		}
		restored = append(restored, entry.Original)
	}

	return &domain.UndoResult{
		Success:        true,
		Message:        fmt.Sprintf("restored: %v", restored),
		RestoredTables: restored,
	}, nil
}

// Depth reports the number of snapshots on the stack.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

func (m *Manager) dropBackups(ctx context.Context, snap domain.Snapshot) {
	for _, entry := range snap.Tables {
		if err := m.store.DropTable(ctx, entry.Backup); err != nil {
			slog.Warn("Dropping evicted backup failed", "backup", entry.Backup, "error", err)
		}
	}
}

func failedUndo(restored []string, table string, err error) *domain.UndoResult {
	return &domain.UndoResult{
		Success:        false,
		Message:        fmt.Sprintf("undo failed while restoring %q: %v", table, err),
		RestoredTables: restored,
	}
}
