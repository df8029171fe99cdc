// Package sandbox validates and executes agent-authored SQL scripts against
// the table store. The denylist scan is a textual heuristic, not a structural
// isolation guarantee; callers must not treat it as a hard security boundary.
package sandbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gridmind/gridmind/pkg/domain"
	"github.com/gridmind/gridmind/pkg/store"
)

// Execution error types.
const (
	ErrorTypeValidation = "ValidationError"
	ErrorTypeSecurity   = "SecurityError"
	ErrorTypeSyntax     = "SyntaxError"
	ErrorTypeSchema     = "SchemaError"
	ErrorTypeConstraint = "ConstraintError"
	ErrorTypeRuntime    = "RuntimeError"
)

const maxHistory = 200

// denylist holds constructs that escape the data-transformation capability
// set: filesystem access, extension loading, engine configuration, and
// shell-style dot commands.
var denylist = []string{
	"attach database",
	"detach database",
	"load_extension",
	"pragma",
	"writefile(",
	"edit(",
	"fsdir(",
	"vacuum into",
	".shell",
	".system",
	".import",
	".open",
	".load",
}

var readfileArgRe = regexp.MustCompile(`(?i)readfile\s*\(\s*'([^']*)'`)

// Request describes one sandbox run.
type Request struct {
	// Code is a script of one or more semicolon-separated SQL statements.
	Code string
	// Bindings are named parameters made available to every statement.
	Bindings map[string]any
	// DeferMutations validates row-changing statements without applying
	// them. Used during the exploration phase of the agent loop so that
	// only confirmed code ever mutates the dataset.
	DeferMutations bool
}

// HistoryEntry records one execution for audit.
type HistoryEntry struct {
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Sandbox executes SQL scripts against a restricted capability set.
// It is stateless per call apart from the execution history log.
type Sandbox struct {
	store      store.TableStore
	scratchDir string

	mu      sync.Mutex
	history []HistoryEntry
}

// New creates a sandbox. scratchDir is the only directory file-reading
// statements may touch; it is created if missing.
func New(ts store.TableStore, scratchDir string) (*Sandbox, error) {
	abs, err := filepath.Abs(scratchDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	return &Sandbox{store: ts, scratchDir: abs}, nil
}

// Validate scans code for denylisted constructs. It returns false and a
// reason when the code must not be executed.
func (s *Sandbox) Validate(code string) (bool, string) {
	lower := strings.ToLower(code)
	for _, pattern := range denylist {
		if strings.Contains(lower, pattern) {
			return false, fmt.Sprintf("dangerous construct detected: %s", strings.TrimSuffix(pattern, "("))
		}
	}

	// readfile is allowed only for literal paths inside the scratch dir.
	if strings.Contains(lower, "readfile") {
		matches := readfileArgRe.FindAllStringSubmatch(code, -1)
		if len(matches) == 0 {
			return false, "readfile requires a literal path inside the scratch directory"
		}
		for _, m := range matches {
			if !s.inScratch(m[1]) {
				return false, fmt.Sprintf("file access outside scratch directory: %s", m[1])
			}
		}
	}

	return true, ""
}

func (s *Sandbox) inScratch(path string) bool {
	abs, err := filepath.Abs(filepath.Join(s.scratchDir, path))
	if filepath.IsAbs(path) {
		abs, err = filepath.Abs(path)
	}
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.scratchDir, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ScratchPath resolves name inside the scratch directory, rejecting
// traversal outside it.
func (s *Sandbox) ScratchPath(name string) (string, error) {
	path := filepath.Join(s.scratchDir, name)
	if !s.inScratch(path) {
		return "", fmt.Errorf("path escapes scratch directory: %s", name)
	}
	return path, nil
}

// CleanupScratch removes scratch files older than maxAge.
func (s *Sandbox) CleanupScratch(maxAge time.Duration) error {
	entries, err := os.ReadDir(s.scratchDir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.IsDir() && info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(s.scratchDir, e.Name()))
		}
	}
	return nil
}

// Run executes a script. Failures are caught and classified into the
// returned result; Run never panics and never returns a Go error.
func (s *Sandbox) Run(ctx context.Context, req Request) *domain.ExecutionResult {
	result := s.run(ctx, req)
	s.record(req.Code, result)
	if !result.Success {
		slog.Debug("Sandbox execution failed", "type", result.Error.Type, "error", result.Error.Message)
	}
	return result
}

func (s *Sandbox) run(ctx context.Context, req Request) *domain.ExecutionResult {
	if ok, reason := s.Validate(req.Code); !ok {
		errType := ErrorTypeValidation
		if strings.Contains(reason, "scratch directory") {
			errType = ErrorTypeSecurity
		}
		return &domain.ExecutionResult{
			Success: false,
			Error:   &domain.ExecutionError{Type: errType, Message: reason},
		}
	}

	args := bindingArgs(req.Bindings)
	locals := truncatedBindings(req.Bindings)

	statements := splitStatements(req.Code)
	if len(statements) == 0 {
		return &domain.ExecutionResult{
			Success: true,
			Value:   map[string]any{"rows_affected": int64(0)},
			Locals:  locals,
		}
	}

	var (
		lastTable *domain.TableValue
		affected  int64
		deferred  int
	)

	for _, stmt := range statements {
		switch {
		case isRowReturning(stmt):
			val, err := s.store.Query(ctx, stmt, args...)
			if err != nil {
				return failure(err, stmt, locals)
			}
			lastTable = val

		case req.DeferMutations && isMutating(stmt):
			if err := s.store.Check(ctx, stmt); err != nil {
				return failure(err, stmt, locals)
			}
			deferred++

		default:
			n, err := s.store.Exec(ctx, stmt, args...)
			if err != nil {
				return failure(err, stmt, locals)
			}
			affected += n
		}
	}

	result := &domain.ExecutionResult{Success: true, Locals: locals}
	switch {
	case lastTable != nil:
		result.Value = normalizeValue(lastTable)
	case deferred > 0:
		result.Value = map[string]any{"rows_affected": affected, "deferred_statements": deferred}
	default:
		result.Value = map[string]any{"rows_affected": affected}
	}
	return result
}

// History returns a copy of the most recent execution records.
func (s *Sandbox) History(limit int) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]HistoryEntry, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}

func (s *Sandbox) record(code string, result *domain.ExecutionResult) {
	entry := HistoryEntry{Code: code, Timestamp: time.Now(), Success: result.Success}
	if result.Error != nil {
		entry.Error = result.Error.Message
	}
	s.mu.Lock()
	s.history = append(s.history, entry)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()
}

func failure(err error, stmt string, locals map[string]string) *domain.ExecutionResult {
	return &domain.ExecutionResult{
		Success: false,
		Error: &domain.ExecutionError{
			Type:    classifyError(err),
			Message: err.Error(),
			Detail:  stmt,
		},
		Locals: locals,
	}
}

// classifyError maps a database fault to an error type name.
func classifyError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax error"), strings.Contains(msg, "incomplete input"):
		return ErrorTypeSyntax
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "no such column"),
		strings.Contains(msg, "already exists"):
		return ErrorTypeSchema
	case strings.Contains(msg, "constraint"):
		return ErrorTypeConstraint
	default:
		return ErrorTypeRuntime
	}
}

// normalizeValue collapses a single-cell result to a scalar and a
// single-row result to a record, per the result conventions.
func normalizeValue(tv *domain.TableValue) any {
	if tv.Shape == [2]int{1, 1} {
		return tv.Records[0][tv.Columns[0]]
	}
	if tv.Shape[0] == 1 && tv.Shape[1] > 1 {
		return tv.Records[0]
	}
	return tv
}

func bindingArgs(bindings map[string]any) []any {
	args := make([]any, 0, len(bindings))
	for name, value := range bindings {
		args = append(args, sql.Named(name, value))
	}
	return args
}

func truncatedBindings(bindings map[string]any) map[string]string {
	if len(bindings) == 0 {
		return nil
	}
	out := make(map[string]string, len(bindings))
	for name, value := range bindings {
		var text string
		if b, err := json.Marshal(value); err == nil {
			text = string(b)
		} else {
			text = fmt.Sprintf("%v", value)
		}
		if len(text) > 100 {
			text = text[:100]
		}
		out[name] = text
	}
	return out
}

// splitStatements splits a script on semicolons outside quoted strings.
func splitStatements(code string) []string {
	var statements []string
	var sb strings.Builder
	var quote rune

	for _, r := range code {
		switch {
		case quote != 0:
			sb.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			sb.WriteRune(r)
		case r == ';':
			statements = append(statements, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	statements = append(statements, sb.String())

	out := statements[:0]
	for _, stmt := range statements {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstKeyword(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func isRowReturning(stmt string) bool {
	switch firstKeyword(stmt) {
	case "select", "with", "values", "explain":
		return true
	}
	return false
}

func isMutating(stmt string) bool {
	switch firstKeyword(stmt) {
	case "insert", "update", "delete", "alter", "drop", "create", "replace", "vacuum":
		return true
	}
	return false
}
