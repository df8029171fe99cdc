package server

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strconv"

	"github.com/gridmind/gridmind/pkg/agent"
	"github.com/gridmind/gridmind/pkg/ingest"
	"github.com/gridmind/gridmind/pkg/sandbox"
	"github.com/gridmind/gridmind/pkg/undo"
)

func formatCell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// --- Agent ---

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("query is required"))
		return
	}

	result, err := s.agent.Preview(r.Context(), req.Query)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	result, err := s.agent.Confirm(r.Context())
	if err != nil {
		if errors.Is(err, agent.ErrNothingPending) {
			s.errorResponse(w, http.StatusConflict, err)
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Query == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("query is required"))
		return
	}

	result, err := s.agent.Execute(r.Context(), req.Query)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// --- Undo ---

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	result, err := s.undo.Undo(r.Context())
	if err != nil {
		if errors.Is(err, undo.ErrNothingToUndo) {
			s.errorResponse(w, http.StatusConflict, err)
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleUndoStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"depth":     s.undo.Depth(),
		"available": s.undo.Depth() > 0,
	})
}

// --- Tables ---

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.ListTables(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	tables := make([]any, 0, len(names))
	for _, name := range names {
		info, err := s.store.TableInfo(r.Context(), name)
		if err != nil {
			continue
		}
		tables = append(tables, info)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info, err := s.store.TableInfo(r.Context(), name)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, info)
}

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func (s *Server) handleTableRows(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info, err := s.store.TableInfo(r.Context(), name)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}

	val, err := s.store.Query(r.Context(), fmt.Sprintf(
		`SELECT * FROM %s LIMIT %d OFFSET %d`, quoteIdent(name), limit, offset))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"table":      name,
		"total_rows": info.Rows,
		"offset":     offset,
		"limit":      limit,
		"columns":    val.Columns,
		"records":    val.Records,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("missing file field: %w", err))
		return
	}
	defer file.Close()

	tableName := r.FormValue("table_name")
	if tableName == "" {
		tableName = ingest.SanitizeTableName(header.Filename)
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	info, err := ingest.LoadCSV(r.Context(), s.store, bytes.NewReader(raw), tableName)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	// Keep a copy in the sandbox scratch directory so agent code may read
	// the raw file back via readfile().
	if path, err := s.sandbox.ScratchPath(tableName + ".csv"); err == nil {
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			slog.Warn("Saving scratch copy failed", "table", tableName, "error", err)
		}
	}

	s.jsonResponse(w, http.StatusCreated, info)
}

func (s *Server) handleExportTable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.store.TableInfo(r.Context(), name); err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}

	val, err := s.store.Query(r.Context(), fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(name)))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".csv"))

	cw := csv.NewWriter(w)
	cw.Write(val.Columns)
	row := make([]string, len(val.Columns))
	for _, rec := range val.Records {
		for i, col := range val.Columns {
			row[i] = formatCell(rec[col])
		}
		cw.Write(row)
	}
	cw.Flush()
}

func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.store.TableInfo(r.Context(), name); err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	if err := s.store.DropTable(r.Context(), name); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"deleted_table": name})
}

type tableOpRequest struct {
	SourceTable string `json:"source_table"`
	TargetName  string `json:"target_name"`
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (s *Server) handleRenameTable(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTableOp(w, r)
	if !ok {
		return
	}
	if _, err := s.store.TableInfo(r.Context(), req.SourceTable); err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	if _, err := s.store.TableInfo(r.Context(), req.TargetName); err == nil {
		s.errorResponse(w, http.StatusConflict, fmt.Errorf("table already exists: %s", req.TargetName))
		return
	}
	if err := s.moveTable(r, req.SourceTable, req.TargetName); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"table": req.TargetName})
}

func (s *Server) handleOverwriteTable(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTableOp(w, r)
	if !ok {
		return
	}
	if _, err := s.store.TableInfo(r.Context(), req.SourceTable); err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	if err := s.store.DropTable(r.Context(), req.TargetName); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.moveTable(r, req.SourceTable, req.TargetName); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"table": req.TargetName})
}

func (s *Server) decodeTableOp(w http.ResponseWriter, r *http.Request) (tableOpRequest, bool) {
	var req tableOpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return req, false
	}
	if !tableNameRe.MatchString(req.TargetName) {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid table name: %q", req.TargetName))
		return req, false
	}
	return req, true
}

// moveTable renames source to target and re-registers metadata. The
// DropTable on the source runs after the rename, so it only clears the
// stale metadata entry; the data already lives under the target name.
func (s *Server) moveTable(r *http.Request, source, target string) error {
	if err := s.store.RenameTable(r.Context(), source, target); err != nil {
		return err
	}
	if err := s.store.DropTable(r.Context(), source); err != nil {
		return err
	}
	_, err := s.store.RefreshTable(r.Context(), target)
	return err
}

// --- Raw SQL ---

func (s *Server) handleRawSQL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SQL string `json:"sql"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.SQL == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("sql is required"))
		return
	}

	result := s.sandbox.Run(r.Context(), sandbox.Request{Code: req.SQL})
	if result.Success {
		if err := s.store.RefreshRowCounts(r.Context()); err != nil {
			slog.Warn("Refreshing row counts after raw SQL failed", "error", err)
		}
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// --- Semantic mapping ---

func (s *Server) handleSemanticMapping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TableA string `json:"table_a"`
		TableB string `json:"table_b"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.TableA == "" || req.TableB == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("table_a and table_b are required"))
		return
	}

	result, err := s.agent.FindSemanticMappings(r.Context(), req.TableA, req.TableB)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleAutoDetectMapping(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.ListTables(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if len(tables) < 2 {
		s.errorResponse(w, http.StatusConflict, errors.New("at least two tables are required for mapping"))
		return
	}

	result, err := s.agent.FindSemanticMappings(r.Context(), tables[0], tables[1])
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"table_a": tables[0],
		"table_b": tables[1],
		"result":  result,
	})
}

// --- UI relay ---

func (s *Server) handleDrainCommands(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{"commands": s.relay.Drain()})
}

func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	s.jsonResponse(w, http.StatusOK, map[string]any{"commands": s.relay.History(limit)})
}

// --- Sandbox ---

func (s *Server) handleSandboxHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	s.jsonResponse(w, http.StatusOK, map[string]any{"history": s.sandbox.History(limit)})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}
