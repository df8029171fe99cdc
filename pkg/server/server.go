// Package server exposes the agent, table, and undo operations over HTTP.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gridmind/gridmind/pkg/agent"
	"github.com/gridmind/gridmind/pkg/relay"
	"github.com/gridmind/gridmind/pkg/sandbox"
	"github.com/gridmind/gridmind/pkg/store"
	"github.com/gridmind/gridmind/pkg/undo"
)

// Server serves the JSON API and the chat websocket.
type Server struct {
	store   store.TableStore
	agent   *agent.Agent
	undo    *undo.Manager
	relay   *relay.Queue
	sandbox *sandbox.Sandbox
	srv     *http.Server
}

// New creates a new Server.
func New(ts store.TableStore, ag *agent.Agent, um *undo.Manager, rq *relay.Queue, sb *sandbox.Sandbox) *Server {
	return &Server{
		store:   ts,
		agent:   ag,
		undo:    um,
		relay:   rq,
		sandbox: sb,
	}
}

// Handler builds the route table. Exposed separately from Start so tests can
// drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Agent
	mux.HandleFunc("POST /api/agent/preview", s.handlePreview)
	mux.HandleFunc("POST /api/agent/confirm", s.handleConfirm)
	mux.HandleFunc("POST /api/agent/execute", s.handleExecute)

	// Undo
	mux.HandleFunc("POST /api/undo", s.handleUndo)
	mux.HandleFunc("GET /api/undo", s.handleUndoStatus)

	// Tables
	mux.HandleFunc("GET /api/tables", s.handleListTables)
	mux.HandleFunc("GET /api/tables/{name}", s.handleGetTable)
	mux.HandleFunc("GET /api/tables/{name}/rows", s.handleTableRows)
	mux.HandleFunc("GET /api/tables/{name}/export", s.handleExportTable)
	mux.HandleFunc("DELETE /api/tables/{name}", s.handleDeleteTable)
	mux.HandleFunc("POST /api/tables/rename", s.handleRenameTable)
	mux.HandleFunc("POST /api/tables/overwrite", s.handleOverwriteTable)
	mux.HandleFunc("POST /api/upload", s.handleUpload)

	// Raw SQL (runs through the sandbox, same capability set as the agent)
	mux.HandleFunc("POST /api/query/sql", s.handleRawSQL)

	// Semantic column mapping
	mux.HandleFunc("POST /api/semantic/mapping", s.handleSemanticMapping)
	mux.HandleFunc("GET /api/semantic/auto-detect", s.handleAutoDetectMapping)

	// UI command relay
	mux.HandleFunc("GET /api/ui/commands", s.handleDrainCommands)
	mux.HandleFunc("GET /api/ui/commands/history", s.handleCommandHistory)

	// Sandbox audit log
	mux.HandleFunc("GET /api/sandbox/history", s.handleSandboxHistory)

	// WebSocket
	mux.HandleFunc("/api/chat", s.handleChatWebSocket)

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	slog.Info("Starting server", "addr", addr)
	return s.srv.ListenAndServe()
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API error", "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
