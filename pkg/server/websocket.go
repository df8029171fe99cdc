package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/gridmind/gridmind/pkg/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleChatWebSocket runs one query per inbound message, streaming each
// trajectory step as it happens and the final result when the turn ends.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	for {
		var msg struct {
			Query string `json:"query"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			slog.Error("WebSocket read error", "error", err)
			return
		}
		if msg.Query == "" {
			ws.WriteJSON(map[string]string{"error": "query is required"})
			continue
		}

		observer := func(step domain.TrajectoryStep) {
			if err := ws.WriteJSON(map[string]any{"type": "step", "step": step}); err != nil {
				slog.Error("WebSocket write error", "error", err)
			}
		}

		result, err := s.agent.Execute(r.Context(), msg.Query, observer)
		if err != nil {
			ws.WriteJSON(map[string]any{"type": "error", "error": err.Error()})
			continue
		}
		if err := ws.WriteJSON(map[string]any{"type": "result", "result": result}); err != nil {
			slog.Error("WebSocket write error", "error", err)
			return
		}
	}
}
