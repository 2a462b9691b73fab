package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// toolCallRequest is the body of POST /tools/{name}.
type toolCallRequest struct {
	Arguments json.RawMessage `json:"arguments"`
}

// handleListTools returns every tool with its parameter schema.
func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	tools := s.dispatcher.Tools()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": tools,
		"count": len(tools),
	})
}

// handleCallTool runs one tool. An empty body calls the tool without arguments.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res := s.dispatcher.Dispatch(r.Context(), name, req.Arguments)
	writeResult(w, res)
}
