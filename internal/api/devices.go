package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-mcp-bridge/internal/dispatch"
)

// handleListDevices lists devices. Query: online_only=true|false.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	onlineOnly := false
	if v := r.URL.Query().Get("online_only"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "online_only must be true or false")
			return
		}
		onlineOnly = parsed
	}

	args, _ := json.Marshal(map[string]any{"online_only": onlineOnly}) //nolint:errcheck // static shape
	writeResult(w, s.dispatcher.Dispatch(r.Context(), dispatch.ToolListDevices, args))
}

// handleGetDevice returns the full snapshot of one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	args, _ := json.Marshal(map[string]any{"device_id": chi.URLParam(r, "id")}) //nolint:errcheck // static shape
	writeResult(w, s.dispatcher.Dispatch(r.Context(), dispatch.ToolGetDeviceInfo, args))
}
