package httpapi

import (
	"encoding/json"
	"net/http"
)

// Error tokens returned in {ok:false, error:<token>} bodies.
const (
	tokenBadRequest   = "bad_request"
	tokenUnauthorized = "unauthorized"
	tokenForbidden    = "forbidden"
	tokenNotFound     = "not_found"
	tokenUnknownTool  = "unknown_tool"
	tokenNoCredits    = "not_enough_credits"
	tokenShuttingDown = "shutting_down"
	tokenInternal     = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, token string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": token})
}

func writeOK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}
