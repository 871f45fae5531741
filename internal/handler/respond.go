package handler

import (
	"encoding/json"
	"net/http"

	"restlib/internal/errs"
	"restlib/internal/logger"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("write_response_failed", map[string]any{
			"error": err.Error(),
		})
	}
}

type errorBody struct {
	Message string `json:"message"`
}

// writeError maps the typed service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, errs.StatusOf(err), err)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		logger.Error("request_failed", map[string]any{"error": err.Error()})
	}
	writeJSON(w, status, errorBody{Message: err.Error()})
}
