package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chatclient/internal/logger"
	"github.com/chatclient/internal/loop"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeLoopError maps a failed loop.Call to a status code.
func writeLoopError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, loop.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "client stopped")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, "client busy")
	default:
		logger.Errorf("inspect: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// queryInt reads a non-negative integer parameter. A positive max caps the value.
func queryInt(r *http.Request, key string, def, maxVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return def
	}
	if maxVal > 0 && n > maxVal {
		return maxVal
	}
	return n
}

// page returns list[offset:offset+limit]; limit 0 means no limit.
func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return []T{}
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
