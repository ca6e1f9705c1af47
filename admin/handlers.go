package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/velocitydb/velocity/cache"
	"github.com/velocitydb/velocity/engine"
	"github.com/velocitydb/velocity/executor"
	"github.com/velocitydb/velocity/history"
	"github.com/velocitydb/velocity/telemetry"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Engine is the read side of the engine the admin endpoints inspect.
type Engine interface {
	Connections() []engine.ConnectionInfo
	ActiveQueryIDs() []string
	QueryResult(queryID string) executor.QueryResult
	CacheStats() cache.Stats
	ClearCache()
	QueryHistory(connID string, limit int) []history.Entry
	Snapshot() telemetry.Snapshot
}

// AdminHandlers serves the inspection endpoints
type AdminHandlers struct {
	engine Engine
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(e Engine) *AdminHandlers {
	return &AdminHandlers{engine: e}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > maxLimit {
		return 0, fmt.Errorf("limit cannot exceed %d", maxLimit)
	}
	return limit, nil
}
