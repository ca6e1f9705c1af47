package admin

import "net/http"

// handleStats returns engine occupancy
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	writeJSONResponse(w, map[string]interface{}{
		"connections":   snap.Connections,
		"tunnels":       snap.Tunnels,
		"active_tasks":  snap.ActiveTasks,
		"cache_bytes":   snap.CacheBytes,
		"cache_entries": snap.CacheEntries,
	})
}

// handleCacheStats returns result cache counters
func (h *AdminHandlers) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.CacheStats()
	writeJSONResponse(w, map[string]interface{}{
		"hits":          stats.Hits,
		"misses":        stats.Misses,
		"evictions":     stats.Evictions,
		"entries":       stats.Entries,
		"current_bytes": stats.CurrentBytes,
		"max_bytes":     stats.MaxBytes,
		"usage_percent": stats.UsagePercent(),
	})
}

// handleClearCache drops every cached result
func (h *AdminHandlers) handleClearCache(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth always reports healthy while the process serves requests
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{"healthy": true})
}
