package webserver

import (
	"net/http"

	"github.com/ichi0g0y/stimky-sticker/internal/cache"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"go.uber.org/zap"
)

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := cache.GetCacheStats()
	if err != nil {
		logger.Error("Failed to get cache stats", zap.Error(err))
		http.Error(w, "Failed to get cache stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// trimCache enforces the configured cache size after a print.
func (s *Server) trimCache() {
	if err := cache.CleanupOversizeCache(s.opts.CacheMaxSizeMB); err != nil {
		logger.Warn("Failed to cleanup oversized cache", zap.Error(err))
	}
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.isAdmin(r) {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}
	if err := cache.ClearAllCache(); err != nil {
		logger.Error("Failed to clear cache", zap.Error(err))
		http.Error(w, "Failed to clear cache", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}
