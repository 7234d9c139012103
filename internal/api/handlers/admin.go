package handlers

import (
	"net/http"

	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/queue"
	"github.com/harkaudio/hark/internal/store"
)

// AdminHandler exposes health and queue statistics
type AdminHandler struct {
	queue *queue.TaskQueue
	files *store.FileRegistry
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(q *queue.TaskQueue, files *store.FileRegistry) *AdminHandler {
	return &AdminHandler{queue: q, files: files}
}

// HealthCheck handles GET /admin/health
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	// The store is the single dependency worth probing
	if _, err := h.queue.CountTasks(r.Context(), nil); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatsResponse is the queue statistics payload
type StatsResponse struct {
	Tasks map[string]int `json:"tasks"`
	Files int            `json:"files"`
}

// Stats handles GET /admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.CountByStatus(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to count tasks by status")
		respondError(w, http.StatusInternalServerError, "failed to gather stats")
		return
	}

	fileCount, err := h.files.CountFiles(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to count files")
		respondError(w, http.StatusInternalServerError, "failed to gather stats")
		return
	}

	resp := &StatsResponse{
		Tasks: make(map[string]int, len(counts)),
		Files: fileCount,
	}
	for status, n := range counts {
		resp.Tasks[status.String()] = n
	}

	respondJSON(w, http.StatusOK, resp)
}
