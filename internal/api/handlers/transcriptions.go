package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/queue"
	"github.com/harkaudio/hark/internal/store"
	"github.com/harkaudio/hark/internal/task"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// TranscriptionHandler exposes the producer interface over HTTP: enqueue,
// cancel, and the read-only queries. No other writes to the task table go
// through this adapter.
type TranscriptionHandler struct {
	queue *queue.TaskQueue
	files *store.FileRegistry
}

// NewTranscriptionHandler creates a new transcription handler
func NewTranscriptionHandler(q *queue.TaskQueue, files *store.FileRegistry) *TranscriptionHandler {
	return &TranscriptionHandler{queue: q, files: files}
}

// ListResponse is the paginated task list
type ListResponse struct {
	Tasks  []*task.Response `json:"tasks"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// Create handles POST /api/transcriptions
func (h *TranscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req task.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileID == "" {
		respondError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	if _, err := h.files.GetFile(r.Context(), req.FileID); err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			respondError(w, http.StatusNotFound, "file not found: "+req.FileID)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to look up file")
		return
	}

	params := queue.DefaultEnqueueParams()
	params.Priority = req.Priority
	if req.MaxRetries != nil {
		params.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil {
		params.TimeoutSeconds = *req.TimeoutSeconds
	}

	taskID := uuid.New().String()
	if err := h.enqueue(w, r, taskID, req.FileID, params); err != nil {
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"task_id":  taskID,
		"file_id":  req.FileID,
		"status":   task.StatusPending.String(),
		"priority": params.Priority,
	})
}

// CreateFromPathRequest is the body for POST /api/transcriptions/from-path
type CreateFromPathRequest struct {
	FilePath string `json:"file_path"`
	Priority int    `json:"priority,omitempty"`
}

// CreateFromPath registers a server-side audio file and enqueues it in one
// call. Useful for batch pipelines and watched folders.
func (h *TranscriptionHandler) CreateFromPath(w http.ResponseWriter, r *http.Request) {
	var req CreateFromPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FilePath == "" {
		respondError(w, http.StatusBadRequest, "file_path is required")
		return
	}

	abs, err := filepath.Abs(req.FilePath)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid file path")
		return
	}

	info, err := os.Stat(abs)
	if err != nil {
		respondError(w, http.StatusNotFound, "file not found: "+req.FilePath)
		return
	}

	fileID := uuid.New().String()
	taskID := uuid.New().String()
	filename := filepath.Base(abs)

	if err := h.files.CreateFile(r.Context(), fileID, filename, abs, info.Size(), inferContentType(filename)); err != nil {
		logger.Error().Err(err).Str("path", abs).Msg("failed to register file")
		respondError(w, http.StatusInternalServerError, "failed to register file")
		return
	}

	params := queue.DefaultEnqueueParams()
	params.Priority = req.Priority
	if err := h.enqueue(w, r, taskID, fileID, params); err != nil {
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"task_id":  taskID,
		"file_id":  fileID,
		"filename": filename,
		"status":   task.StatusPending.String(),
	})
}

func (h *TranscriptionHandler) enqueue(w http.ResponseWriter, r *http.Request, taskID, fileID string, params queue.EnqueueParams) error {
	err := h.queue.Enqueue(r.Context(), taskID, fileID, params)
	switch {
	case errors.Is(err, queue.ErrDuplicateID):
		respondError(w, http.StatusConflict, "task id already exists")
	case errors.Is(err, queue.ErrUnknownFile):
		respondError(w, http.StatusNotFound, "file not found: "+fileID)
	case err != nil:
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to enqueue task")
		respondError(w, http.StatusInternalServerError, "failed to enqueue task")
	}
	return err
}

// Get handles GET /api/transcriptions/{taskID}
func (h *TranscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	t, err := h.queue.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	respondJSON(w, http.StatusOK, t.ToResponse())
}

// List handles GET /api/transcriptions?status=&limit=&offset=
func (h *TranscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	var statusFilter *task.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := task.ParseStatus(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		statusFilter = &st
	}

	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	tasks, err := h.queue.ListTasks(r.Context(), statusFilter, limit, offset)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list tasks")
		respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	total, err := h.queue.CountTasks(r.Context(), statusFilter)
	if err != nil {
		logger.Error().Err(err).Msg("failed to count tasks")
		respondError(w, http.StatusInternalServerError, "failed to count tasks")
		return
	}

	resp := &ListResponse{
		Tasks:  make([]*task.Response, 0, len(tasks)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, t.ToResponse())
	}

	respondJSON(w, http.StatusOK, resp)
}

// Cancel handles DELETE /api/transcriptions/{taskID}
func (h *TranscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	cancelled, err := h.queue.Cancel(r.Context(), taskID)
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to cancel task")
		respondError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	if !cancelled {
		if _, err := h.queue.GetTask(r.Context(), taskID); errors.Is(err, task.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		respondError(w, http.StatusConflict, "task cannot be cancelled in current state")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"task_id": taskID,
		"status":  task.StatusCancelled.String(),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
