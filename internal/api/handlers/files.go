package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harkaudio/hark/internal/config"
	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/metrics"
	"github.com/harkaudio/hark/internal/store"
)

// FileHandler handles upload and file metadata requests
type FileHandler struct {
	files *store.FileRegistry
	cfg   *config.UploadConfig
}

// NewFileHandler creates a new file handler
func NewFileHandler(files *store.FileRegistry, cfg *config.UploadConfig) *FileHandler {
	return &FileHandler{files: files, cfg: cfg}
}

// FileResponse is the API representation of a file record
type FileResponse struct {
	FileID      string `json:"file_id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Upload handles POST /api/files: saves the multipart blob under the upload
// dir as <file_id><ext> and creates the registry record.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize)
	}

	src, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer src.Close()

	if header.Filename == "" {
		respondError(w, http.StatusBadRequest, "no filename provided")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !acceptableUpload(header.Filename, contentType) {
		respondError(w, http.StatusUnsupportedMediaType, "unsupported audio format")
		return
	}
	if contentType == "" {
		contentType = inferContentType(header.Filename)
	}

	if err := os.MkdirAll(h.cfg.Dir, 0o755); err != nil {
		logger.Error().Err(err).Str("dir", h.cfg.Dir).Msg("failed to create upload dir")
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	fileID := uuid.New().String()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	path := filepath.Join(h.cfg.Dir, fileID+ext)

	dst, err := os.Create(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to create upload file")
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	size, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err != nil || closeErr != nil {
		_ = os.Remove(path)
		if err == nil {
			err = closeErr
		}
		logger.Error().Err(err).Str("path", path).Msg("failed to write upload")
		respondError(w, http.StatusRequestEntityTooLarge, "upload failed or exceeded size limit")
		return
	}

	if err := h.files.CreateFile(r.Context(), fileID, header.Filename, path, size, contentType); err != nil {
		_ = os.Remove(path)
		logger.Error().Err(err).Str("file_id", fileID).Msg("failed to create file record")
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	metrics.RecordUpload(size)
	logger.Info().
		Str("file_id", fileID).
		Str("filename", header.Filename).
		Int64("size", size).
		Msg("file uploaded")

	respondJSON(w, http.StatusCreated, &FileResponse{
		FileID:      fileID,
		Filename:    header.Filename,
		Size:        size,
		ContentType: contentType,
	})
}

// Get handles GET /api/files/{fileID}
func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	f, err := h.files.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		logger.Error().Err(err).Str("file_id", fileID).Msg("failed to get file")
		respondError(w, http.StatusInternalServerError, "failed to get file")
		return
	}

	respondJSON(w, http.StatusOK, &FileResponse{
		FileID:      f.ID,
		Filename:    f.Filename,
		Size:        f.Size,
		ContentType: f.ContentType,
		CreatedAt:   f.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// Delete handles DELETE /api/files/{fileID}: removes the blob and the record
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	f, err := h.files.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		logger.Error().Err(err).Str("file_id", fileID).Msg("failed to get file")
		respondError(w, http.StatusInternalServerError, "failed to delete file")
		return
	}

	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("path", f.Path).Msg("failed to remove file blob")
	}

	if _, err := h.files.DeleteFile(r.Context(), fileID); err != nil {
		// Deleting a referenced file violates the task FK
		respondError(w, http.StatusConflict, "file has transcription tasks")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("file %s deleted", fileID),
	})
}
