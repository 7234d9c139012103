package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harkaudio/hark/internal/config"
	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/queue"
	"github.com/harkaudio/hark/internal/store"
	"github.com/harkaudio/hark/internal/task"
)

func init() {
	logger.Init("error", false)
}

type env struct {
	router *chi.Mux
	queue  *queue.TaskQueue
	files  *store.FileRegistry
	upload string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "hark.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	files := store.NewFileRegistry(s)
	q := queue.New(s)

	uploadDir := filepath.Join(dir, "uploads")
	fileHandler := NewFileHandler(files, &config.UploadConfig{
		Dir:         uploadDir,
		MaxFileSize: 1 << 20,
	})
	trHandler := NewTranscriptionHandler(q, files)
	adminHandler := NewAdminHandler(q, files)

	r := chi.NewRouter()
	r.Route("/api/files", func(r chi.Router) {
		r.Post("/", fileHandler.Upload)
		r.Get("/{fileID}", fileHandler.Get)
		r.Delete("/{fileID}", fileHandler.Delete)
	})
	r.Route("/api/transcriptions", func(r chi.Router) {
		r.Post("/", trHandler.Create)
		r.Post("/from-path", trHandler.CreateFromPath)
		r.Get("/", trHandler.List)
		r.Get("/{taskID}", trHandler.Get)
		r.Delete("/{taskID}", trHandler.Cancel)
	})
	r.Get("/admin/health", adminHandler.HealthCheck)
	r.Get("/admin/stats", adminHandler.Stats)

	return &env{router: r, queue: q, files: files, upload: uploadDir}
}

func (e *env) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) doJSON(t *testing.T, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return e.do(t, method, path, body, "application/json")
}

func uploadAudio(t *testing.T, e *env, filename string, content []byte) string {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := e.do(t, http.MethodPost, "/api/files", body.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp FileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.FileID
}

func TestUpload_SavesFileAndRecord(t *testing.T) {
	e := newEnv(t)

	fileID := uploadAudio(t, e, "meeting.mp3", []byte("fake mp3 bytes"))
	require.NotEmpty(t, fileID)

	f, err := e.files.GetFile(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, "meeting.mp3", f.Filename)
	assert.Equal(t, int64(14), f.Size)

	// Blob lands under the upload dir as <file_id><ext>
	assert.Equal(t, filepath.Join(e.upload, fileID+".mp3"), f.Path)
	_, err = os.Stat(f.Path)
	require.NoError(t, err)
}

func TestUpload_RejectsUnsupportedFormat(t *testing.T) {
	e := newEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "malware.exe")
	require.NoError(t, err)
	_, err = part.Write([]byte("MZ"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := e.do(t, http.MethodPost, "/api/files", body.Bytes(), mw.FormDataContentType())
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestUpload_MissingFileField(t *testing.T) {
	e := newEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	w := e.do(t, http.MethodPost, "/api/files", body.Bytes(), mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetFile_NotFound(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/files/ghost", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteFile_RemovesBlobAndRecord(t *testing.T) {
	e := newEnv(t)
	fileID := uploadAudio(t, e, "bye.wav", []byte("wav"))

	f, err := e.files.GetFile(context.Background(), fileID)
	require.NoError(t, err)

	w := e.do(t, http.MethodDelete, "/api/files/"+fileID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	_, err = os.Stat(f.Path)
	assert.True(t, os.IsNotExist(err))

	_, err = e.files.GetFile(context.Background(), fileID)
	assert.ErrorIs(t, err, store.ErrFileNotFound)
}

func TestCreateTranscription(t *testing.T) {
	e := newEnv(t)
	fileID := uploadAudio(t, e, "talk.mp3", []byte("mp3"))

	w := e.doJSON(t, http.MethodPost, "/api/transcriptions", map[string]interface{}{
		"file_id":  fileID,
		"priority": 7,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)

	got, err := e.queue.GetTask(context.Background(), resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, 7, got.Priority)
	assert.Equal(t, fileID, got.FileID)
}

func TestCreateTranscription_UnknownFile(t *testing.T) {
	e := newEnv(t)

	w := e.doJSON(t, http.MethodPost, "/api/transcriptions", map[string]interface{}{
		"file_id": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTranscription_MissingFileID(t *testing.T) {
	e := newEnv(t)

	w := e.doJSON(t, http.MethodPost, "/api/transcriptions", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateFromPath(t *testing.T) {
	e := newEnv(t)

	audio := filepath.Join(t.TempDir(), "batch.flac")
	require.NoError(t, os.WriteFile(audio, []byte("flac"), 0o644))

	w := e.doJSON(t, http.MethodPost, "/api/transcriptions/from-path", map[string]interface{}{
		"file_path": audio,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		TaskID   string `json:"task_id"`
		FileID   string `json:"file_id"`
		Filename string `json:"filename"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "batch.flac", resp.Filename)

	f, err := e.files.GetFile(context.Background(), resp.FileID)
	require.NoError(t, err)
	assert.Equal(t, "audio/flac", f.ContentType)
}

func TestCreateFromPath_MissingFile(t *testing.T) {
	e := newEnv(t)

	w := e.doJSON(t, http.MethodPost, "/api/transcriptions/from-path", map[string]interface{}{
		"file_path": "/nope/missing.mp3",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTranscription_IncludesSegments(t *testing.T) {
	e := newEnv(t)
	fileID := uploadAudio(t, e, "x.mp3", []byte("mp3"))
	ctx := context.Background()

	require.NoError(t, e.queue.Enqueue(ctx, "t1", fileID, queue.DefaultEnqueueParams()))
	_, err := e.queue.Dequeue(ctx, "w1")
	require.NoError(t, err)
	_, err = e.queue.Complete(ctx, "t1", []task.Segment{{Start: 0, End: 2, Text: "hi"}}, 2)
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/api/transcriptions/t1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp task.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	require.Len(t, resp.Segments, 1)
	assert.Equal(t, "hi", resp.Segments[0].Text)
}

func TestListTranscriptions(t *testing.T) {
	e := newEnv(t)
	fileID := uploadAudio(t, e, "x.mp3", []byte("mp3"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.queue.Enqueue(ctx, fmt.Sprintf("t%d", i), fileID, queue.DefaultEnqueueParams()))
	}

	w := e.do(t, http.MethodGet, "/api/transcriptions?status=pending&limit=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Tasks, 2)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Limit)
}

func TestListTranscriptions_BadStatus(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/transcriptions?status=exploded", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelTranscription(t *testing.T) {
	e := newEnv(t)
	fileID := uploadAudio(t, e, "x.mp3", []byte("mp3"))
	ctx := context.Background()

	require.NoError(t, e.queue.Enqueue(ctx, "t1", fileID, queue.DefaultEnqueueParams()))

	w := e.do(t, http.MethodDelete, "/api/transcriptions/t1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := e.queue.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, got.Status)
}

func TestCancelTranscription_Terminal(t *testing.T) {
	e := newEnv(t)
	fileID := uploadAudio(t, e, "x.mp3", []byte("mp3"))
	ctx := context.Background()

	require.NoError(t, e.queue.Enqueue(ctx, "t1", fileID, queue.DefaultEnqueueParams()))
	_, err := e.queue.Dequeue(ctx, "w1")
	require.NoError(t, err)
	_, err = e.queue.Complete(ctx, "t1", nil, 0)
	require.NoError(t, err)

	w := e.do(t, http.MethodDelete, "/api/transcriptions/t1", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelTranscription_NotFound(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodDelete, "/api/transcriptions/ghost", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_Health(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/admin/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_Stats(t *testing.T) {
	e := newEnv(t)
	fileID := uploadAudio(t, e, "x.mp3", []byte("mp3"))
	ctx := context.Background()

	require.NoError(t, e.queue.Enqueue(ctx, "t1", fileID, queue.DefaultEnqueueParams()))

	w := e.do(t, http.MethodGet, "/admin/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Tasks["pending"])
	assert.Equal(t, 1, resp.Files)
}

func TestInferContentType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", inferContentType("a.mp3"))
	assert.Equal(t, "audio/flac", inferContentType("b.FLAC"))
	assert.Equal(t, "application/octet-stream", inferContentType("c.txt"))
}

func TestAcceptableUpload(t *testing.T) {
	assert.True(t, acceptableUpload("a.mp3", ""))
	assert.True(t, acceptableUpload("weird.bin", "audio/ogg"))
	assert.True(t, acceptableUpload("weird.bin", "audio/wav; codecs=1"))
	assert.False(t, acceptableUpload("doc.pdf", "application/pdf"))
}
