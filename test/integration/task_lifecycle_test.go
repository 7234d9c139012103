//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harkaudio/hark/internal/api"
	"github.com/harkaudio/hark/internal/config"
	"github.com/harkaudio/hark/internal/engine"
	"github.com/harkaudio/hark/internal/events"
	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/queue"
	"github.com/harkaudio/hark/internal/store"
	"github.com/harkaudio/hark/internal/task"
	"github.com/harkaudio/hark/internal/worker"
)

func init() {
	logger.Init("error", false)
}

// scriptedEngine returns a fixed transcript for any input
type scriptedEngine struct {
	segments []engine.Segment
}

func (e *scriptedEngine) Transcribe(ctx context.Context, filePath string, opts *engine.Options, onProgress engine.ProgressFunc) (engine.Stream, error) {
	return &scriptedStream{segments: e.segments, onProgress: onProgress}, nil
}

type scriptedStream struct {
	segments   []engine.Segment
	onProgress engine.ProgressFunc
	pos        int
}

func (s *scriptedStream) Next() (*engine.Segment, error) {
	if s.pos >= len(s.segments) {
		return nil, io.EOF
	}
	if s.onProgress != nil {
		s.onProgress(float64(s.pos) / float64(len(s.segments)) * 100)
	}
	seg := s.segments[s.pos]
	s.pos++
	return &seg, nil
}

func (s *scriptedStream) Close() error { return nil }

type testEnv struct {
	cfg    *config.Config
	server *api.Server
	queue  *queue.TaskQueue
	files  *store.FileRegistry
	broker *events.Broker
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "hark.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Store:  config.StoreConfig{Path: st.Path()},
		Upload: config.UploadConfig{Dir: filepath.Join(dir, "uploads"), MaxFileSize: 1 << 20},
		Worker: config.WorkerConfig{
			PollInterval: 5 * time.Millisecond,
			ErrorBackoff: 5 * time.Millisecond,
		},
		Sweeper: config.SweeperConfig{
			Interval:         50 * time.Millisecond,
			TaskTimeout:      time.Hour,
			HeartbeatTimeout: time.Hour,
		},
		Metrics:  config.MetricsConfig{Enabled: false},
		LogLevel: "error",
	}

	broker := events.NewBroker()
	t.Cleanup(func() { _ = broker.Close() })

	q := queue.New(st, queue.WithPublisher(broker))
	files := store.NewFileRegistry(st)
	server := api.NewServer(cfg, q, files, broker)

	return &testEnv{cfg: cfg, server: server, queue: q, files: files, broker: broker}
}

func (e *testEnv) uploadFile(t *testing.T, filename string, content []byte) string {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		FileID string `json:"file_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.FileID
}

func (e *testEnv) createTask(t *testing.T, fileID string, priority int) string {
	t.Helper()

	body, _ := json.Marshal(map[string]interface{}{
		"file_id":  fileID,
		"priority": priority,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/transcriptions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.TaskID
}

func (e *testEnv) getTask(t *testing.T, taskID string) *task.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/transcriptions/"+taskID, nil)
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp task.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp
}

func TestLifecycle_UploadTranscribeFetch(t *testing.T) {
	e := setupEnv(t)

	fileID := e.uploadFile(t, "meeting.mp3", []byte("audio bytes"))
	taskID := e.createTask(t, fileID, 0)

	got := e.getTask(t, taskID)
	assert.Equal(t, "pending", got.Status)

	// Run a worker against the shared store until the task completes
	w := worker.New(&e.cfg.Worker, e.queue, e.files, &scriptedEngine{
		segments: []engine.Segment{
			{Start: 0, End: 5.5, Text: "the first half"},
			{Start: 5.5, End: 11.0, Text: "the second half"},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return e.getTask(t, taskID).Status == "completed"
	}, 5*time.Second, 20*time.Millisecond)

	got = e.getTask(t, taskID)
	assert.Equal(t, 100.0, got.Progress)
	require.NotNil(t, got.Duration)
	assert.Equal(t, 11.0, *got.Duration)
	require.Len(t, got.Segments, 2)
	assert.Equal(t, "the first half", got.Segments[0].Text)
	require.NotNil(t, got.CompletedAt)
}

func TestLifecycle_PriorityOrderAcrossAPI(t *testing.T) {
	e := setupEnv(t)
	fileID := e.uploadFile(t, "a.mp3", []byte("x"))

	low := e.createTask(t, fileID, 0)
	time.Sleep(2 * time.Millisecond)
	high := e.createTask(t, fileID, 10)

	first, err := e.queue.Dequeue(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, high, first.ID)

	second, err := e.queue.Dequeue(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, low, second.ID)
}

func TestLifecycle_CancelBeforeWork(t *testing.T) {
	e := setupEnv(t)
	fileID := e.uploadFile(t, "a.mp3", []byte("x"))
	taskID := e.createTask(t, fileID, 0)

	req := httptest.NewRequest(http.MethodDelete, "/api/transcriptions/"+taskID, nil)
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	claimed, err := e.queue.Dequeue(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, claimed, "cancelled tasks are not dequeueable")
}

func TestLifecycle_SweeperReclaimsAbandonedClaim(t *testing.T) {
	e := setupEnv(t)
	fileID := e.uploadFile(t, "a.mp3", []byte("x"))
	taskID := e.createTask(t, fileID, 0)

	// Claim and walk away, as a crashed worker would
	claimed, err := e.queue.Dequeue(context.Background(), "crashed-worker")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	sweeper := queue.NewSweeper(e.queue, 20*time.Millisecond, 0, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper.Start(ctx)
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		got := e.getTask(t, taskID)
		return got.Status == "pending" && got.RetryCount == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLifecycle_EventsFlowToSubscribers(t *testing.T) {
	e := setupEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := e.broker.Subscribe(ctx, events.EventTaskSubmitted)
	require.NoError(t, err)

	fileID := e.uploadFile(t, "a.mp3", []byte("x"))
	taskID := e.createTask(t, fileID, 0)

	select {
	case ev := <-ch:
		assert.Equal(t, events.EventTaskSubmitted, ev.Type)
		assert.Equal(t, taskID, ev.Data["task_id"])
	case <-time.After(time.Second):
		t.Fatal("no task.submitted event received")
	}
}
