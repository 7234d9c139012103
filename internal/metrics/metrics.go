package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue metrics
	TasksEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hark_tasks_enqueued_total",
			Help: "Total number of transcription tasks enqueued",
		},
	)

	TasksClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hark_tasks_claimed_total",
			Help: "Total number of dequeue claims handed out",
		},
	)

	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hark_tasks_finished_total",
			Help: "Total number of tasks reaching a terminal state",
		},
		[]string{"status"},
	)

	TaskRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hark_task_retries_total",
			Help: "Total number of task retries (fail-and-requeue)",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hark_queue_depth",
			Help: "Current number of tasks by status",
		},
		[]string{"status"},
	)

	// Sweeper metrics
	SweeperRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hark_sweeper_requeued_total",
			Help: "Tasks reclaimed to pending by the sweeper",
		},
	)

	SweeperFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hark_sweeper_failed_total",
			Help: "Tasks terminally failed by the sweeper at the retry ceiling",
		},
	)

	// Worker metrics
	TranscriptionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hark_transcription_duration_seconds",
			Help:    "Wall-clock time spent transcribing one task",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16), // 100ms to ~1.8h
		},
	)

	AudioSecondsTranscribed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hark_audio_seconds_transcribed_total",
			Help: "Total seconds of audio successfully transcribed",
		},
	)

	SegmentsProduced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hark_segments_produced_total",
			Help: "Total transcript segments produced by engines",
		},
	)

	HeartbeatErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hark_heartbeat_errors_total",
			Help: "Transient heartbeat failures (logged and swallowed)",
		},
	)

	// Upload metrics
	FilesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hark_files_uploaded_total",
			Help: "Total audio files uploaded",
		},
	)

	UploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hark_upload_bytes_total",
			Help: "Total bytes of audio uploaded",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hark_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hark_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hark_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hark_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordTaskEnqueued records a task submission
func RecordTaskEnqueued() {
	TasksEnqueued.Inc()
}

// RecordTaskClaimed records a successful dequeue claim
func RecordTaskClaimed() {
	TasksClaimed.Inc()
}

// RecordTaskFinished records a terminal transition
func RecordTaskFinished(status string) {
	TasksFinished.WithLabelValues(status).Inc()
}

// RecordTaskRetried records a fail-and-requeue
func RecordTaskRetried() {
	TaskRetries.Inc()
}

// UpdateQueueDepth updates the per-status depth gauge
func UpdateQueueDepth(status string, depth float64) {
	QueueDepth.WithLabelValues(status).Set(depth)
}

// RecordSweeperRequeued records tasks reclaimed to pending
func RecordSweeperRequeued(n int) {
	SweeperRequeued.Add(float64(n))
}

// RecordSweeperFailed records tasks terminally failed by the sweeper
func RecordSweeperFailed(n int) {
	SweeperFailed.Add(float64(n))
}

// RecordTranscription records one finished transcription run
func RecordTranscription(wallSeconds float64) {
	TranscriptionDuration.Observe(wallSeconds)
}

// RecordAudioTranscribed adds successfully transcribed audio seconds
func RecordAudioTranscribed(audioSeconds float64) {
	AudioSecondsTranscribed.Add(audioSeconds)
}

// RecordSegments adds produced segments
func RecordSegments(n int) {
	SegmentsProduced.Add(float64(n))
}

// RecordHeartbeatError records a swallowed heartbeat failure
func RecordHeartbeatError() {
	HeartbeatErrors.Inc()
}

// RecordUpload records one uploaded file
func RecordUpload(bytes int64) {
	FilesUploaded.Inc()
	UploadBytes.Add(float64(bytes))
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a WebSocket message
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
