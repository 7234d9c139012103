package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harkaudio/hark/internal/api/handlers"
	apiMiddleware "github.com/harkaudio/hark/internal/api/middleware"
	"github.com/harkaudio/hark/internal/api/websocket"
	"github.com/harkaudio/hark/internal/config"
	"github.com/harkaudio/hark/internal/events"
	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/metrics"
	"github.com/harkaudio/hark/internal/queue"
	"github.com/harkaudio/hark/internal/store"
)

const depthReportInterval = 5 * time.Second

// Server represents the HTTP server
type Server struct {
	router               *chi.Mux
	queue                *queue.TaskQueue
	config               *config.Config
	broker               events.Publisher
	fileHandler          *handlers.FileHandler
	transcriptionHandler *handlers.TranscriptionHandler
	adminHandler         *handlers.AdminHandler
	wsHub                *websocket.Hub
	wsHandler            *websocket.Handler
	stopCh               chan struct{}
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, q *queue.TaskQueue, files *store.FileRegistry, broker events.Publisher) *Server {
	wsHub := websocket.NewHub(broker)

	s := &Server{
		router:               chi.NewRouter(),
		queue:                q,
		config:               cfg,
		broker:               broker,
		fileHandler:          handlers.NewFileHandler(files, &cfg.Upload),
		transcriptionHandler: handlers.NewTranscriptionHandler(q, files),
		adminHandler:         handlers.NewAdminHandler(q, files),
		wsHub:                wsHub,
		wsHandler:            websocket.NewHandler(wsHub),
		stopCh:               make(chan struct{}),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	var auth func(http.Handler) http.Handler
	if s.config.Auth.Enabled {
		apiKeys := make(map[string]bool, len(s.config.Auth.APIKeys))
		for _, k := range s.config.Auth.APIKeys {
			apiKeys[k] = true
		}
		auth = apiMiddleware.Auth(&apiMiddleware.AuthConfig{
			Enabled:   true,
			JWTSecret: s.config.Auth.JWTSecret,
			APIKeys:   apiKeys,
		})
	}

	s.router.Route("/api", func(r chi.Router) {
		if s.config.Server.RateLimitRPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.Server.RateLimitRPS))
		}
		if auth != nil {
			r.Use(auth)
		}

		r.Route("/files", func(r chi.Router) {
			r.Post("/", s.fileHandler.Upload)
			r.Get("/{fileID}", s.fileHandler.Get)
			r.Delete("/{fileID}", s.fileHandler.Delete)
		})

		r.Route("/transcriptions", func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			r.Post("/", s.transcriptionHandler.Create)
			r.Post("/from-path", s.transcriptionHandler.CreateFromPath)
			r.Get("/", s.transcriptionHandler.List)
			r.Get("/{taskID}", s.transcriptionHandler.Get)
			r.Delete("/{taskID}", s.transcriptionHandler.Cancel)
		})
	})

	s.router.Route("/admin", func(r chi.Router) {
		if auth != nil {
			r.Use(auth, apiMiddleware.RequireRole("admin"))
		}
		r.Get("/health", s.adminHandler.HealthCheck)
		r.Get("/stats", s.adminHandler.Stats)
	})

	// WebSocket event stream
	s.router.Get("/ws", s.wsHandler.ServeWS)

	// Prometheus metrics
	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start runs the WebSocket hub and the queue depth reporter
func (s *Server) Start(ctx context.Context) {
	s.wsHub.Run(ctx)
	go s.depthReportLoop(ctx)
}

// Stop shuts down background loops
func (s *Server) Stop() {
	close(s.stopCh)
	s.wsHub.Stop()
}

// depthReportLoop publishes queue depth snapshots for WS consumers and
// keeps the depth gauges current
func (s *Server) depthReportLoop(ctx context.Context) {
	ticker := time.NewTicker(depthReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			counts, err := s.queue.CountByStatus(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to read queue depth")
				continue
			}

			depths := make(map[string]int, len(counts))
			for status, n := range counts {
				depths[status.String()] = n
				metrics.UpdateQueueDepth(status.String(), float64(n))
			}

			if err := s.broker.Publish(ctx, events.NewEvent(events.EventQueueDepth, events.QueueDepthData(depths))); err != nil {
				logger.Warn().Err(err).Msg("failed to publish queue depth")
			}
		}
	}
}
