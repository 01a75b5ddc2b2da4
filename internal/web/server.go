package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"seekbot/internal/logger"
	"seekbot/internal/metrics"
	"seekbot/internal/slskd"
	"seekbot/internal/worker"
	"seekbot/pkg/models"
)

// Submitter starts a request in the background.
type Submitter interface {
	Submit(text string, reply worker.ReplyFunc) string
}

// ConnectionChecker reports slskd's Soulseek connection.
type ConnectionChecker interface {
	CheckSoulseekConnection(ctx context.Context) (*slskd.ServerState, error)
}

// ContainerInspector reports on the slskd container managed by seekbot.
type ContainerInspector interface {
	SlskdStatus(ctx context.Context) (string, error)
	GetSlskdPort(ctx context.Context) (string, error)
}

type Server struct {
	config    *models.Config
	port      int
	submitter Submitter
	checker   ConnectionChecker
	container ContainerInspector
	server    *http.Server
}

func NewServer(config *models.Config, submitter Submitter, checker ConnectionChecker) *Server {
	return &Server{
		config:    config,
		port:      config.Web.Port,
		submitter: submitter,
		checker:   checker,
	}
}

// WithContainer adds container details to /api/status.
func (s *Server) WithContainer(container ContainerInspector) *Server {
	s.container = container
	return s
}

// Handler returns the instrumented route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	// API routes
	mux.HandleFunc("/api/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/api/download", s.corsMiddleware(s.handleDownload))

	return otelhttp.NewHandler(s.loggingMiddleware(mux), "seekbot")
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting web server on port %d", s.port)

	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.LogHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start))

		// The mux records the matched pattern on r; unmatched paths share one label.
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(r.Method, path, rec.status)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, NewErrorResponse(message))
}
