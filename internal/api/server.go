// Package api exposes the orchestrator over HTTP and WebSocket.
package api

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"slicesim/internal/logging"
	"slicesim/internal/sim"
)

//go:embed templates/index.html
var content embed.FS

// Server serves the simulation API.
type Server struct {
	Sim      *sim.Orchestrator
	metrics  http.Handler
	schema   *jsonschema.Schema
	tpl      *template.Template
	upgrader websocket.Upgrader
	log      *slog.Logger
	mux      *http.ServeMux
}

// Option customises a Server.
type Option func(*Server)

// WithMetrics mounts h on GET /metrics.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// NewServer builds the API around o.
func NewServer(o *sim.Orchestrator, opts ...Option) (*Server, error) {
	schema, err := compileCreateSchema()
	if err != nil {
		return nil, err
	}
	s := &Server{
		Sim:    o,
		schema: schema,
		tpl:    template.Must(template.New("index.html").ParseFS(content, "templates/index.html")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /simulation/create", s.handleCreate)
	s.mux.HandleFunc("POST /simulation/{id}/start", s.handleStart)
	s.mux.HandleFunc("POST /simulation/{id}/stop", s.handleStop)
	s.mux.HandleFunc("GET /simulation/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /simulation/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /simulation/{id}/snapshots", s.handleSnapshots)
	s.mux.HandleFunc("GET /simulations/history", s.handleHistory)
	s.mux.HandleFunc("GET /slice-metrics/{id}/{slice}", s.handleSliceMetrics)
	s.mux.HandleFunc("GET /ws/metrics/{id}", s.handleStream)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /health/slices/{slice}", s.handleSliceHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := logging.NewContext(r.Context(), s.log)
		s.mux.ServeHTTP(rw, r.WithContext(ctx))
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rw.status, "elapsed", time.Since(start))
	})
}

// Start serves on addr until ctx is cancelled, then drains in-flight
// requests for up to grace.
func (s *Server) Start(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("api listening", "addr", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
