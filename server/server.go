// Package server exposes a Runner over HTTP and websockets.
package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lobsim/config"
	"lobsim/engine"
	"lobsim/metrics"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// firstServerID is where ids for orders posted without one start, well clear
// of the ranges the shell and bots use.
const firstServerID = 1 << 40

type Server struct {
	runner   *engine.Runner
	cfg      config.ServerConfig
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
	logger   *zap.Logger
	ids      atomic.Uint64
}

// New wires a server over runner. collector and gatherer are optional; without
// a gatherer the /metrics route is not registered.
func New(runner *engine.Runner, cfg config.ServerConfig, collector *metrics.Collector, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 32
	}
	if cfg.DefaultDepth <= 0 {
		cfg.DefaultDepth = 10
	}
	s := &Server{
		runner:   runner,
		cfg:      cfg,
		metrics:  collector,
		gatherer: gatherer,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
	}
	s.ids.Store(firstServerID - 1)
	return s
}

// Handler returns the routed handler with CORS and request ids applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "POST /orders", s.withAuth(http.HandlerFunc(s.handleSubmit)))
	s.handle(mux, "GET /orders/{id}", s.withAuth(http.HandlerFunc(s.handleGetOrder)))
	s.handle(mux, "DELETE /orders/{id}", s.withAuth(http.HandlerFunc(s.handleCancel)))
	s.handle(mux, "PATCH /orders/{id}", s.withAuth(http.HandlerFunc(s.handleModify)))
	s.handle(mux, "GET /book", s.withAuth(http.HandlerFunc(s.handleBook)))
	s.handle(mux, "GET /stats", s.withAuth(http.HandlerFunc(s.handleStats)))
	s.handle(mux, "GET /ws/fills", s.withAuth(http.HandlerFunc(s.handleFillStream)))
	s.handle(mux, "GET /ws/book", s.withAuth(http.HandlerFunc(s.handleBookStream)))
	s.handle(mux, "GET /healthz", http.HandlerFunc(s.handleHealth))
	if s.gatherer != nil {
		s.handle(mux, "GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s.withRequestID(s.withCORS(mux))
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handle registers h under pattern and records its latency by route.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.Handler) {
	method, route, _ := strings.Cut(pattern, " ")
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.ObserveRequest(method, route, rec.status, elapsed)
		}
		requestLogger(r.Context(), s.logger).Debug("request served",
			zap.String("method", method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	}))
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.cfg.AuthToken {
			writeError(w, http.StatusUnauthorized, errors.New("missing or invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loggerKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		logger := s.logger.With(zap.String("request_id", id))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), loggerKey{}, logger)))
	})
}

func requestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return fallback
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
