package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleet-ingest/internal/telemetry/application"
)

// StatusSource exposes the latest cycle outcome.
type StatusSource interface {
	LastResult() (application.PipelineResult, bool)
}

// BreakerSource exposes the upstream circuit breaker state.
type BreakerSource interface {
	BreakerState() string
}

type statusResponse struct {
	State     string                      `json:"state"`
	StartedAt time.Time                   `json:"started_at"`
	Breaker   string                      `json:"source_breaker,omitempty"`
	LastCycle *application.PipelineResult `json:"last_cycle,omitempty"`
}

// Handler serves health, metrics and cycle status.
type Handler struct {
	status    StatusSource
	breaker   BreakerSource
	gatherer  prometheus.Gatherer
	startedAt time.Time
}

// NewHandler constructs a handler. breaker may be nil.
func NewHandler(status StatusSource, breaker BreakerSource, gatherer prometheus.Gatherer) (*Handler, error) {
	if status == nil {
		return nil, errors.New("status handler: nil status source")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		status:    status,
		breaker:   breaker,
		gatherer:  gatherer,
		startedAt: time.Now().UTC(),
	}, nil
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Get("/healthz", h.handleHealth)
	r.Get("/status", h.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{State: "starting", StartedAt: h.startedAt}
	if h.breaker != nil {
		resp.Breaker = h.breaker.BreakerState()
	}
	if last, ok := h.status.LastResult(); ok {
		resp.LastCycle = &last
		resp.State = "ok"
		if last.Unsuccessful() {
			resp.State = "degraded"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Server runs the handler as a supervised service.
type Server struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewServer binds handler to addr.
func NewServer(addr string, handler http.Handler, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) String() string {
	return "status-server"
}
