// Package api exposes the incident engine over HTTP and gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/miradorstack/mirador-incidents/internal/services"
)

// HTTPServer serves the REST API.
type HTTPServer struct {
	router   *chi.Mux
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// NewHTTPServer builds the router and binds the listener.
func NewHTTPServer(addr string, svc *services.IncidentService, logger *slog.Logger) (*HTTPServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	router := NewRouter(svc, logger)
	return &HTTPServer{
		router:   router,
		listener: lis,
		logger:   logger,
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// NewRouter wires every API route onto a chi router.
func NewRouter(svc *services.IncidentService, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{svc: svc, validate: validator.New(validator.WithRequiredStructEnabled()), logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Route("/api/v1", func(r chi.Router) {
		// Analysis runs outlive the default request timeout.
		r.Post("/analyze", h.analyze)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/incidents", h.listIncidents)
			r.Get("/incidents/{id}", h.getIncident)
			r.Patch("/incidents/{id}/status", h.updateStatus)

			r.Get("/groups", h.listGroups)
			r.Get("/groups/{id}", h.getGroup)
			r.Get("/groups/{id}/playbook", h.groupPlaybook)

			r.Get("/alerts/rules", h.listRules)
			r.Post("/alerts/rules", h.createRule)
			r.Put("/alerts/rules/{id}", h.updateRule)
			r.Delete("/alerts/rules/{id}", h.deleteRule)

			r.Get("/analytics/summary", h.summary)
			r.Get("/analytics/trends", h.trends)

			r.Post("/credentials/{user}", h.storeCredential)

			r.Post("/chat", h.chat)
		})
	})
	return r
}

// Start serves requests until Shutdown is invoked.
func (s *HTTPServer) Start() error {
	if s.server == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Address exposes the bound listener address.
func (s *HTTPServer) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
