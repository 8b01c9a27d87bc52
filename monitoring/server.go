package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

// Server is the ops listener: /metrics for Prometheus and /healthz for probes.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

func NewServer(port string, health map[string]HealthFunc, log *slog.Logger) *Server {
	e := echo.New()
	e.Use(middleware.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", healthHandler(health))

	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           e,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

func healthHandler(checks map[string]HealthFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		code := http.StatusOK
		report := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				report[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}
		return c.JSON(code, map[string]any{"status": http.StatusText(code), "checks": report})
	}
}

func (s *Server) Start() {
	go func() {
		s.log.Info("ops server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server stopped", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
