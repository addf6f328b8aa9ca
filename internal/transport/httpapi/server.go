// Package httpapi exposes the trigger and immediate-publish drivers over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"BlogPublisher/internal/config"
	"BlogPublisher/internal/domain"
	"BlogPublisher/internal/logging"
	"BlogPublisher/internal/usecase"
)

// Runner executes one pipeline cycle.
type Runner interface {
	Run(ctx context.Context, req usecase.Request) (domain.CycleSummary, error)
}

// Response is the JSON body of every trigger endpoint.
type Response struct {
	Status  string               `json:"status"`
	Message string               `json:"message"`
	Summary *domain.CycleSummary `json:"summary,omitempty"`
}

// Server wraps the echo instance.
type Server struct {
	echo   *echo.Echo
	runner Runner
	addr   string
	logger *slog.Logger
}

// NewServer registers routes. An empty trigger token leaves the trigger
// endpoints open, which is only sensible behind a private network.
func NewServer(runner Runner, gatherer prometheus.Gatherer, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency)
			return nil
		},
	}))

	s := &Server{echo: e, runner: runner, addr: cfg.Addr, logger: logger}

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	triggers := e.Group("")
	triggers.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(1),
			Burst:     5,
			ExpiresIn: 3 * time.Minute,
		}),
	}))
	if cfg.TriggerToken != "" {
		token := []byte(cfg.TriggerToken)
		triggers.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup:  "header:" + echo.HeaderAuthorization,
			AuthScheme: "Bearer",
			Validator: func(key string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), token) == 1, nil
			},
		}))
	}
	triggers.POST("/cron/publish", s.cronPublish)
	triggers.POST("/posts/:id/publish", s.publishRecord)
	triggers.POST("/posts/publish-latest", s.publishLatest)

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		errCh <- s.echo.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// cronPublish runs one cycle for an external scheduler. Query parameters
// mode and record_id are optional.
func (s *Server) cronPublish(c echo.Context) error {
	mode, err := domain.ParseMode(c.QueryParam("mode"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, Response{Status: "error", Message: err.Error()})
	}

	summary, err := s.runner.Run(c.Request().Context(), usecase.Request{Mode: mode, RecordID: c.QueryParam("record_id")})
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, Response{Status: "error", Message: err.Error(), Summary: &summary})
	}
	return c.JSON(http.StatusOK, Response{Status: "success", Message: "Scheduler executed", Summary: &summary})
}

func (s *Server) publishRecord(c echo.Context) error {
	return s.publishNow(c, c.Param("id"))
}

func (s *Server) publishLatest(c echo.Context) error {
	return s.publishNow(c, "")
}

// publishNow runs the immediate driver and surfaces the first record error.
func (s *Server) publishNow(c echo.Context, recordID string) error {
	summary, err := s.runner.Run(c.Request().Context(), usecase.Request{Mode: domain.ModeImmediate, RecordID: recordID})
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, Response{Status: "error", Message: err.Error(), Summary: &summary})
	}

	if len(summary.Results) == 0 {
		msg := "no record is ready to publish"
		if recordID != "" {
			msg = fmt.Sprintf("record %s not found", recordID)
		}
		return c.JSON(http.StatusNotFound, Response{Status: "error", Message: msg, Summary: &summary})
	}

	if err := summary.FirstError(); err != nil {
		status := http.StatusBadGateway
		var recErr *domain.ReconcileError
		if errors.As(err, &recErr) {
			status = http.StatusAccepted
		}
		return c.JSON(status, Response{Status: "error", Message: err.Error(), Summary: &summary})
	}

	first := summary.Results[0]
	if first.Outcome == domain.OutcomeSkipped {
		return c.JSON(http.StatusConflict, Response{Status: "skipped", Message: first.Reason, Summary: &summary})
	}
	return c.JSON(http.StatusOK, Response{
		Status:  "success",
		Message: fmt.Sprintf("Published as post %s", first.RemotePostID),
		Summary: &summary,
	})
}
