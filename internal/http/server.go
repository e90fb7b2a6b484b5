// Package http serves the rollout controller's JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/canary"
	"github.com/fyrsmithlabs/rolloutd/internal/eventlog"
	"github.com/fyrsmithlabs/rolloutd/internal/feedback"
	"github.com/fyrsmithlabs/rolloutd/internal/guard"
	"github.com/fyrsmithlabs/rolloutd/internal/lifecycle"
	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ActorHeader names the caller when a request body does not.
const ActorHeader = "X-Rollout-Actor"

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// SubmitRate and SubmitBurst limit proposal submissions per client IP.
	SubmitRate  float64
	SubmitBurst int

	// SSEHeartbeat is the interval between keep-alive comments on event
	// streams.
	SSEHeartbeat time.Duration
}

// Deps are the components the API exposes. Lifecycle, Canary, Guard and
// Audit are required.
type Deps struct {
	Lifecycle *lifecycle.Manager
	Canary    *canary.Orchestrator
	Guard     *guard.Validator
	Audit     *eventlog.Log
	History   *feedback.History
	Gatherer  prometheus.Gatherer
	Logger    *logging.Logger
}

// Server provides HTTP endpoints for rolloutd.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg *Config) (*Server, error) {
	if deps.Lifecycle == nil || deps.Canary == nil || deps.Guard == nil || deps.Audit == nil {
		return nil, fmt.Errorf("lifecycle, canary, guard and audit are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if deps.History == nil {
		deps.History = deps.Lifecycle.History()
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8085,
		}
	}
	if cfg.SubmitRate <= 0 {
		cfg.SubmitRate = 5
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 10
	}
	if cfg.SSEHeartbeat <= 0 {
		cfg.SSEHeartbeat = 15 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(deps.Logger)

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: deps.Logger,
		config: cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(deps.Logger).MetricsMiddleware())
	e.Use(s.requestContext)

	s.registerRoutes()
	return s, nil
}

// requestContext attaches the request ID and actor to the request context
// and logs each request.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		ctx = logging.WithActor(ctx, req.Header.Get(ActorHeader))
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")

	submitLimiter := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(s.config.SubmitRate),
			Burst:     s.config.SubmitBurst,
			ExpiresIn: 3 * time.Minute,
		}),
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "submission rate exceeded")
		},
	})

	proposals := v1.Group("/proposals")
	proposals.POST("", s.handleSubmit, submitLimiter)
	proposals.GET("", s.handleListProposals)
	proposals.GET("/:id", s.handleGetProposal)
	proposals.GET("/:id/risk", s.handleProposalRisk)
	proposals.POST("/:id/approve", s.handleApprove)
	proposals.POST("/:id/decline", s.handleDecline)
	proposals.POST("/:id/request-edit", s.handleRequestEdit)
	proposals.POST("/:id/resubmit", s.handleResubmit)
	proposals.POST("/:id/apply", s.handleApply)

	v1.POST("/guard/validate", s.handleGuardValidate)
	v1.POST("/guard/check", s.handleGuardCheck)

	canaries := v1.Group("/canaries")
	canaries.POST("", s.handleStartCanary)
	canaries.GET("", s.handleListCanaries)
	canaries.GET("/:id", s.handleGetCanary)
	canaries.POST("/:id/smoke-test", s.handleSmokeTest)
	canaries.POST("/:id/promote", s.handlePromote)
	canaries.POST("/:id/rollback", s.handleRollback)
	v1.GET("/rollbacks", s.handleRollbacks)

	v1.GET("/feedback/:kpiKey", s.handleFeedback)

	v1.GET("/events", s.handleEvents)
	v1.GET("/events/stream", s.handleEventStream)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	LastEventID uint64 `json:"lastEventId"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", LastEventID: s.deps.Audit.LastID()})
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// actor picks the body-supplied actor, then the header.
func actor(c echo.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.Request().Header.Get(ActorHeader)
}
