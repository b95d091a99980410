// Package backend serves the mock order backend over HTTP: order lookup and
// cancellation for the tools, dev routes for seeding, and a telemetry intake.
package backend

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Policy-Harness/agent/contract"
	"github.com/tanpawarit/Chative-Policy-Harness/agent/telemetry"
	metricsx "github.com/tanpawarit/Chative-Policy-Harness/pkg/metrics"
)

type Config struct {
	Host string `split_words:"true" default:"127.0.0.1"`
	Port int    `split_words:"true" default:"8080"`
	// Token enables bearer authentication on every route but /health and /metrics.
	Token string `split_words:"true"`
}

type Server struct {
	echo    *echo.Echo
	store   contractx.OrderStore
	sink    telemetry.Sink
	metrics *metricsx.Metrics
	logger  zerolog.Logger
	config  Config
}

func NewServer(store contractx.OrderStore, sink telemetry.Sink, m *metricsx.Metrics, logger zerolog.Logger, cfg Config) (*Server, error) {
	if store == nil {
		return nil, errors.New("order store is required")
	}
	if m == nil {
		return nil, errors.New("metrics are required")
	}
	if sink == nil {
		sink = telemetry.NewLogSink(logger)
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info().
				Str("method", c.Request().Method).
				Str("uri", c.Request().RequestURI).
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Msg("http request")
			return nil
		}
	})
	if token := strings.TrimSpace(cfg.Token); token != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Skipper: func(c echo.Context) bool {
				p := c.Path()
				return p == "/health" || p == "/metrics"
			},
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == token, nil
			},
		}))
	}

	s := &Server{
		echo:    e,
		store:   store,
		sink:    sink,
		metrics: m,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	s.echo.GET("/orders/:order_id", s.handleGetOrder)
	s.echo.POST("/orders/:order_id/cancel", s.handleCancelOrder)

	dev := s.echo.Group("/dev")
	dev.GET("/orders", s.handleListOrders)
	dev.GET("/orders/random", s.handleRandomOrder)
	dev.POST("/reseed", s.handleReseed)

	s.echo.POST("/telemetry/log_event", s.handleLogEvent)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

type HealthResponse struct {
	Status string `json:"status"`
}

type CancelRequest struct {
	CancellationReason string `json:"cancellation_reason"`
}

type LogEventResponse struct {
	Status    string `json:"status"`
	EventType string `json:"event_type"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleGetOrder(c echo.Context) error {
	snap, err := s.store.Get(c.Request().Context(), c.Param("order_id"))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleCancelOrder(c echo.Context) error {
	var req CancelRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	outcome, err := s.store.Cancel(c.Request().Context(), c.Param("order_id"), req.CancellationReason)
	switch {
	case err == nil:
		s.metrics.OrderCancellations.WithLabelValues("cancelled").Inc()
		return c.JSON(http.StatusOK, outcome)
	case errors.Is(err, contractx.ErrAlreadyTerminal):
		s.metrics.OrderCancellations.WithLabelValues("already_terminal").Inc()
		return c.JSON(http.StatusConflict, outcome)
	case errors.Is(err, contractx.ErrNotFound):
		s.metrics.OrderCancellations.WithLabelValues("not_found").Inc()
		return storeError(err)
	default:
		return storeError(err)
	}
}

func (s *Server) handleListOrders(c echo.Context) error {
	orders, err := s.store.List(c.Request().Context())
	if err != nil {
		return storeError(err)
	}
	if status := contractx.OrderStatus(c.QueryParam("status")); status != "" {
		orders = filterStatus(orders, status)
	}
	return c.JSON(http.StatusOK, orders)
}

func (s *Server) handleRandomOrder(c echo.Context) error {
	orders, err := s.store.List(c.Request().Context())
	if err != nil {
		return storeError(err)
	}
	if status := contractx.OrderStatus(c.QueryParam("status")); status != "" {
		orders = filterStatus(orders, status)
	}
	if len(orders) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no orders available")
	}
	return c.JSON(http.StatusOK, orders[rand.IntN(len(orders))])
}

func (s *Server) handleReseed(c echo.Context) error {
	var cfg contractx.SeedConfig
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&cfg); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid seed config")
		}
	}

	summary, err := s.store.Seed(c.Request().Context(), cfg)
	if err != nil {
		s.logger.Error().Err(err).Msg("reseed failed")
		if errors.Is(err, contractx.ErrSeedingFailure) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return storeError(err)
	}
	s.logger.Info().Int("orders", summary.Orders).Uint64("seed", summary.Seed).Msg("order store reseeded")
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleLogEvent(c echo.Context) error {
	var ev telemetry.Event
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event body")
	}
	if err := ev.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := s.sink.Emit(c.Request().Context(), ev); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(ev.EventType)).Msg("telemetry sink failed")
		return echo.NewHTTPError(http.StatusBadGateway, "telemetry sink failed")
	}
	return c.JSON(http.StatusCreated, LogEventResponse{Status: "logged", EventType: string(ev.EventType)})
}

func storeError(err error) error {
	switch {
	case errors.Is(err, contractx.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, contractx.ErrAlreadyTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func filterStatus(orders []contractx.OrderSnapshot, status contractx.OrderStatus) []contractx.OrderSnapshot {
	out := orders[:0]
	for _, o := range orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.Addr()).Msg("starting order backend")
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down order backend")
	return s.echo.Shutdown(ctx)
}
