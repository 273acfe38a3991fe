// Package web serves the dashboard over HTTP.
package web

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/aqforecast/internal/dashboard"
)

const (
	buildTimeout = 2 * time.Minute
	maxHorizon   = 24 * 14
)

// Requests counts HTTP requests by route and status.
var Requests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "aqforecast_http_requests_total",
		Help: "HTTP requests served, by route and status.",
	},
	[]string{"route", "status"},
)

// Builder is the subset of *dashboard.Builder the server needs.
type Builder interface {
	Build(ctx context.Context) dashboard.View
	Forecast(ctx context.Context, steps int) dashboard.ForecastPanel
	Horizon() int
}

// Server bundles router and dependencies for the dashboard.
type Server struct {
	addr    string
	builder Builder
	engine  *gin.Engine
	logger  logrus.FieldLogger
}

// New constructs a server with routes and middleware. gatherer backs the
// /metrics endpoint.
func New(addr string, builder Builder, gatherer prometheus.Gatherer, logger logrus.FieldLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		addr:    addr,
		builder: builder,
		engine:  engine,
		logger:  logger.WithField("component", "http"),
	}
	engine.Use(s.logRequests())
	s.registerRoutes(gatherer)
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.addr).Info("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/api/v1/dashboard", s.handleDashboard)
	s.engine.GET("/api/v1/forecast", s.handleForecast)
}

func (s *Server) handleIndex(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), buildTimeout)
	defer cancel()

	var buf bytes.Buffer
	if err := dashboard.Render(&buf, s.builder.Build(ctx)); err != nil {
		s.logger.WithError(err).Error("failed to render dashboard")
		c.String(http.StatusInternalServerError, "failed to render dashboard")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handleDashboard(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), buildTimeout)
	defer cancel()

	c.JSON(http.StatusOK, s.builder.Build(ctx))
}

func (s *Server) handleForecast(c *gin.Context) {
	steps := s.builder.Horizon()
	if raw := c.Query("steps"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxHorizon {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid steps"})
			return
		}
		steps = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), buildTimeout)
	defer cancel()

	panel := s.builder.Forecast(ctx, steps)
	code := http.StatusOK
	switch panel.Status {
	case dashboard.StatusNoData:
		code = http.StatusNotFound
	case dashboard.StatusError:
		code = http.StatusInternalServerError
	}
	c.JSON(code, panel)
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()

		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   status,
			"duration": time.Since(start).String(),
		}).Info("request completed")
	}
}
