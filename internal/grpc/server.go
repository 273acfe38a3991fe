package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/tejusbharadwaj/aqforecast/internal/api"
	"github.com/tejusbharadwaj/aqforecast/internal/dashboard"
	"github.com/tejusbharadwaj/aqforecast/internal/database"
	middleware "github.com/tejusbharadwaj/aqforecast/internal/grpc/middlewares"
	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

// ServerConfig holds configuration options for the gRPC server
type ServerConfig struct {
	RateLimit      float64 // Requests per second
	RateLimitBurst int     // Maximum burst size for rate limiting
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RateLimit:      5.0, // 5 requests per second
		RateLimitBurst: 10,  // Burst of 10 requests
	}
}

// DashboardBuilder builds complete dashboard views.
type DashboardBuilder interface {
	Build(ctx context.Context) dashboard.View
}

// Defaults are used when a request leaves a field empty.
type Defaults struct {
	Column  string
	Order   models.Order
	Horizon int
}

// Dependencies wires the service to the pipeline.
type Dependencies struct {
	Fetcher    api.SnapshotFetcher
	History    database.Store
	Stats      database.Store
	Forecaster dashboard.Forecaster
	Dashboard  DashboardBuilder
	Defaults   Defaults
}

// ForecastService serves current readings, stored history and forecasts.
type ForecastService struct {
	deps      Dependencies
	validator *RequestValidator
}

// NewForecastService creates a new service instance
func NewForecastService(deps Dependencies) *ForecastService {
	deps.Defaults.Column = models.CanonicalColumn(deps.Defaults.Column)
	return &ForecastService{
		deps:      deps,
		validator: NewRequestValidator(),
	}
}

func (s *ForecastService) GetCurrent(ctx context.Context, req *CurrentRequest) (*models.Snapshot, error) {
	snapshot, err := s.deps.Fetcher.Fetch(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if snapshot.Current.Time.IsZero() {
		return nil, toStatus(fmt.Errorf("%w: sensor returned no reading", models.ErrDataUnavailable))
	}
	return &snapshot, nil
}

func (s *ForecastService) GetHistory(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	if err := s.validator.ValidateRange(req.Start, req.End); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	column := s.column(req.Column)

	series, err := s.deps.History.Load(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if series.Empty() {
		return nil, toStatus(models.ErrDataUnavailable)
	}
	if !series.HasColumn(column) {
		return nil, toStatus(fmt.Errorf("%w: column %q not found", models.ErrConfiguration, column))
	}

	filtered := filterRange(series, req.RangeRequest)
	return &HistoryResponse{Column: column, Points: filtered.Points(column)}, nil
}

func (s *ForecastService) GetForecast(ctx context.Context, req *ForecastRequest) (*models.Forecast, error) {
	steps := req.Steps
	if steps == 0 {
		steps = s.deps.Defaults.Horizon
	}
	order := s.deps.Defaults.Order
	if req.Order != nil {
		order = *req.Order
	}
	if err := s.validator.ValidateForecast(steps, order); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	fc, err := s.deps.Forecaster.ForecastStore(ctx, s.deps.History, s.column(req.Column), order, steps)
	if err != nil {
		return nil, toStatus(err)
	}
	return &fc, nil
}

func (s *ForecastService) GetStatsHistory(ctx context.Context, req *StatsHistoryRequest) (*models.Series, error) {
	if err := s.validator.ValidateRange(req.Start, req.End); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	series, err := s.deps.Stats.Load(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if series.Empty() {
		return nil, toStatus(models.ErrDataUnavailable)
	}
	filtered := filterRange(series, req.RangeRequest)
	return &filtered, nil
}

func (s *ForecastService) GetDashboard(ctx context.Context, req *DashboardRequest) (*dashboard.View, error) {
	view := s.deps.Dashboard.Build(ctx)
	return &view, nil
}

func (s *ForecastService) column(requested string) string {
	if requested == "" {
		return s.deps.Defaults.Column
	}
	return models.CanonicalColumn(requested)
}

func filterRange(series models.Series, r RangeRequest) models.Series {
	out := models.Series{Columns: series.Columns}
	for _, row := range series.Rows {
		if !r.Start.IsZero() && row.Time.Before(r.Start) {
			continue
		}
		if !r.End.IsZero() && row.Time.After(r.End) {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// toStatus maps pipeline error kinds onto gRPC status codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, models.ErrConfiguration):
		code = codes.InvalidArgument
	case errors.Is(err, models.ErrDataUnavailable):
		code = codes.NotFound
	case errors.Is(err, models.ErrModelFit):
		code = codes.FailedPrecondition
	case errors.Is(err, models.ErrNetwork), errors.Is(err, models.ErrTimeout):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

// SetupServer initializes and configures the gRPC server with all middleware.
// Interceptor metrics are registered on reg.
func SetupServer(
	deps Dependencies,
	config ServerConfig,
	reg prometheus.Registerer,
	logger logrus.FieldLogger,
) (*grpc.Server, *HealthChecker, error) {
	if config.RateLimit <= 0 || config.RateLimitBurst <= 0 {
		return nil, nil, fmt.Errorf("%w: rate limit and burst must be positive", models.ErrConfiguration)
	}

	for _, c := range []prometheus.Collector{middleware.Requests, middleware.Latency} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
			}
		}
	}

	// Create server with chained interceptors
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(
			chainUnaryInterceptors(
				middleware.ContextMiddleware, // Add request ID first
				middleware.NewRateLimitingInterceptor(config.RateLimit, config.RateLimitBurst),
				middleware.NewLoggingInterceptor(logger),
				middleware.NewMetricsInterceptor(middleware.Requests, middleware.Latency),
			),
		),
		grpc.ConnectionTimeout(30*time.Second),
	)

	RegisterForecastServiceServer(srv, NewForecastService(deps))

	health := NewHealthChecker()
	grpc_health_v1.RegisterHealthServer(srv, health)
	health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	health.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return srv, health, nil
}

// chainUnaryInterceptors creates a single interceptor from multiple interceptors
func chainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			chainedInterceptor := chain
			chain = func(currentCtx context.Context, currentReq interface{}) (interface{}, error) {
				return interceptor(currentCtx, currentReq, info, chainedInterceptor)
			}
		}
		return chain(ctx, req)
	}
}
