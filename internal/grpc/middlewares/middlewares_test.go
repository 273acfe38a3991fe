package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var info = &grpc.UnaryServerInfo{FullMethod: "/aqforecast.v1.ForecastService/GetForecast"}

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "response-" + req.(string), nil
}

func TestContextMiddlewareGeneratesRequestID(t *testing.T) {
	var seen string
	_, err := ContextMiddleware(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = RequestID(ctx)
		return nil, nil
	})
	require.NoError(t, err)

	_, parseErr := uuid.Parse(seen)
	assert.NoError(t, parseErr, "request id should be a uuid, got %q", seen)
}

func TestContextMiddlewareReusesIncomingID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDHeader, "abc-123"))

	var seen string
	_, err := ContextMiddleware(ctx, "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = RequestID(ctx)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", seen)
}

func TestRateLimitingInterceptor(t *testing.T) {
	interceptor := NewRateLimitingInterceptor(0.001, 2)

	for i := 0; i < 2; i++ {
		resp, err := interceptor(context.Background(), "r", info, okHandler)
		require.NoError(t, err)
		assert.Equal(t, "response-r", resp)
	}

	_, err := interceptor(context.Background(), "r", info, okHandler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "rate limit exceeded")

	health := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	resp, err := interceptor(context.Background(), "probe", health, okHandler)
	require.NoError(t, err)
	assert.Equal(t, "response-probe", resp)
}

func TestLoggingInterceptor(t *testing.T) {
	logger, hook := test.NewNullLogger()
	interceptor := NewLoggingInterceptor(logger)

	ctx := context.WithValue(context.Background(), requestIDKey, "rid-1")
	_, err := interceptor(ctx, "r", info, okHandler)
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "rid-1", entry.Data["request_id"])
	assert.Equal(t, info.FullMethod, entry.Data["method"])
	assert.Equal(t, "OK", entry.Data["code"])

	failing := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "no data")
	}
	_, err = interceptor(ctx, "r", info, failing)
	require.Error(t, err)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "NotFound", hook.LastEntry().Data["code"])
}

func TestMetricsInterceptor(t *testing.T) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_requests_total"}, []string{"method", "code"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_latency_seconds"}, []string{"method"})
	interceptor := NewMetricsInterceptor(requests, latency)

	_, _ = interceptor(context.Background(), "r", info, okHandler)
	_, _ = interceptor(context.Background(), "r", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, errors.New("boom")
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("GetForecast", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("GetForecast", "Unknown")))
	assert.Equal(t, 1, testutil.CollectAndCount(latency))
}
