package middleware

import (
	"context"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	// Requests counts handled calls by method and status code.
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqforecast_grpc_requests_total",
			Help: "gRPC requests handled, by method and code.",
		},
		[]string{"method", "code"},
	)

	// Latency observes handler latency by method.
	Latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqforecast_grpc_request_duration_seconds",
			Help:    "gRPC request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func NewMetricsInterceptor(
	requests *prometheus.CounterVec,
	latency *prometheus.HistogramVec,
) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		// Record metrics
		duration := time.Since(start).Seconds()
		method := path.Base(info.FullMethod)

		requests.WithLabelValues(method, status.Code(err).String()).Inc()
		latency.WithLabelValues(method).Observe(duration)

		return resp, err
	}
}
