package middleware

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// healthPrefix matches the standard health service, which probes must reach
// regardless of load.
const healthPrefix = "/grpc.health.v1.Health/"

// NewRateLimitingInterceptor admits rps requests per second with bursts of up
// to burst. Rejected calls get ResourceExhausted with the wait until the next
// token.
func NewRateLimitingInterceptor(rps float64, burst int) grpc.UnaryServerInterceptor {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(ctx, req)
		}

		r := limiter.Reserve()
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry in %s", delay.Round(time.Millisecond))
		}
		return handler(ctx, req)
	}
}
