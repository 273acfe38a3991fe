//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/fetcher.go -package=mocks . SnapshotFetcher

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

const maxResponseBytes = 4 << 20

var errCircuitOpen = errors.New("circuit breaker open")

// SnapshotFetcher retrieves the current state of a single sensor.
type SnapshotFetcher interface {
	Fetch(ctx context.Context) (models.Snapshot, error)
}

// FetchRequests counts remote fetch attempts by outcome.
var FetchRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "aqforecast_fetch_requests_total",
		Help: "Remote sensor fetch attempts, by outcome.",
	},
	[]string{"outcome"},
)

// Options configures a SensorFetcher.
type Options struct {
	BaseURL        string
	APIKey         string
	SensorID       int
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Client defaults to a client without its own timeout; the per-attempt
	// Timeout is applied through the request context.
	Client *http.Client
}

// SensorFetcher reads sensor snapshots from the PurpleAir API.
type SensorFetcher struct {
	url     string
	apiKey  string
	client  *http.Client
	opts    Options
	circuit *gobreaker.CircuitBreaker
	logger  logrus.FieldLogger
}

// NewSensorFetcher validates opts and builds a fetcher. A missing API key is
// a configuration error raised before any request is made.
func NewSensorFetcher(opts Options, logger logrus.FieldLogger) (*SensorFetcher, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is not configured", models.ErrConfiguration)
	}
	if opts.BaseURL == "" || opts.SensorID <= 0 {
		return nil, fmt.Errorf("%w: base url and sensor id are required", models.ErrConfiguration)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "purpleair",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return &SensorFetcher{
		url:     fmt.Sprintf("%s/sensors/%d", opts.BaseURL, opts.SensorID),
		apiKey:  opts.APIKey,
		client:  opts.Client,
		opts:    opts,
		circuit: cb,
		logger:  logger.WithField("component", "fetcher"),
	}, nil
}

// Fetch performs one logical GET, retried with exponential backoff on
// transport failures, timeouts, 429 and 5xx responses.
func (f *SensorFetcher) Fetch(ctx context.Context) (models.Snapshot, error) {
	body, err := f.getWithRetry(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}

	snapshot, err := DecodeSnapshot(body)
	if err != nil {
		FetchRequests.WithLabelValues("parse").Inc()
		return models.Snapshot{}, err
	}
	return snapshot, nil
}

func (f *SensorFetcher) getWithRetry(ctx context.Context) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.InitialBackoff
	if f.opts.MaxBackoff > 0 {
		b.MaxInterval = f.opts.MaxBackoff
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.opts.MaxRetries)), ctx)

	var body []byte
	operation := func() error {
		data, err := f.get(ctx)
		if err != nil {
			FetchRequests.WithLabelValues(outcome(err)).Inc()
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		FetchRequests.WithLabelValues("ok").Inc()
		body = data
		return nil
	}

	notify := func(err error, next time.Duration) {
		f.logger.WithFields(logrus.Fields{
			"error": err,
			"retry": next.String(),
		}).Warn("sensor fetch failed, retrying")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrTimeout) {
			return nil, fmt.Errorf("%w: %v", models.ErrTimeout, err)
		}
		return nil, err
	}
	return body, nil
}

func (f *SensorFetcher) get(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	req.Header.Set("X-API-Key", f.apiKey)
	req.Header.Set("Accept", "application/json")

	result, err := f.circuit.Execute(func() (interface{}, error) {
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, transportError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
			return nil, &models.StatusError{Code: resp.StatusCode, Status: resp.Status}
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, transportError(err)
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w: %v", models.ErrNetwork, errCircuitOpen, err)
		}
		return nil, err
	}
	return result.([]byte), nil
}

// DebugRequest writes the raw response headers and body of one request to w.
func (f *SensorFetcher) DebugRequest(ctx context.Context, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", f.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	fmt.Fprintf(w, "Status: %s\n", resp.Status)
	fmt.Fprintln(w, "Response Headers:")
	if err := resp.Header.Write(w); err != nil {
		return err
	}
	fmt.Fprintln(w, "Response Content:")
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(err)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		body = pretty.Bytes()
	}
	_, err = fmt.Fprintf(w, "%s\n", body)
	return err
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", models.ErrNetwork, err)
}

func retryable(err error) bool {
	var statusErr *models.StatusError
	switch {
	case errors.As(err, &statusErr):
		return statusErr.Retryable()
	case errors.Is(err, models.ErrTimeout):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, errCircuitOpen):
		return false
	case errors.Is(err, models.ErrNetwork):
		return true
	}
	return false
}

func outcome(err error) string {
	var statusErr *models.StatusError
	switch {
	case errors.As(err, &statusErr):
		return "status_" + strconv.Itoa(statusErr.Code)
	case errors.Is(err, models.ErrTimeout):
		return "timeout"
	case errors.Is(err, models.ErrNetwork):
		return "network"
	}
	return "error"
}

var _ SnapshotFetcher = (*SensorFetcher)(nil)
