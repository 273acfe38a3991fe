// Package forecast fits ARIMA models on the historical store and produces
// hourly forecasts with 95% confidence bounds.
//
// Fitting is done on an hourly grid: readings are bucketed to the hour (last
// one wins), empty hours repeat the previous value, and the model is
// estimated by conditional maximum likelihood with Nelder-Mead.
//
// Example usage:
//
//	engine, err := forecast.NewEngine(16, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fc, err := engine.ForecastStore(ctx, history, "pm2_5", models.Order{P: 1, D: 1, Q: 1}, 24)
package forecast

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/aqforecast/internal/database"
	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

var (
	// FitDuration observes model fit latency by outcome.
	FitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aqforecast_model_fit_duration_seconds",
			Help:    "Time spent fitting forecast models.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// ModelCacheLookups counts fitted-model cache lookups by result.
	ModelCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqforecast_model_cache_lookups_total",
			Help: "Fitted model cache lookups, by result.",
		},
		[]string{"result"},
	)
)

// Engine fits models from a store and keeps recently fitted models in an
// LRU cache keyed by the hourly data they were fitted on. A new reading
// changes the key, so a cached model is never stale.
type Engine struct {
	cache  *lru.Cache
	logger logrus.FieldLogger
}

// NewEngine creates an engine caching up to cacheSize fitted models.
func NewEngine(cacheSize int, logger logrus.FieldLogger) (*Engine, error) {
	if cacheSize <= 0 {
		return nil, fmt.Errorf("%w: cache size must be positive", models.ErrConfiguration)
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create model cache: %w", err)
	}
	return &Engine{cache: cache, logger: logger.WithField("component", "forecast")}, nil
}

// FitStore loads the store and fits column with the given order.
func (e *Engine) FitStore(ctx context.Context, store database.Store, column string, order models.Order) (*Model, error) {
	series, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return e.Fit(series, column, order)
}

// Fit is like the package-level Fit but reuses a cached model when the
// hourly input is unchanged.
func (e *Engine) Fit(series models.Series, column string, order models.Order) (*Model, error) {
	column = models.CanonicalColumn(column)
	hourly, err := Resample(series, column)
	if err != nil {
		return nil, err
	}

	key := cacheKey(hourly, column, order)
	if cached, ok := e.cache.Get(key); ok {
		ModelCacheLookups.WithLabelValues("hit").Inc()
		return cached.(*Model), nil
	}
	ModelCacheLookups.WithLabelValues("miss").Inc()

	start := time.Now()
	model, err := FitHourly(hourly, column, order)
	elapsed := time.Since(start)
	if err != nil {
		FitDuration.WithLabelValues("error").Observe(elapsed.Seconds())
		e.logger.WithFields(logrus.Fields{
			"column": column,
			"order":  order,
			"slots":  len(hourly.Values),
			"error":  err,
		}).Warn("model fit failed")
		return nil, err
	}
	FitDuration.WithLabelValues("ok").Observe(elapsed.Seconds())

	e.logger.WithFields(logrus.Fields{
		"column":   column,
		"order":    order,
		"slots":    model.NObs,
		"filled":   hourly.Filled,
		"sigma2":   model.Sigma2,
		"aic":      model.AIC(),
		"duration": elapsed.String(),
	}).Info("fitted forecast model")

	e.cache.Add(key, model)
	return model, nil
}

// ForecastStore fits the store and forecasts steps hours ahead.
func (e *Engine) ForecastStore(ctx context.Context, store database.Store, column string, order models.Order, steps int) (models.Forecast, error) {
	if steps <= 0 {
		return models.Forecast{}, fmt.Errorf("%w: forecast steps must be positive, got %d", models.ErrConfiguration, steps)
	}
	model, err := e.FitStore(ctx, store, column, order)
	if err != nil {
		return models.Forecast{}, err
	}
	return Forecast(model, steps)
}

func cacheKey(h Hourly, column string, order models.Order) string {
	hash := fnv.New64a()
	var buf [8]byte
	for _, v := range h.Values {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		hash.Write(buf[:])
	}
	return fmt.Sprintf("%s:%d,%d,%d:%d:%d:%x",
		column, order.P, order.D, order.Q, h.Start.UnixNano(), len(h.Values), hash.Sum64())
}
