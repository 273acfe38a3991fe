//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/forecaster.go -package=mocks . Forecaster

// Package dashboard assembles the four presentation panels: the current
// value, the stored history, the forecast with its confidence band and the
// API stats history.
//
// Panels fail independently. Missing data or a model that cannot be fitted
// puts a panel in the no_data state; any other failure puts it in the error
// state. Neither aborts the other panels.
package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/aqforecast/internal/api"
	"github.com/tejusbharadwaj/aqforecast/internal/database"
	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

// Status is the state of a single panel.
type Status string

const (
	StatusOK     Status = "ok"
	StatusNoData Status = "no_data"
	StatusError  Status = "error"
)

// Panel carries the status shared by every panel.
type Panel struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the panel has data to show.
func (p Panel) OK() bool { return p.Status == StatusOK }

type CurrentPanel struct {
	Panel
	Column string    `json:"column"`
	Time   time.Time `json:"dt"`
	Value  float64   `json:"value"`
}

type HistoryPanel struct {
	Panel
	Column string                  `json:"column"`
	Points []models.TimeSeriesData `json:"points"`
}

type ForecastPanel struct {
	Panel
	models.Forecast
}

// StatsLine is one metric of the API stats history.
type StatsLine struct {
	Name   string                  `json:"name"`
	Points []models.TimeSeriesData `json:"points"`
}

type StatsPanel struct {
	Panel
	Lines []StatsLine `json:"lines"`
}

// View is a fully built dashboard.
type View struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Current     CurrentPanel  `json:"current"`
	History     HistoryPanel  `json:"history"`
	Forecast    ForecastPanel `json:"forecast"`
	Stats       StatsPanel    `json:"stats"`
}

// Forecaster fits a store and forecasts it.
type Forecaster interface {
	ForecastStore(ctx context.Context, store database.Store, column string, order models.Order, steps int) (models.Forecast, error)
}

// Options selects what the dashboard plots.
type Options struct {
	Column  string
	Order   models.Order
	Horizon int
}

// Builder builds dashboard views.
type Builder struct {
	fetcher    api.SnapshotFetcher
	history    database.Store
	stats      database.Store
	forecaster Forecaster
	opts       Options
	logger     logrus.FieldLogger
	now        func() time.Time
}

func NewBuilder(
	fetcher api.SnapshotFetcher,
	history, stats database.Store,
	forecaster Forecaster,
	opts Options,
	logger logrus.FieldLogger,
) *Builder {
	opts.Column = models.CanonicalColumn(opts.Column)
	return &Builder{
		fetcher:    fetcher,
		history:    history,
		stats:      stats,
		forecaster: forecaster,
		opts:       opts,
		logger:     logger.WithField("component", "dashboard"),
		now:        time.Now,
	}
}

// Build fetches the current snapshot, records its stats reading in the
// stats store and assembles every panel.
func (b *Builder) Build(ctx context.Context) View {
	view := View{GeneratedAt: b.now().UTC()}

	snapshot, err := b.fetcher.Fetch(ctx)
	if err != nil {
		view.Current = CurrentPanel{Panel: b.failed("current", err), Column: b.opts.Column}
	} else {
		view.Current = b.current(snapshot.Current)
		if err := api.PersistReading(ctx, b.stats, snapshot.Stats); err != nil {
			b.logger.WithError(err).Error("failed to persist stats reading")
		}
	}

	view.History = b.History(ctx)
	view.Forecast = b.Forecast(ctx, b.opts.Horizon)
	view.Stats = b.StatsHistory(ctx)
	return view
}

func (b *Builder) current(r models.Reading) CurrentPanel {
	panel := CurrentPanel{Column: b.opts.Column, Time: r.Time}
	v, ok := r.Value(b.opts.Column)
	if r.Time.IsZero() || !ok {
		panel.Panel = Panel{Status: StatusNoData}
		return panel
	}
	panel.Panel = Panel{Status: StatusOK}
	panel.Value = v
	return panel
}

// Horizon returns the configured number of forecast steps.
func (b *Builder) Horizon() int { return b.opts.Horizon }

// Current fetches a fresh snapshot without persisting anything.
func (b *Builder) Current(ctx context.Context) CurrentPanel {
	snapshot, err := b.fetcher.Fetch(ctx)
	if err != nil {
		return CurrentPanel{Panel: b.failed("current", err), Column: b.opts.Column}
	}
	return b.current(snapshot.Current)
}

// History returns the stored series of the dashboard column.
func (b *Builder) History(ctx context.Context) HistoryPanel {
	panel := HistoryPanel{Column: b.opts.Column}
	series, err := b.history.Load(ctx)
	if err != nil {
		panel.Panel = b.failed("history", err)
		return panel
	}
	panel.Points = series.Points(b.opts.Column)
	if len(panel.Points) == 0 {
		panel.Panel = Panel{Status: StatusNoData}
		return panel
	}
	panel.Panel = Panel{Status: StatusOK}
	return panel
}

// Forecast fits the history store and forecasts steps hours ahead.
func (b *Builder) Forecast(ctx context.Context, steps int) ForecastPanel {
	fc, err := b.forecaster.ForecastStore(ctx, b.history, b.opts.Column, b.opts.Order, steps)
	if err != nil {
		return ForecastPanel{Panel: b.failed("forecast", err), Forecast: models.Forecast{Column: b.opts.Column}}
	}
	return ForecastPanel{Panel: Panel{Status: StatusOK}, Forecast: fc}
}

// StatsHistory returns one line per metric of the stats store.
func (b *Builder) StatsHistory(ctx context.Context) StatsPanel {
	series, err := b.stats.Load(ctx)
	if err != nil {
		return StatsPanel{Panel: b.failed("stats", err)}
	}

	var panel StatsPanel
	for _, column := range series.Columns {
		if points := series.Points(column); len(points) > 0 {
			panel.Lines = append(panel.Lines, StatsLine{Name: column, Points: points})
		}
	}
	if len(panel.Lines) == 0 {
		panel.Panel = Panel{Status: StatusNoData}
		return panel
	}
	panel.Panel = Panel{Status: StatusOK}
	return panel
}

func (b *Builder) failed(panel string, err error) Panel {
	if errors.Is(err, models.ErrDataUnavailable) || errors.Is(err, models.ErrModelFit) {
		b.logger.WithFields(logrus.Fields{"panel": panel, "reason": err.Error()}).Info("panel has no data")
		return Panel{Status: StatusNoData, Error: err.Error()}
	}
	b.logger.WithFields(logrus.Fields{"panel": panel, "error": err}).Error("panel failed")
	return Panel{Status: StatusError, Error: err.Error()}
}
