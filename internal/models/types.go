package models

import (
	"sort"
	"time"
)

// TimeColumn is the name of the timestamp column in every persisted series.
const TimeColumn = "dt"

// Reading represents a single timestamped observation. A metric that was not
// observed is absent from Metrics, never zero.
type Reading struct {
	Time    time.Time          `json:"dt"`
	Metrics map[string]float64 `json:"metrics"`
}

// Value returns the metric value and whether it was observed.
func (r Reading) Value(column string) (float64, bool) {
	v, ok := r.Metrics[column]
	return v, ok
}

// MetricNames returns the reading's metric names in alphabetical order.
func (r Reading) MetricNames() []string {
	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Series is an ordered set of readings, sorted ascending by time with no
// duplicate timestamps. Columns holds the metric columns in persisted order.
type Series struct {
	Columns []string  `json:"columns"`
	Rows    []Reading `json:"rows"`
}

// Empty reports whether the series holds no rows.
func (s Series) Empty() bool {
	return len(s.Rows) == 0
}

// HasColumn reports whether column is part of the series schema.
func (s Series) HasColumn(column string) bool {
	for _, c := range s.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Last returns the most recent reading.
func (s Series) Last() (Reading, bool) {
	if len(s.Rows) == 0 {
		return Reading{}, false
	}
	return s.Rows[len(s.Rows)-1], true
}

// Points extracts the observed values of a single column.
func (s Series) Points(column string) []TimeSeriesData {
	points := make([]TimeSeriesData, 0, len(s.Rows))
	for _, r := range s.Rows {
		if v, ok := r.Metrics[column]; ok {
			points = append(points, TimeSeriesData{Time: r.Time, Value: v})
		}
	}
	return points
}

// TimeSeriesData represents a single time series data point
type TimeSeriesData struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// ForecastPoint is one step of a forecast with its 95% confidence bounds.
type ForecastPoint struct {
	Time  time.Time `json:"dt"`
	Mean  float64   `json:"forecast"`
	Lower float64   `json:"mean_ci_lower"`
	Upper float64   `json:"mean_ci_upper"`
}

// Forecast is a contiguous hourly horizon following the last fitted slot.
type Forecast struct {
	Column string          `json:"column"`
	Points []ForecastPoint `json:"points"`
}

// Snapshot is what a single remote fetch yields: the sensor's current
// reading and its summary statistics.
type Snapshot struct {
	Current Reading `json:"current"`
	Stats   Reading `json:"stats"`
}

// Order is an ARIMA (p, d, q) order.
type Order struct {
	P int `json:"p"`
	D int `json:"d"`
	Q int `json:"q"`
}
