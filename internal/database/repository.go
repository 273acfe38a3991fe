//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/store.go -package=mocks . Store

// Package database implements the append-only historical stores.
//
// Every backend honours the same contract:
//   - Persist appends a batch; a timestamp already present is replaced by the
//     later row (last writer wins by position after concatenation)
//   - rows are kept sorted ascending by timestamp with no duplicates
//   - the column set only grows
//
// Two stores run side by side in the service: the raw sensor history and the
// API stats history. Backends:
//   - csv:      one flat delimited file per store, rewritten via atomic rename
//   - badger:   embedded ordered key-value store keyed by timestamp
//   - postgres: readings table keyed by (store, dt)
//
// Example usage:
//
//	store, err := NewCSVStore("data/historical.csv", HistoryStore, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	n, err := store.Persist(ctx, readings)
//	series, err := store.Load(ctx)
package database

import (
	"context"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

// Store defines the interface for historical series persistence.
type Store interface {
	// Persist merges readings into the store and returns how many readings
	// of the batch were written. An empty batch is a no-op.
	Persist(ctx context.Context, readings []models.Reading) (int, error)

	// Load returns the full series sorted by timestamp. A store with no
	// backing data returns an empty series and no error.
	Load(ctx context.Context) (models.Series, error)

	// Close releases any resources held by the store.
	Close() error
}

// ReadingsPersisted counts readings written per store.
var ReadingsPersisted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "aqforecast_readings_persisted_total",
		Help: "Number of readings persisted, by store.",
	},
	[]string{"store"},
)

// Merge concatenates batch after existing, drops duplicate timestamps keeping
// the last row by position, and sorts the result ascending. Existing column
// order is preserved and new columns are appended in first-appearance order.
func Merge(existing models.Series, batch []models.Reading) models.Series {
	columns := append([]string(nil), existing.Columns...)
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		seen[c] = true
	}
	for _, r := range batch {
		for _, name := range r.MetricNames() {
			if !seen[name] {
				seen[name] = true
				columns = append(columns, name)
			}
		}
	}

	all := make([]models.Reading, 0, len(existing.Rows)+len(batch))
	all = append(all, existing.Rows...)
	all = append(all, batch...)

	lastIndex := make(map[int64]int, len(all))
	for i, r := range all {
		lastIndex[r.Time.UnixNano()] = i
	}

	rows := make([]models.Reading, 0, len(lastIndex))
	for i, r := range all {
		if lastIndex[r.Time.UnixNano()] == i {
			rows = append(rows, normalizeReading(r))
		}
	}
	sortReadings(rows)

	return models.Series{Columns: columns, Rows: rows}
}

// normalizeReading strips the location so timestamps compare and serialize
// as timezone-naive wall-clock UTC values.
func normalizeReading(r models.Reading) models.Reading {
	metrics := r.Metrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	return models.Reading{Time: r.Time.UTC(), Metrics: metrics}
}

func sortReadings(rows []models.Reading) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Time.Before(rows[j].Time)
	})
}
