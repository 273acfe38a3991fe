package api

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/aqforecast/internal/database"
	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

// Collector fetches one snapshot and appends it to the history and stats
// stores.
type Collector struct {
	fetcher SnapshotFetcher
	history database.Store
	stats   database.Store
	logger  logrus.FieldLogger
}

func NewCollector(fetcher SnapshotFetcher, history, stats database.Store, logger logrus.FieldLogger) *Collector {
	return &Collector{
		fetcher: fetcher,
		history: history,
		stats:   stats,
		logger:  logger.WithField("component", "collector"),
	}
}

// Collect runs one fetch-and-persist cycle. The first failing stage aborts
// the cycle and its error is returned.
func (c *Collector) Collect(ctx context.Context) (models.Snapshot, error) {
	snapshot, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	if err := PersistReading(ctx, c.history, snapshot.Current); err != nil {
		return snapshot, fmt.Errorf("failed to persist reading: %w", err)
	}
	if err := PersistReading(ctx, c.stats, snapshot.Stats); err != nil {
		return snapshot, fmt.Errorf("failed to persist stats: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"last_seen":  snapshot.Current.Time,
		"stats_time": snapshot.Stats.Time,
	}).Info("collected snapshot")
	return snapshot, nil
}

// PersistReading appends r unless it is empty; an empty reading goes through
// as an empty batch so the store reports that nothing was persisted.
func PersistReading(ctx context.Context, store database.Store, r models.Reading) error {
	var batch []models.Reading
	if !r.Time.IsZero() {
		batch = append(batch, r)
	}
	_, err := store.Persist(ctx, batch)
	return err
}
