package database

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/aqforecast/internal/config"
	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

// Store names used for metrics labels, badger subdirectories and postgres
// partitions.
const (
	HistoryStore = "history"
	StatsStore   = "stats"
)

// Open builds the history and stats stores for the configured backend.
func Open(cfg config.StorageConfig, logger *logrus.Logger) (history, stats Store, err error) {
	switch cfg.Backend {
	case "csv":
		return NewCSVStore(cfg.HistoryPath, HistoryStore, logger), NewCSVStore(cfg.StatsPath, StatsStore, logger), nil

	case "badger":
		h, err := NewBadgerStore(filepath.Join(cfg.BadgerDir, HistoryStore), HistoryStore, logger)
		if err != nil {
			return nil, nil, err
		}
		s, err := NewBadgerStore(filepath.Join(cfg.BadgerDir, StatsStore), StatsStore, logger)
		if err != nil {
			h.Close()
			return nil, nil, err
		}
		return h, s, nil

	case "postgres":
		h, err := NewPostgresStore(cfg.PostgresDSN, HistoryStore, logger)
		if err != nil {
			return nil, nil, err
		}
		s, err := NewPostgresStore(cfg.PostgresDSN, StatsStore, logger)
		if err != nil {
			h.Close()
			return nil, nil, err
		}
		return h, s, nil
	}

	return nil, nil, fmt.Errorf("%w: unknown storage backend %q", models.ErrConfiguration, cfg.Backend)
}
