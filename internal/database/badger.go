package database

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

var (
	readingPrefix = []byte("r/")
	columnsKey    = []byte("m/columns")
)

// BadgerStore keeps a series in an embedded badger database. Each reading is
// stored under a key that sorts by timestamp, so iteration yields the series
// in order and re-writing a timestamp replaces the previous row.
type BadgerStore struct {
	db     *badger.DB
	name   string
	mu     sync.Mutex
	logger logrus.FieldLogger
}

// NewBadgerStore opens (or creates) a badger database in dir.
func NewBadgerStore(dir, name string, logger *logrus.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.WithField("component", "badger")})
	return OpenBadgerStore(opts, name, logger)
}

// OpenBadgerStore opens a store with explicit options, e.g. in-memory mode.
func OpenBadgerStore(opts badger.Options, name string, logger logrus.FieldLogger) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store %s: %w", name, err)
	}
	return &BadgerStore{
		db:   db,
		name: name,
		logger: logger.WithFields(logrus.Fields{
			"component": "badger-store",
			"store":     name,
		}),
	}, nil
}

func (s *BadgerStore) Persist(ctx context.Context, readings []models.Reading) (int, error) {
	if len(readings) == 0 {
		s.logger.Info("no readings to persist")
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		columns, err := readColumns(txn)
		if err != nil {
			return err
		}
		merged := Merge(models.Series{Columns: columns}, readings)

		for _, r := range merged.Rows {
			value, err := json.Marshal(r.Metrics)
			if err != nil {
				return fmt.Errorf("failed to encode reading: %w", err)
			}
			if err := txn.Set(readingKey(r.Time), value); err != nil {
				return err
			}
		}

		encoded, err := json.Marshal(merged.Columns)
		if err != nil {
			return fmt.Errorf("failed to encode columns: %w", err)
		}
		return txn.Set(columnsKey, encoded)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to persist readings: %w", err)
	}

	ReadingsPersisted.WithLabelValues(s.name).Add(float64(len(readings)))
	s.logger.WithField("persisted", len(readings)).Info("persisted readings")
	return len(readings), nil
}

func (s *BadgerStore) Load(ctx context.Context) (models.Series, error) {
	if err := ctx.Err(); err != nil {
		return models.Series{}, err
	}

	var series models.Series
	err := s.db.View(func(txn *badger.Txn) error {
		columns, err := readColumns(txn)
		if err != nil {
			return err
		}
		series.Columns = columns

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(readingPrefix); it.ValidForPrefix(readingPrefix); it.Next() {
			item := it.Item()
			ts, err := decodeReadingKey(item.Key())
			if err != nil {
				return err
			}
			metrics := map[string]float64{}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &metrics)
			}); err != nil {
				return fmt.Errorf("%w: reading at %s: %v", models.ErrParse, ts, err)
			}
			series.Rows = append(series.Rows, models.Reading{Time: ts, Metrics: metrics})
		}
		return nil
	})
	if err != nil {
		return models.Series{}, err
	}
	return series, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func readColumns(txn *badger.Txn) ([]string, error) {
	item, err := txn.Get(columnsKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var columns []string
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &columns)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: column list: %v", models.ErrParse, err)
	}
	return columns, nil
}

// readingKey flips the sign bit of the unix nanosecond timestamp so that the
// big-endian encoding sorts in time order, including pre-1970 values.
func readingKey(t time.Time) []byte {
	key := make([]byte, len(readingPrefix)+8)
	copy(key, readingPrefix)
	binary.BigEndian.PutUint64(key[len(readingPrefix):], uint64(t.UnixNano())^(1<<63))
	return key
}

func decodeReadingKey(key []byte) (time.Time, error) {
	if len(key) != len(readingPrefix)+8 {
		return time.Time{}, fmt.Errorf("%w: malformed key %x", models.ErrParse, key)
	}
	n := int64(binary.BigEndian.Uint64(key[len(readingPrefix):]) ^ (1 << 63))
	return time.Unix(0, n).UTC(), nil
}

// badgerLogger routes badger's internal logging through logrus, demoting its
// chatty info output to debug.
type badgerLogger struct {
	logrus.FieldLogger
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.FieldLogger.Debugf(format, args...)
}

var _ Store = (*BadgerStore)(nil)
