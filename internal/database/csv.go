package database

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

// timeLayout matches the naive datetime form pandas writes to CSV. Fractional
// seconds are appended only when present.
const timeLayout = "2006-01-02 15:04:05.999999999"

var parseLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// CSVStore persists a series as a flat CSV file with a dt column followed by
// the metric columns.
//
// Every Persist rewrites the whole file through a temporary file and an
// atomic rename, so a crash leaves either the old or the new content.
// Writers inside the process are serialized; writers in other processes are
// not, and the last full rewrite wins.
type CSVStore struct {
	path   string
	name   string
	mu     sync.Mutex
	logger logrus.FieldLogger
}

// NewCSVStore creates a store backed by the file at path. The file and its
// parent directory are created on first Persist.
func NewCSVStore(path, name string, logger logrus.FieldLogger) *CSVStore {
	return &CSVStore{
		path: path,
		name: name,
		logger: logger.WithFields(logrus.Fields{
			"component": "csv-store",
			"path":      path,
		}),
	}
}

// Path returns the backing file path.
func (s *CSVStore) Path() string {
	return s.path
}

func (s *CSVStore) Persist(ctx context.Context, readings []models.Reading) (int, error) {
	if len(readings) == 0 {
		s.logger.Info("no readings to persist")
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return 0, err
	}

	merged := Merge(existing, readings)
	if err := s.write(merged); err != nil {
		return 0, err
	}

	ReadingsPersisted.WithLabelValues(s.name).Add(float64(len(readings)))
	s.logger.WithFields(logrus.Fields{
		"persisted": len(readings),
		"rows":      len(merged.Rows),
	}).Info("persisted readings")
	return len(readings), nil
}

func (s *CSVStore) Load(ctx context.Context) (models.Series, error) {
	if err := ctx.Err(); err != nil {
		return models.Series{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *CSVStore) Close() error {
	return nil
}

func (s *CSVStore) load() (models.Series, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return models.Series{}, nil
	}
	if err != nil {
		return models.Series{}, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.Series{}, fmt.Errorf("failed to stat %s: %w", s.path, err)
	}
	if info.Size() == 0 {
		return models.Series{}, nil
	}

	return decodeCSV(f)
}

// decodeCSV reads a delimited history file. Header names are canonicalized
// the same way readings are at ingestion. Cells that are not numbers are
// treated as absent metrics, and columns that never hold a number are
// dropped. Only a missing or unparsable timestamp is a parse error.
func decodeCSV(r io.Reader) (models.Series, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return models.Series{}, nil
	}
	if err != nil {
		return models.Series{}, fmt.Errorf("%w: invalid header: %v", models.ErrParse, err)
	}

	timeIndex := -1
	for i, name := range header {
		if strings.TrimSpace(name) == models.TimeColumn {
			timeIndex = i
			break
		}
	}
	if timeIndex < 0 {
		return models.Series{}, fmt.Errorf("%w: missing %q column", models.ErrParse, models.TimeColumn)
	}

	numeric := make([]bool, len(header))
	var rows []models.Reading
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.Series{}, fmt.Errorf("%w: line %d: %v", models.ErrParse, line, err)
		}

		ts, err := parseTime(record[timeIndex])
		if err != nil {
			return models.Series{}, fmt.Errorf("%w: line %d: %v", models.ErrParse, line, err)
		}

		raw := make(map[string]float64, len(header)-1)
		for i, cell := range record {
			if i == timeIndex || cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				continue
			}
			raw[header[i]] = v
			numeric[i] = true
		}
		rows = append(rows, models.Reading{Time: ts, Metrics: models.CanonicalMetrics(raw)})
	}

	var columns []string
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		if i == timeIndex || !numeric[i] {
			continue
		}
		canonical := models.CanonicalColumn(name)
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		columns = append(columns, canonical)
	}

	sortReadings(rows)
	return models.Series{Columns: columns, Rows: rows}, nil
}

func parseTime(value string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", value)
}

func (s *CSVStore) write(series models.Series) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := encodeCSV(tmp, series); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	committed = true
	return nil
}

func encodeCSV(w io.Writer, series models.Series) error {
	writer := csv.NewWriter(w)

	header := append([]string{models.TimeColumn}, series.Columns...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(header))
	for _, r := range series.Rows {
		record[0] = r.Time.UTC().Format(timeLayout)
		for i, c := range series.Columns {
			if v, ok := r.Metrics[c]; ok {
				record[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
			} else {
				record[i+1] = ""
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

var _ Store = (*CSVStore)(nil)
