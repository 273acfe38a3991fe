package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

const (
	lastSeenField  = "last_seen"
	statsField     = "stats"
	statsTimeField = "time_stamp"
)

// DecodeSnapshot turns a /sensors/{id} response body into a snapshot.
//
// The sensor's last_seen becomes the current reading's time and the nested
// stats object's time_stamp becomes the stats reading's time. Only numeric
// fields are kept as metrics, under their canonical names. An empty sensor
// object yields an empty snapshot.
func DecodeSnapshot(body []byte) (models.Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload struct {
		Sensor map[string]interface{} `json:"sensor"`
	}
	if err := dec.Decode(&payload); err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: failed to decode response: %v", models.ErrParse, err)
	}
	if len(payload.Sensor) == 0 {
		return models.Snapshot{}, nil
	}

	current, err := decodeReading(payload.Sensor, lastSeenField)
	if err != nil {
		return models.Snapshot{}, err
	}

	snapshot := models.Snapshot{Current: current}

	raw, ok := payload.Sensor[statsField]
	if !ok || raw == nil {
		return snapshot, nil
	}
	stats, ok := raw.(map[string]interface{})
	if !ok {
		return models.Snapshot{}, fmt.Errorf("%w: %q is not an object", models.ErrParse, statsField)
	}
	if len(stats) == 0 {
		return snapshot, nil
	}
	snapshot.Stats, err = decodeReading(stats, statsTimeField)
	if err != nil {
		return models.Snapshot{}, err
	}
	return snapshot, nil
}

func decodeReading(fields map[string]interface{}, timeField string) (models.Reading, error) {
	raw, ok := fields[timeField]
	if !ok {
		return models.Reading{}, fmt.Errorf("%w: missing %q", models.ErrParse, timeField)
	}
	number, ok := raw.(json.Number)
	if !ok {
		return models.Reading{}, fmt.Errorf("%w: %q is not a number", models.ErrParse, timeField)
	}
	epoch, err := number.Int64()
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: %q: %v", models.ErrParse, timeField, err)
	}

	metrics := make(map[string]float64, len(fields))
	for name, value := range fields {
		if name == timeField {
			continue
		}
		number, ok := value.(json.Number)
		if !ok {
			continue
		}
		v, err := number.Float64()
		if err != nil {
			return models.Reading{}, fmt.Errorf("%w: %q: %v", models.ErrParse, name, err)
		}
		metrics[name] = v
	}

	return models.Reading{
		Time:    time.Unix(epoch, 0).UTC(),
		Metrics: models.CanonicalMetrics(metrics),
	}, nil
}
