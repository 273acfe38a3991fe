package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

const sensorResponse = `{
  "api_version": "V1.0.11",
  "time_stamp": 1704067300,
  "sensor": {
    "sensor_index": 247259,
    "name": "Rio",
    "last_seen": 1704067200,
    "humidity": 61,
    "pm2.5": 12.5,
    "pm2.5_atm": 13.1,
    "stats": {
      "pm2.5": 12.4,
      "pm2.5_10minute": 11.9,
      "pm2.5_60minute": 10.2,
      "time_stamp": 1704067260
    }
  }
}`

func newTestFetcher(t *testing.T, url string, mutate func(*Options)) *SensorFetcher {
	t.Helper()
	logger, _ := test.NewNullLogger()
	opts := Options{
		BaseURL:        url,
		APIKey:         "test-key",
		SensorID:       247259,
		Timeout:        time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	fetcher, err := NewSensorFetcher(opts, logger)
	require.NoError(t, err)
	return fetcher
}

func TestSensorFetcherFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sensors/247259", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(sensorResponse))
	}))
	defer srv.Close()

	snapshot, err := newTestFetcher(t, srv.URL, nil).Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Unix(1704067200, 0).UTC(), snapshot.Current.Time)
	assert.Equal(t, 12.5, snapshot.Current.Metrics["pm2_5"])
	assert.Equal(t, 13.1, snapshot.Current.Metrics["pm2_5_atm"])
	assert.Equal(t, 61.0, snapshot.Current.Metrics["humidity"])
	assert.NotContains(t, snapshot.Current.Metrics, "name")
	assert.NotContains(t, snapshot.Current.Metrics, "last_seen")
	assert.NotContains(t, snapshot.Current.Metrics, "stats")

	assert.Equal(t, time.Unix(1704067260, 0).UTC(), snapshot.Stats.Time)
	assert.Equal(t, map[string]float64{
		"pm2_5":          12.4,
		"pm2_5_10minute": 11.9,
		"pm2_5_60minute": 10.2,
	}, snapshot.Stats.Metrics)
}

func TestSensorFetcherRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(sensorResponse))
	}))
	defer srv.Close()

	snapshot, err := newTestFetcher(t, srv.URL, nil).Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, snapshot.Current.Time.IsZero())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSensorFetcherErrors(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		mutate    func(*Options)
		wantErr   error
		wantCalls int32
		check     func(t *testing.T, err error)
	}{
		{
			name: "client error is not retried",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			wantErr:   models.ErrNetwork,
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				var statusErr *models.StatusError
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, http.StatusForbidden, statusErr.Code)
			},
		},
		{
			name: "server error exhausts retries",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr:   models.ErrNetwork,
			wantCalls: 3,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			mutate: func(o *Options) {
				o.Timeout = 20 * time.Millisecond
				o.MaxRetries = 0
			},
			wantErr:   models.ErrTimeout,
			wantCalls: 1,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"sensor": [`))
			},
			wantErr:   models.ErrParse,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			_, err := newTestFetcher(t, srv.URL, tt.mutate).Fetch(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestSensorFetcherTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher(t, url, func(o *Options) { o.MaxRetries = 1 }).Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNetwork)
	assert.NotErrorIs(t, err, models.ErrTimeout)
}

func TestNewSensorFetcherRequiresAPIKey(t *testing.T) {
	logger, _ := test.NewNullLogger()

	fetcher, err := NewSensorFetcher(Options{BaseURL: "http://localhost", SensorID: 1}, logger)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.Nil(t, fetcher)
}

func TestSensorFetcherDebugRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.Write([]byte(`{"sensor":{"last_seen":1}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := newTestFetcher(t, srv.URL, nil).DebugRequest(context.Background(), &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Status: 200 OK")
	assert.Contains(t, out.String(), "X-Test: yes")
	assert.Contains(t, out.String(), `"last_seen": 1`)
}
