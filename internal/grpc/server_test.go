package server_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apimocks "github.com/tejusbharadwaj/aqforecast/internal/api/mocks"
	"github.com/tejusbharadwaj/aqforecast/internal/dashboard"
	dashmocks "github.com/tejusbharadwaj/aqforecast/internal/dashboard/mocks"
	"github.com/tejusbharadwaj/aqforecast/internal/database/mocks"
	server "github.com/tejusbharadwaj/aqforecast/internal/grpc"
	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

var (
	t0       = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	arima111 = models.Order{P: 1, D: 1, Q: 1}
)

type stubDashboard struct{ view dashboard.View }

func (s stubDashboard) Build(ctx context.Context) dashboard.View { return s.view }

type fixture struct {
	fetcher    *apimocks.MockSnapshotFetcher
	history    *mocks.MockStore
	stats      *mocks.MockStore
	forecaster *dashmocks.MockForecaster
	deps       server.Dependencies
	svc        *server.ForecastService
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := &fixture{
		fetcher:    apimocks.NewMockSnapshotFetcher(ctrl),
		history:    mocks.NewMockStore(ctrl),
		stats:      mocks.NewMockStore(ctrl),
		forecaster: dashmocks.NewMockForecaster(ctrl),
	}
	f.deps = server.Dependencies{
		Fetcher:    f.fetcher,
		History:    f.history,
		Stats:      f.stats,
		Forecaster: f.forecaster,
		Dashboard:  stubDashboard{view: dashboard.View{GeneratedAt: t0}},
		Defaults:   server.Defaults{Column: "pm2.5", Order: arima111, Horizon: 24},
	}
	f.svc = server.NewForecastService(f.deps)
	return f
}

func hourlySeries(column string, n int) models.Series {
	s := models.Series{Columns: []string{column}}
	for i := 0; i < n; i++ {
		s.Rows = append(s.Rows, models.Reading{
			Time:    t0.Add(time.Duration(i) * time.Hour),
			Metrics: map[string]float64{column: float64(i)},
		})
	}
	return s
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, code, st.Code(), st.Message())
}

func TestGetForecast(t *testing.T) {
	tests := []struct {
		name         string
		request      *server.ForecastRequest
		setupMock    func(f *fixture)
		expectedCode codes.Code
	}{
		{
			name:    "defaults",
			request: &server.ForecastRequest{},
			setupMock: func(f *fixture) {
				f.forecaster.EXPECT().ForecastStore(gomock.Any(), f.history, "pm2_5", arima111, 24).
					Return(models.Forecast{Column: "pm2_5", Points: make([]models.ForecastPoint, 24)}, nil)
			},
			expectedCode: codes.OK,
		},
		{
			name:    "explicit order and steps",
			request: &server.ForecastRequest{Column: "pm25", Steps: 6, Order: &models.Order{P: 2, D: 0, Q: 1}},
			setupMock: func(f *fixture) {
				f.forecaster.EXPECT().ForecastStore(gomock.Any(), f.history, "pm2_5", models.Order{P: 2, D: 0, Q: 1}, 6).
					Return(models.Forecast{Column: "pm2_5", Points: make([]models.ForecastPoint, 6)}, nil)
			},
			expectedCode: codes.OK,
		},
		{
			name:         "negative steps",
			request:      &server.ForecastRequest{Steps: -1},
			setupMock:    func(f *fixture) {},
			expectedCode: codes.InvalidArgument,
		},
		{
			name:         "negative order",
			request:      &server.ForecastRequest{Order: &models.Order{P: -1}},
			setupMock:    func(f *fixture) {},
			expectedCode: codes.InvalidArgument,
		},
		{
			name:    "no history",
			request: &server.ForecastRequest{},
			setupMock: func(f *fixture) {
				f.forecaster.EXPECT().ForecastStore(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(models.Forecast{}, models.ErrDataUnavailable)
			},
			expectedCode: codes.NotFound,
		},
		{
			name:    "fit failure",
			request: &server.ForecastRequest{},
			setupMock: func(f *fixture) {
				f.forecaster.EXPECT().ForecastStore(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(models.Forecast{}, fmt.Errorf("%w: too short", models.ErrModelFit))
			},
			expectedCode: codes.FailedPrecondition,
		},
		{
			name:    "unknown column",
			request: &server.ForecastRequest{Column: "ozone"},
			setupMock: func(f *fixture) {
				f.forecaster.EXPECT().ForecastStore(gomock.Any(), gomock.Any(), "ozone", gomock.Any(), gomock.Any()).
					Return(models.Forecast{}, models.ErrConfiguration)
			},
			expectedCode: codes.InvalidArgument,
		},
		{
			name:    "corrupt store",
			request: &server.ForecastRequest{},
			setupMock: func(f *fixture) {
				f.forecaster.EXPECT().ForecastStore(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(models.Forecast{}, models.ErrParse)
			},
			expectedCode: codes.Internal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setupMock(f)

			resp, err := f.svc.GetForecast(context.Background(), tt.request)
			if tt.expectedCode != codes.OK {
				requireCode(t, err, tt.expectedCode)
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, resp.Points)
		})
	}
}

func TestGetHistory(t *testing.T) {
	f := newFixture(t)
	f.history.EXPECT().Load(gomock.Any()).Return(hourlySeries("pm2_5", 10), nil).Times(3)

	resp, err := f.svc.GetHistory(context.Background(), &server.HistoryRequest{})
	require.NoError(t, err)
	assert.Equal(t, "pm2_5", resp.Column)
	assert.Len(t, resp.Points, 10)

	resp, err = f.svc.GetHistory(context.Background(), &server.HistoryRequest{
		RangeRequest: server.RangeRequest{Start: t0.Add(2 * time.Hour), End: t0.Add(4 * time.Hour)},
	})
	require.NoError(t, err)
	require.Len(t, resp.Points, 3)
	assert.Equal(t, 2.0, resp.Points[0].Value)

	_, err = f.svc.GetHistory(context.Background(), &server.HistoryRequest{Column: "ozone"})
	requireCode(t, err, codes.InvalidArgument)
}

func TestGetHistoryErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetHistory(context.Background(), &server.HistoryRequest{
		RangeRequest: server.RangeRequest{Start: t0.Add(time.Hour), End: t0},
	})
	requireCode(t, err, codes.InvalidArgument)

	f.history.EXPECT().Load(gomock.Any()).Return(models.Series{}, nil)
	_, err = f.svc.GetHistory(context.Background(), &server.HistoryRequest{})
	requireCode(t, err, codes.NotFound)

	f.history.EXPECT().Load(gomock.Any()).Return(models.Series{}, fmt.Errorf("%w: bad row", models.ErrParse))
	_, err = f.svc.GetHistory(context.Background(), &server.HistoryRequest{})
	requireCode(t, err, codes.Internal)
}

func TestGetCurrent(t *testing.T) {
	f := newFixture(t)
	snap := models.Snapshot{Current: models.Reading{Time: t0, Metrics: map[string]float64{"pm2_5": 3}}}

	f.fetcher.EXPECT().Fetch(gomock.Any()).Return(snap, nil)
	resp, err := f.svc.GetCurrent(context.Background(), &server.CurrentRequest{})
	require.NoError(t, err)
	assert.Equal(t, snap, *resp)

	f.fetcher.EXPECT().Fetch(gomock.Any()).Return(models.Snapshot{}, nil)
	_, err = f.svc.GetCurrent(context.Background(), &server.CurrentRequest{})
	requireCode(t, err, codes.NotFound)

	f.fetcher.EXPECT().Fetch(gomock.Any()).Return(models.Snapshot{}, &models.StatusError{Code: 503, Status: "503 Service Unavailable"})
	_, err = f.svc.GetCurrent(context.Background(), &server.CurrentRequest{})
	requireCode(t, err, codes.Unavailable)

	f.fetcher.EXPECT().Fetch(gomock.Any()).Return(models.Snapshot{}, models.ErrTimeout)
	_, err = f.svc.GetCurrent(context.Background(), &server.CurrentRequest{})
	requireCode(t, err, codes.Unavailable)
}

func TestGetStatsHistory(t *testing.T) {
	f := newFixture(t)
	f.stats.EXPECT().Load(gomock.Any()).Return(hourlySeries("pm2_5_10minute", 5), nil)

	resp, err := f.svc.GetStatsHistory(context.Background(), &server.StatsHistoryRequest{
		RangeRequest: server.RangeRequest{Start: t0.Add(3 * time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pm2_5_10minute"}, resp.Columns)
	assert.Len(t, resp.Rows, 2)

	f.stats.EXPECT().Load(gomock.Any()).Return(models.Series{}, nil)
	_, err = f.svc.GetStatsHistory(context.Background(), &server.StatsHistoryRequest{})
	requireCode(t, err, codes.NotFound)
}

func TestGetDashboard(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.GetDashboard(context.Background(), &server.DashboardRequest{})
	require.NoError(t, err)
	assert.Equal(t, t0, view.GeneratedAt)
}

func TestSetupServer(t *testing.T) {
	f := newFixture(t)
	reg := newRegistry()

	srv, health, err := server.SetupServer(f.deps, server.DefaultServerConfig(), reg, nullLogger())
	require.NoError(t, err)
	require.NotNil(t, srv)
	require.NotNil(t, health)
	srv.Stop()

	// Registering the interceptor metrics twice is tolerated.
	srv, _, err = server.SetupServer(f.deps, server.DefaultServerConfig(), reg, nullLogger())
	require.NoError(t, err)
	srv.Stop()

	// Test with invalid config
	srv, health, err = server.SetupServer(f.deps, server.ServerConfig{RateLimit: -1}, reg, nullLogger())
	require.ErrorIs(t, err, models.ErrConfiguration)
	require.Nil(t, srv)
	require.Nil(t, health)
}
