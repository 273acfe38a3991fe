package forecast

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

var (
	t0       = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	arima111 = models.Order{P: 1, D: 1, Q: 1}
)

func seriesOf(start time.Time, values ...float64) models.Series {
	s := models.Series{Columns: []string{models.CanonicalPM25}}
	for i, v := range values {
		s.Rows = append(s.Rows, models.Reading{
			Time:    start.Add(time.Duration(i) * time.Hour),
			Metrics: map[string]float64{models.CanonicalPM25: v},
		})
	}
	return s
}

// wavy returns n deterministic, non-degenerate hourly values.
func wavy(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		t := float64(i)
		values[i] = 12 + 3*math.Sin(t/3) + 0.7*math.Cos(1.7*t) + 0.02*t
	}
	return values
}

func TestFitScenarioGapIsCarriedForward(t *testing.T) {
	series := seriesOf(t0, wavy(48)...)
	// Drop hour 10: it must come back as a copy of hour 9.
	series.Rows = append(series.Rows[:10:10], series.Rows[11:]...)

	hourly, err := Resample(series, "pm2_5")
	require.NoError(t, err)
	require.Len(t, hourly.Values, 48)
	assert.Equal(t, 1, hourly.Filled)
	assert.Equal(t, hourly.Values[9], hourly.Values[10])

	model, err := Fit(series, "pm2_5", arima111)
	require.NoError(t, err)
	assert.Equal(t, 48, model.NObs)
	assert.Equal(t, t0.Add(47*time.Hour), model.End)
}

func TestFitMissingColumn(t *testing.T) {
	model, err := Fit(seriesOf(t0, wavy(48)...), "humidity", arima111)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.Nil(t, model)
}

func TestFitEmptySeries(t *testing.T) {
	_, err := Fit(models.Series{}, "pm2_5", arima111)
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
}

func TestFitTooShort(t *testing.T) {
	_, err := Fit(seriesOf(t0, 1, 2, 3), "pm2_5", arima111)
	assert.ErrorIs(t, err, models.ErrModelFit)
}

func TestFitConstantSeries(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = 7
	}
	_, err := Fit(seriesOf(t0, values...), "pm2_5", arima111)
	assert.ErrorIs(t, err, models.ErrModelFit)
}

func TestFitInvalidOrder(t *testing.T) {
	_, err := Fit(seriesOf(t0, wavy(48)...), "pm2_5", models.Order{P: -1, D: 1, Q: 1})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestForecastScenarioHorizonFollowsLastSlot(t *testing.T) {
	// 2024-01-01T00:00 through 2024-01-05T23:00.
	model, err := Fit(seriesOf(t0, wavy(120)...), "pm2.5", arima111)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 5, 23, 0, 0, 0, time.UTC), model.End)

	fc, err := Forecast(model, 24)
	require.NoError(t, err)
	require.Len(t, fc.Points, 24)

	assert.Equal(t, "pm2_5", fc.Column)
	assert.Equal(t, time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), fc.Points[0].Time)
	assert.Equal(t, time.Date(2024, 1, 6, 23, 0, 0, 0, time.UTC), fc.Points[23].Time)
}

func TestForecastContiguityAndBounds(t *testing.T) {
	orders := []models.Order{
		{P: 1, D: 1, Q: 1},
		{P: 2, D: 0, Q: 1},
		{P: 0, D: 1, Q: 2},
		{P: 1, D: 2, Q: 0},
	}
	for _, order := range orders {
		model, err := Fit(seriesOf(t0, wavy(96)...), "pm2_5", order)
		require.NoError(t, err, "order %+v", order)

		fc, err := Forecast(model, 12)
		require.NoError(t, err)
		require.Len(t, fc.Points, 12)

		prevWidth := 0.0
		for i, p := range fc.Points {
			if i > 0 {
				assert.Equal(t, time.Hour, p.Time.Sub(fc.Points[i-1].Time))
			}
			assert.LessOrEqual(t, p.Lower, p.Mean)
			assert.LessOrEqual(t, p.Mean, p.Upper)

			width := p.Upper - p.Lower
			assert.GreaterOrEqual(t, width, prevWidth, "order %+v step %d", order, i)
			prevWidth = width
		}
	}
}

func TestFitIsDeterministic(t *testing.T) {
	values := wavy(72)
	a, err := Fit(seriesOf(t0, values...), "pm2_5", arima111)
	require.NoError(t, err)
	b, err := Fit(seriesOf(t0, values...), "pm2_5", arima111)
	require.NoError(t, err)

	fa, err := Forecast(a, 24)
	require.NoError(t, err)
	fb, err := Forecast(b, 24)
	require.NoError(t, err)

	for i := range fa.Points {
		assert.InEpsilon(t, fa.Points[i].Mean, fb.Points[i].Mean, 1e-6)
		assert.InEpsilon(t, fa.Points[i].Upper, fb.Points[i].Upper, 1e-6)
	}
}

func TestForecastRandomWalk(t *testing.T) {
	model, err := Fit(seriesOf(t0, 1, 2, 4, 7), "pm2_5", models.Order{P: 0, D: 1, Q: 0})
	require.NoError(t, err)
	assert.InDelta(t, 14.0/3.0, model.Sigma2, 1e-12)

	fc, err := Forecast(model, 3)
	require.NoError(t, err)
	for i, p := range fc.Points {
		h := float64(i + 1)
		half := 1.959964 * math.Sqrt(14.0/3.0*h)
		assert.InDelta(t, 7.0, p.Mean, 1e-12)
		assert.InDelta(t, 7.0-half, p.Lower, 1e-5)
		assert.InDelta(t, 7.0+half, p.Upper, 1e-5)
	}
}

func TestFitRecoversAR1(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	values := make([]float64, 600)
	for i := 1; i < len(values); i++ {
		values[i] = 0.6*values[i-1] + rng.NormFloat64()
	}
	for i := range values {
		values[i] += 20
	}

	model, err := Fit(seriesOf(t0, values...), "pm2_5", models.Order{P: 1, D: 0, Q: 0})
	require.NoError(t, err)
	require.Len(t, model.AR, 1)
	assert.InDelta(t, 0.6, model.AR[0], 0.1)
	assert.InDelta(t, 20, model.Mean, 0.5)
	assert.InDelta(t, 1, model.Sigma2, 0.25)
}

func TestForecastInvalidSteps(t *testing.T) {
	model, err := Fit(seriesOf(t0, wavy(48)...), "pm2_5", arima111)
	require.NoError(t, err)

	for _, steps := range []int{0, -3} {
		_, err := Forecast(model, steps)
		assert.ErrorIs(t, err, models.ErrConfiguration)
	}

	_, err = Forecast(nil, 3)
	assert.ErrorIs(t, err, models.ErrModelFit)
}

func TestPsiWeights(t *testing.T) {
	tests := []struct {
		name  string
		model Model
		want  []float64
	}{
		{
			name:  "ar1",
			model: Model{Order: models.Order{P: 1}, AR: []float64{0.5}},
			want:  []float64{1, 0.5, 0.25, 0.125},
		},
		{
			name:  "ma1",
			model: Model{Order: models.Order{Q: 1}, MA: []float64{0.4}},
			want:  []float64{1, 0.4, 0, 0},
		},
		{
			name:  "random walk",
			model: Model{Order: models.Order{D: 1}},
			want:  []float64{1, 1, 1, 1},
		},
		{
			name:  "integrated ar1",
			model: Model{Order: models.Order{P: 1, D: 1}, AR: []float64{0.5}},
			want:  []float64{1, 1.5, 1.75, 1.875},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.model.psiWeights(len(tt.want))
			assert.InDeltaSlice(t, tt.want, got, 1e-12)
		})
	}
}

func TestConstrainStationary(t *testing.T) {
	for _, x := range [][]float64{{5, -5}, {-0.3, 2}, {10, 10}, {-10, -10}} {
		c := constrainStationary(x)
		// AR(2) stationarity triangle.
		assert.Less(t, math.Abs(c[1]), 1.0+1e-12)
		assert.Less(t, c[0]+c[1], 1.0+1e-12)
		assert.Less(t, c[1]-c[0], 1.0+1e-12)
	}
}
