package forecast

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

// z975 is the two-sided 95% standard normal quantile.
var z975 = distuv.UnitNormal.Quantile(0.975)

// Fit resamples column of series onto an hourly grid and fits an ARIMA model
// of the given order.
func Fit(series models.Series, column string, order models.Order) (*Model, error) {
	column = models.CanonicalColumn(column)
	hourly, err := Resample(series, column)
	if err != nil {
		return nil, err
	}
	return FitHourly(hourly, column, order)
}

// Forecast produces steps hourly forecasts starting one hour after the last
// fitted slot. Bounds are mean +/- z * sqrt(sigma2 * sum psi_j^2).
func Forecast(m *Model, steps int) (models.Forecast, error) {
	if m == nil {
		return models.Forecast{}, fmt.Errorf("%w: model is not fitted", models.ErrModelFit)
	}
	if steps <= 0 {
		return models.Forecast{}, fmt.Errorf("%w: forecast steps must be positive, got %d", models.ErrConfiguration, steps)
	}

	means := m.predictLevels(steps)
	psi := m.psiWeights(steps)

	points := make([]models.ForecastPoint, steps)
	var cum float64
	for h := 0; h < steps; h++ {
		cum += psi[h] * psi[h]
		half := z975 * math.Sqrt(m.Sigma2*cum)
		points[h] = models.ForecastPoint{
			Time:  m.End.Add(time.Duration(h+1) * Step),
			Mean:  means[h],
			Lower: means[h] - half,
			Upper: means[h] + half,
		}
	}
	return models.Forecast{Column: m.Column, Points: points}, nil
}

// predictLevels runs the ARMA recursion on the differenced series, with
// future shocks at zero, then integrates the result back d times.
func (m *Model) predictLevels(steps int) []float64 {
	w := m.levels[m.Order.D]
	n := len(w)

	z := make([]float64, n+steps)
	for t, v := range w {
		z[t] = v - m.Mean
	}
	e := make([]float64, n+steps)
	copy(e, m.resid)

	for t := n; t < n+steps; t++ {
		var v float64
		for i, phi := range m.AR {
			v += phi * z[t-1-i]
		}
		for j, theta := range m.MA {
			if t-1-j >= 0 {
				v += theta * e[t-1-j]
			}
		}
		z[t] = v
	}

	out := make([]float64, steps)
	for h := range out {
		out[h] = z[n+h] + m.Mean
	}

	for k := m.Order.D - 1; k >= 0; k-- {
		last := m.levels[k][len(m.levels[k])-1]
		for h := range out {
			last += out[h]
			out[h] = last
		}
	}
	return out
}

// psiWeights returns the first n coefficients of the MA(infinity)
// representation of the integrated model.
func (m *Model) psiWeights(n int) []float64 {
	// phi*(B) = (1 - sum phi_i B^i)(1 - B)^d, stored as coefficients of B^k.
	poly := make([]float64, len(m.AR)+1)
	poly[0] = 1
	for i, phi := range m.AR {
		poly[i+1] = -phi
	}
	for k := 0; k < m.Order.D; k++ {
		next := make([]float64, len(poly)+1)
		for i, c := range poly {
			next[i] += c
			next[i+1] -= c
		}
		poly = next
	}

	psi := make([]float64, n)
	psi[0] = 1
	for j := 1; j < n; j++ {
		var v float64
		if j <= len(m.MA) {
			v = m.MA[j-1]
		}
		for k := 1; k < len(poly) && k <= j; k++ {
			v -= poly[k] * psi[j-k]
		}
		psi[j] = v
	}
	return psi
}
