package forecast

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

// Model is a fitted ARIMA(p,d,q) model. Coefficients follow the convention
//
//	w_t - mu = sum phi_i (w_{t-i} - mu) + e_t + sum theta_j e_{t-j}
//
// where w is the series differenced d times and mu is zero unless d == 0.
type Model struct {
	Column        string
	Order         models.Order
	AR            []float64
	MA            []float64
	Mean          float64
	Sigma2        float64
	LogLikelihood float64
	// NObs is the number of hourly slots the model was fitted on.
	NObs  int
	Start time.Time
	End   time.Time

	levels [][]float64 // levels[k] is the input differenced k times
	resid  []float64
}

// AIC returns the Akaike information criterion of the fit.
func (m *Model) AIC() float64 {
	k := float64(m.Order.P + m.Order.Q + 1)
	if m.Order.D == 0 {
		k++
	}
	return 2*k - 2*m.LogLikelihood
}

// fitSettings returns fresh optimizer settings; the converger is stateful
// and must not be shared between concurrent fits.
func fitSettings() *optimize.Settings {
	return &optimize.Settings{
		MajorIterations: 10000,
		FuncEvaluations: 50000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 200,
		},
	}
}

// FitHourly fits an ARIMA model of the given order on an hourly series by
// conditional maximum likelihood.
func FitHourly(series Hourly, column string, order models.Order) (*Model, error) {
	if order.P < 0 || order.D < 0 || order.Q < 0 {
		return nil, fmt.Errorf("%w: invalid order %+v", models.ErrConfiguration, order)
	}

	levels := make([][]float64, order.D+1)
	levels[0] = append([]float64(nil), series.Values...)
	for k := 1; k <= order.D; k++ {
		levels[k] = difference(levels[k-1])
	}
	w := levels[order.D]
	if len(w) < order.P+order.Q+2 {
		return nil, fmt.Errorf("%w: %d observations after differencing, order %d,%d,%d needs at least %d",
			models.ErrModelFit, len(w), order.P, order.D, order.Q, order.P+order.Q+2)
	}

	if floats.Max(w) == floats.Min(w) {
		return nil, fmt.Errorf("%w: series is constant after differencing", models.ErrModelFit)
	}

	css := &cssObjective{w: w, p: order.P, q: order.Q, withMean: order.D == 0}
	x0 := make([]float64, css.dim())
	if css.withMean {
		x0[0] = floats.Sum(w) / float64(len(w))
	}

	x := x0
	if len(x0) > 0 {
		result, err := optimize.Minimize(optimize.Problem{Func: css.negLogLikelihood}, x0, fitSettings(), &optimize.NelderMead{})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrModelFit, err)
		}
		switch result.Status {
		case optimize.Failure, optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
			return nil, fmt.Errorf("%w: optimizer did not converge: %s", models.ErrModelFit, result.Status)
		}
		x = result.X
	}

	mean, ar, ma := css.unpack(x)
	resid, sse := css.residuals(mean, ar, ma)
	n := float64(len(w) - order.P)
	sigma2 := sse / n
	ll := -0.5 * n * (math.Log(2*math.Pi*sigma2) + 1)
	if math.IsNaN(ll) || math.IsInf(ll, 0) || sigma2 <= 0 {
		return nil, fmt.Errorf("%w: likelihood is not finite", models.ErrModelFit)
	}

	return &Model{
		Column:        column,
		Order:         order,
		AR:            ar,
		MA:            ma,
		Mean:          mean,
		Sigma2:        sigma2,
		LogLikelihood: ll,
		NObs:          len(series.Values),
		Start:         series.Start,
		End:           series.End(),
		levels:        levels,
		resid:         resid,
	}, nil
}

type cssObjective struct {
	w        []float64
	p, q     int
	withMean bool
}

func (c *cssObjective) dim() int {
	n := c.p + c.q
	if c.withMean {
		n++
	}
	return n
}

// unpack maps unconstrained optimizer coordinates onto a stationary AR and
// an invertible MA polynomial.
func (c *cssObjective) unpack(x []float64) (mean float64, ar, ma []float64) {
	if c.withMean {
		mean, x = x[0], x[1:]
	}
	ar = constrainStationary(x[:c.p])
	ma = constrainStationary(x[c.p : c.p+c.q])
	for i := range ma {
		ma[i] = -ma[i]
	}
	return mean, ar, ma
}

func (c *cssObjective) residuals(mean float64, ar, ma []float64) ([]float64, float64) {
	resid := make([]float64, len(c.w))
	var sse float64
	for t := c.p; t < len(c.w); t++ {
		e := c.w[t] - mean
		for i, phi := range ar {
			e -= phi * (c.w[t-1-i] - mean)
		}
		for j, theta := range ma {
			if t-1-j >= 0 {
				e -= theta * resid[t-1-j]
			}
		}
		resid[t] = e
		sse += e * e
	}
	return resid, sse
}

func (c *cssObjective) negLogLikelihood(x []float64) float64 {
	mean, ar, ma := c.unpack(x)
	_, sse := c.residuals(mean, ar, ma)
	n := float64(len(c.w) - c.p)
	v := 0.5 * n * (math.Log(2*math.Pi*sse/n) + 1)
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}

// constrainStationary maps each coordinate to a partial autocorrelation in
// (-1, 1) and runs the Durbin-Levinson recursion, so the resulting
// polynomial 1 - sum a_i B^i has all roots outside the unit circle.
func constrainStationary(x []float64) []float64 {
	coef := make([]float64, len(x))
	prev := make([]float64, len(x))
	for k := range x {
		r := math.Tanh(x[k])
		copy(prev, coef[:k])
		for j := 0; j < k; j++ {
			coef[j] = prev[j] - r*prev[k-1-j]
		}
		coef[k] = r
	}
	return coef
}

func difference(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, len(x)-1)
	for i := range out {
		out[i] = x[i+1] - x[i]
	}
	return out
}
