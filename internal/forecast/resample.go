package forecast

import (
	"fmt"
	"time"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

// Step is the sampling frequency of every fitted series.
const Step = time.Hour

// Hourly is a gap-filled series on a fixed hourly grid.
type Hourly struct {
	Start  time.Time
	Values []float64
	// Filled counts slots that were carried forward from the previous hour.
	Filled int
}

// End returns the timestamp of the last slot.
func (h Hourly) End() time.Time {
	return h.Start.Add(time.Duration(len(h.Values)-1) * Step)
}

// Resample puts one column of series onto an hourly grid. Each observation
// is bucketed to the hour it falls in and the last observation in a bucket
// wins. Empty slots repeat the previous hour's value. The grid starts at the
// first observed bucket, so there are never leading gaps.
func Resample(series models.Series, column string) (Hourly, error) {
	column = models.CanonicalColumn(column)
	if series.Empty() {
		return Hourly{}, models.ErrDataUnavailable
	}
	if !series.HasColumn(column) {
		return Hourly{}, fmt.Errorf("%w: column %q not found in series", models.ErrConfiguration, column)
	}

	points := series.Points(column)
	if len(points) == 0 {
		return Hourly{}, fmt.Errorf("%w: column %q has no observations", models.ErrDataUnavailable, column)
	}

	start := points[0].Time.UTC().Truncate(Step)
	end := points[len(points)-1].Time.UTC().Truncate(Step)
	slots := int(end.Sub(start)/Step) + 1

	values := make([]float64, slots)
	seen := make([]bool, slots)
	for _, p := range points {
		i := int(p.Time.UTC().Truncate(Step).Sub(start) / Step)
		values[i] = p.Value
		seen[i] = true
	}

	filled := 0
	for i := 1; i < slots; i++ {
		if !seen[i] {
			values[i] = values[i-1]
			filled++
		}
	}

	return Hourly{Start: start, Values: values, Filled: filled}, nil
}
