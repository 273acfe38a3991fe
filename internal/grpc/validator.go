package server

import (
	"fmt"
	"time"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

const (
	maxTimeRange = 2 * 365 * 24 * time.Hour
	maxSteps     = 14 * 24
	maxARMATerms = 10
	maxDiff      = 2
)

type RequestValidator struct {
	maxSteps int
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{maxSteps: maxSteps}
}

// ValidateRange checks an optional time range. Either bound may be zero.
func (v *RequestValidator) ValidateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return nil
	}

	// Validate time range
	if start.After(end) {
		return fmt.Errorf("start time must be before end time")
	}

	// Validate maximum time range
	if end.Sub(start) > maxTimeRange {
		return fmt.Errorf("time range exceeds maximum allowed")
	}

	return nil
}

// ValidateForecast checks the horizon and model order of a forecast request.
func (v *RequestValidator) ValidateForecast(steps int, order models.Order) error {
	if steps <= 0 || steps > v.maxSteps {
		return fmt.Errorf("invalid steps: %d (must be between 1 and %d)", steps, v.maxSteps)
	}
	if order.P < 0 || order.D < 0 || order.Q < 0 {
		return fmt.Errorf("invalid order: %d,%d,%d", order.P, order.D, order.Q)
	}
	if order.D > maxDiff || order.P+order.Q > maxARMATerms {
		return fmt.Errorf("order too large: %d,%d,%d", order.P, order.D, order.Q)
	}
	return nil
}
