package models

import (
	"errors"
	"fmt"
)

// Error kinds shared by every pipeline stage. Callers test with errors.Is.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrNetwork         = errors.New("network error")
	ErrTimeout         = errors.New("request timed out")
	ErrParse           = errors.New("parse error")
	ErrDataUnavailable = errors.New("no historical data available")
	ErrModelFit        = errors.New("model fit failed")
)

// StatusError is returned when the remote API answers with a non-2xx status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: unexpected status %s", ErrNetwork, e.Status)
}

// Unwrap makes a StatusError match ErrNetwork.
func (e *StatusError) Unwrap() error {
	return ErrNetwork
}

// Retryable reports whether repeating the request may succeed.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}
