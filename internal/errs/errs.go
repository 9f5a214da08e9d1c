// Package errs defines the failure taxonomy shared by the matching engine.
//
// Two kinds of failure abort a fit: a ConfigurationError is raised before any
// matching work starts, an EstimationError when the matched sample is empty.
// Per-unit matching failures are not errors; they are recorded as Unmatched
// entries carrying a Reason.
package errs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports bad inputs detected before a fit proceeds.
type ConfigurationError struct {
	Field  string // column or config key at fault, may be empty
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Configf builds a ConfigurationError with a formatted reason.
func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// EstimationError is a systemic estimation failure, e.g. no treated unit matched.
type EstimationError struct {
	Reason string
}

func (e *EstimationError) Error() string {
	return "estimation error: " + e.Reason
}

// Estimationf builds an EstimationError with a formatted reason.
func Estimationf(format string, args ...any) error {
	return &EstimationError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsEstimation reports whether err wraps an EstimationError.
func IsEstimation(err error) bool {
	var ee *EstimationError
	return errors.As(err, &ee)
}

// Reason classifies why a unit ended up unmatched.
type Reason string

const (
	// NoViableStratum: every coarsening level was tried and no stratum held
	// a unit of the opposite arm.
	NoViableStratum Reason = "no_viable_stratum"
)
