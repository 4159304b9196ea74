package domain

import (
	"errors"
	"fmt"
)

// InputError marks a malformed or insufficient bar series. It is rejected
// before simulation starts; nothing is partially processed.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "input error: " + e.Reason
}

// ConfigError marks an invalid run or strategy configuration, rejected at
// construction time before any bar is processed.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// ComputationFault wraps an internal strategy or cost-model failure. It
// aborts the current run; the walk-forward loop records the window as
// failed and continues.
type ComputationFault struct {
	Stage string
	Err   error
}

func (e *ComputationFault) Error() string {
	return fmt.Sprintf("computation fault in %s: %v", e.Stage, e.Err)
}

func (e *ComputationFault) Unwrap() error { return e.Err }

// IsInputError reports whether err is (or wraps) an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
