package grader

import (
	"errors"
	"fmt"
)

// ErrUnsupportedLanguage is wrapped by the ConfigurationError returned for an
// unknown or unspecified language selector.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ConfigurationError aborts a batch before any report output is produced.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IOError reports a failed write to the report. It aborts the batch; output
// already written stays where it is.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("report %s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}
