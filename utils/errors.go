package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrConfigInvalid is matched by every configuration error. It is the only error class that
// aborts startup.
var ErrConfigInvalid = errors.New("invalid configuration")

type configValidationError struct {
	path string
	err  error
}

func (e *configValidationError) Error() string {
	return fmt.Sprintf("error validating %q: %v", e.path, e.err)
}

func (e *configValidationError) Unwrap() []error {
	return []error{ErrConfigInvalid, e.err}
}

// NewConfigValidationError returns an error specifying that there was an error validating the
// config at path.
func NewConfigValidationError(path string, err error) error {
	return &configValidationError{path: path, err: err}
}

// NewConfigValidationFieldRequiredError returns an error specifying that a required field is
// missing at path.
func NewConfigValidationFieldRequiredError(path, field string) error {
	return NewConfigValidationError(path, errors.Errorf("%q is required", field))
}

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}
