package vault

import (
	"errors"
	"fmt"
)

// ErrValidation indicates input was rejected before contacting the service.
var ErrValidation = errors.New("validation failed")

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
