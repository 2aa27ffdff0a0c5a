package store

import (
	"errors"
	"fmt"

	"github.com/MaximeMichaud/oura-dashboard/internal/endpoint"
)

var ErrInvalidIdentifier = errors.New("invalid SQL identifier")

// ValidateIdent rejects anything but lowercase letters, digits and
// underscores, not starting with a digit.
func ValidateIdent(name string) error {
	if !endpoint.ValidIdent(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}
