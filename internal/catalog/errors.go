package catalog

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a get-by-pk style call finds no row.
var ErrNotFound = errors.New("catalog: not found")

// ErrBackend wraps a SQL engine error (constraint violation, I/O error, ...).
var ErrBackend = errors.New("catalog: backend error")

// ErrOther wraps anything that doesn't fit the above two classes.
var ErrOther = errors.New("catalog: error")

// ErrBroken is returned by every operation while the store has been
// flipped into its "broken" test state (spec §4.A).
var ErrBroken = errors.New("catalog: store is broken")

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if errors.Is(err, ErrBroken) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrBackend, err)
}
