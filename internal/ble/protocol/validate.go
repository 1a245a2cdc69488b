package protocol

import (
	"errors"
	"fmt"
	"math"
)

// Validation errors.
var (
	ErrDeltaTooLarge = errors.New("protocol: cursor delta too large")
	ErrInvalidScale  = errors.New("protocol: invalid pinch scale")
)

// Limits bounds the values accepted at ingress.
type Limits struct {
	MaxDelta float64 // per-axis magnitude bound for CursorMove, inclusive
	MaxScale float64 // upper bound for Pinch scale, inclusive
}

// DefaultLimits returns the ingress bounds used by the desktop service.
func DefaultLimits() Limits {
	return Limits{
		MaxDelta: 10000,
		MaxScale: 10,
	}
}

// Validate applies the semantic constraints that decoding cannot express.
// Variants not listed here are valid by construction.
func Validate(cmd Command, lim Limits) error {
	switch c := cmd.(type) {
	case CursorMove:
		if !finite(c.DX) || !finite(c.DY) ||
			math.Abs(c.DX) > lim.MaxDelta || math.Abs(c.DY) > lim.MaxDelta {
			return fmt.Errorf("%w: (%g, %g) exceeds ±%g", ErrDeltaTooLarge, c.DX, c.DY, lim.MaxDelta)
		}
	case Pinch:
		if !finite(c.Scale) || c.Scale <= 0 || c.Scale > lim.MaxScale {
			return fmt.Errorf("%w: %g not in (0, %g]", ErrInvalidScale, c.Scale, lim.MaxScale)
		}
	case nil:
		return errors.New("protocol: validate nil command")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
