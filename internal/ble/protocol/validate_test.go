package protocol

import (
	"errors"
	"math"
	"testing"
)

func TestValidateCursorMove(t *testing.T) {
	lim := DefaultLimits()
	tests := []struct {
		dx, dy float64
		want   error
	}{
		{0, 0, nil},
		{10000, -10000, nil},
		{-10000, 10000, nil},
		{10000.01, 0, ErrDeltaTooLarge},
		{0, -10001, ErrDeltaTooLarge},
		{math.NaN(), 0, ErrDeltaTooLarge},
		{0, math.Inf(1), ErrDeltaTooLarge},
	}
	for _, tt := range tests {
		err := Validate(CursorMove{DX: tt.dx, DY: tt.dy}, lim)
		if !errors.Is(err, tt.want) {
			t.Errorf("Validate(CursorMove{%g, %g}) = %v, want %v", tt.dx, tt.dy, err, tt.want)
		}
	}
}

func TestValidatePinch(t *testing.T) {
	lim := DefaultLimits()
	tests := []struct {
		scale float64
		want  error
	}{
		{0.0001, nil},
		{1, nil},
		{10.0, nil},
		{0, ErrInvalidScale},
		{-1, ErrInvalidScale},
		{10.0001, ErrInvalidScale},
		{math.NaN(), ErrInvalidScale},
	}
	for _, tt := range tests {
		err := Validate(Pinch{Scale: tt.scale}, lim)
		if !errors.Is(err, tt.want) {
			t.Errorf("Validate(Pinch{%g}) = %v, want %v", tt.scale, err, tt.want)
		}
	}
}

func TestValidateOtherVariants(t *testing.T) {
	cmds := []Command{
		Tap{ClickType: ClickSingle},
		Button{Action: ButtonBack},
		ModeChange{Mode: ModePresentation},
		MediaControl{Action: MediaPlayPause},
	}
	for _, c := range cmds {
		if err := Validate(c, DefaultLimits()); err != nil {
			t.Errorf("Validate(%#v) = %v, want nil", c, err)
		}
	}
}

func TestValidateCustomLimits(t *testing.T) {
	lim := Limits{MaxDelta: 50, MaxScale: 2}
	if err := Validate(CursorMove{DX: 51}, lim); !errors.Is(err, ErrDeltaTooLarge) {
		t.Errorf("Validate() = %v, want ErrDeltaTooLarge", err)
	}
	if err := Validate(Pinch{Scale: 2.5}, lim); !errors.Is(err, ErrInvalidScale) {
		t.Errorf("Validate() = %v, want ErrInvalidScale", err)
	}
}
