package models

import (
	"fmt"
	"math"
)

// Center is a position in pixel space. X runs along columns, Y along rows.
type Center struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Distance returns the Euclidean distance between two centers
func (c Center) Distance(o Center) float64 {
	return math.Hypot(c.X-o.X, c.Y-o.Y)
}

// Scale multiplies both coordinates by f
func (c Center) Scale(f float64) Center {
	return Center{X: c.X * f, Y: c.Y * f}
}

func (c Center) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", c.X, c.Y)
}

// CenterKind tells where the current center came from
type CenterKind int

const (
	CenterNone CenterKind = iota
	CenterAuto
	CenterManual
)

func (k CenterKind) String() string {
	switch k {
	case CenterAuto:
		return "auto"
	case CenterManual:
		return "manual"
	default:
		return "none"
	}
}

// CenterState holds the optimizer result and the user override side by side.
// A manual center always takes precedence until ResetManual is called.
type CenterState struct {
	auto      Center
	hasAuto   bool
	manual    Center
	hasManual bool
}

// SetAuto records an optimizer result. It does not disturb a manual override.
func (s *CenterState) SetAuto(c Center) {
	s.auto = c
	s.hasAuto = true
}

// SetManual records a user override
func (s *CenterState) SetManual(c Center) {
	s.manual = c
	s.hasManual = true
}

// ResetManual drops the user override so the auto center applies again
func (s *CenterState) ResetManual() {
	s.manual = Center{}
	s.hasManual = false
}

// Reset forgets both centers, as when a new image is loaded
func (s *CenterState) Reset() {
	*s = CenterState{}
}

// Auto returns the last optimizer result, if any
func (s *CenterState) Auto() (Center, bool) { return s.auto, s.hasAuto }

// Manual returns the user override, if any
func (s *CenterState) Manual() (Center, bool) { return s.manual, s.hasManual }

// Current resolves the effective center: manual, then auto, then none.
func (s *CenterState) Current() (Center, CenterKind) {
	switch {
	case s.hasManual:
		return s.manual, CenterManual
	case s.hasAuto:
		return s.auto, CenterAuto
	default:
		return Center{}, CenterNone
	}
}
