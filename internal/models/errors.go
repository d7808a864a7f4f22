package models

import "errors"

// Error taxonomy shared by all analysis packages. Callers wrap these with
// fmt.Errorf("%w: ...") and test them with errors.Is.
var (
	// ErrInvalidParameter marks malformed configuration. Nothing is mutated.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInsufficientData marks a mask or image too sparse to locate a center.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrParse marks malformed points-of-interest text
	ErrParse = errors.New("parse error")

	// ErrOutOfBounds marks a center or ray outside the image
	ErrOutOfBounds = errors.New("out of bounds")
)
