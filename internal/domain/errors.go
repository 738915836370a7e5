package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidArgument signals a malformed request parameter.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrLimitExceeded signals a request over a configured limit.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrInvalidZoomRange signals a negative zoom bound or min > max.
	ErrInvalidZoomRange = errors.New("invalid zoom range")
	// ErrInvalidExtent signals a non-positive width or height.
	ErrInvalidExtent = errors.New("invalid extent")
	// ErrInvalidZoomLevel signals a negative query zoom level.
	ErrInvalidZoomLevel = errors.New("invalid zoom level")
	// ErrOutOfRange signals a rectangle entirely outside the unit square.
	ErrOutOfRange = errors.New("rect out of range")
	// ErrNoConvergence signals that k-means could not reach a stable configuration.
	ErrNoConvergence = errors.New("no convergence")
)

// ZoomRangeError wraps ErrInvalidZoomRange with the offending bounds.
type ZoomRangeError struct {
	Min, Max int
}

func (e *ZoomRangeError) Error() string {
	return fmt.Sprintf("%s: [%d, %d]", ErrInvalidZoomRange.Error(), e.Min, e.Max)
}

func (e *ZoomRangeError) Unwrap() error { return ErrInvalidZoomRange }

// NewZoomRangeError creates a zoom range error.
func NewZoomRangeError(minZoom, maxZoom int) error {
	return &ZoomRangeError{Min: minZoom, Max: maxZoom}
}
