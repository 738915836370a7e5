package mapcluster

import "github.com/kailas-cloud/mapcluster/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound         = domain.ErrNotFound
	ErrAlreadyExists    = domain.ErrAlreadyExists
	ErrInvalidArgument  = domain.ErrInvalidArgument
	ErrLimitExceeded    = domain.ErrLimitExceeded
	ErrInvalidZoomRange = domain.ErrInvalidZoomRange
	ErrInvalidExtent    = domain.ErrInvalidExtent
	ErrInvalidZoomLevel = domain.ErrInvalidZoomLevel
	ErrOutOfRange       = domain.ErrOutOfRange
	ErrNoConvergence    = domain.ErrNoConvergence
)
