package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInputValidation marks malformed caller input. It is raised before any inference call.
	ErrInputValidation = errors.New("input validation failed")
	// ErrNoDetection is the soft "nothing found" outcome. Matching reports it as a reason, never as an error.
	ErrNoDetection = errors.New("no detection")
	// ErrResourceUnavailable marks a video or frame that could not be opened or decoded.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrInference marks a failure inside a detection, segmentation or generation call.
	ErrInference = errors.New("inference failed")
)

// ValidationError identifies the offending region of a propagation request.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("region %d: %s", e.Index, e.Reason)
}

// Is lets errors.Is(err, ErrInputValidation) match any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInputValidation
}
