package trafficengine

import "errors"

var (
	ErrInvalidTrafficEvent = errors.New("invalid traffic event")
	ErrInvalidConfig       = errors.New("invalid engine config")

	// ErrCapacityExceeded is never returned. It names the eviction path in logs and metrics:
	// a full store sheds its oldest entity instead of rejecting the new one.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)
