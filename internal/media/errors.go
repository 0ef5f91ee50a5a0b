package media

import "errors"

var (
	// ErrPermissionDenied indicates access to the capture device was refused.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrNoDevice indicates no device can satisfy the requested constraints.
	ErrNoDevice = errors.New("no capture device available")

	// ErrTrackEnded is returned by reads on a stopped track.
	ErrTrackEnded = errors.New("track ended")

	// ErrNoFrame indicates a video track has not produced a frame yet.
	ErrNoFrame = errors.New("no frame available")
)
