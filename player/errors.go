package player

import "errors"

var (
	// ErrInvalidDimensions is returned when a character grid has a zero side
	ErrInvalidDimensions = errors.New("invalid dimensions")

	// ErrFrameOutOfRange is returned for an index outside a finished frame store
	ErrFrameOutOfRange = errors.New("frame out of range")

	// ErrFrameNotReady is returned when the bounded wait for a frame that is
	// still being decoded expires
	ErrFrameNotReady = errors.New("frame not ready")

	// ErrDeviceUnavailable is returned when the audio device cannot be opened
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrTerminal wraps failures to configure or restore the terminal
	ErrTerminal = errors.New("terminal error")
)
