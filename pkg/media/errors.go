package media

import "errors"

var (
	// ErrCaptureFailed wraps platform capture errors returned by a Capturer.
	ErrCaptureFailed = errors.New("media: capture failed")
	// ErrReleased is returned by Acquire when Release ran while the capture
	// was still in flight.
	ErrReleased = errors.New("media: released during capture")
	// ErrNoSource means a FileCapturer has neither a video nor an audio file.
	ErrNoSource = errors.New("media: no source configured")
)
