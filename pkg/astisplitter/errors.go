package astisplitter

import "errors"

var (
	ErrAborted              = errors.New("astisplitter: aborted")
	ErrFormatDisabled       = errors.New("astisplitter: format disabled")
	ErrIndexMiss            = errors.New("astisplitter: no index entry")
	ErrKeyframesUnsupported = errors.New("astisplitter: keyframes are not supported for this format")
	ErrMarkerNotFound       = errors.New("astisplitter: marker not found")
	ErrNoActiveVideo        = errors.New("astisplitter: no active video track")
	ErrNoKeyframeFound      = errors.New("astisplitter: no keyframe found")
	ErrNoSeekableStream     = errors.New("astisplitter: no seekable stream")
	ErrNotInitialized       = errors.New("astisplitter: Init has not been called")
	ErrNotOpen              = errors.New("astisplitter: session is not open")
	ErrOpenTimeout          = errors.New("astisplitter: open timed out")
	ErrProbeFailed          = errors.New("astisplitter: probe failed")
	ErrSeekTimeInvalid      = errors.New("astisplitter: invalid seek time")
	ErrTrackNotFound        = errors.New("astisplitter: track not found")
	// Not a failure: nothing to emit for now, call again
	ErrTryAgain = errors.New("astisplitter: try again")
)
