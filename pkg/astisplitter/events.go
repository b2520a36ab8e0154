package astisplitter

import "github.com/asticode/go-astikit"

const (
	// Payload is the *Session
	EventNameSessionClosed astikit.EventName = "astisplitter.session.closed"
	// Payload is the *Session
	EventNameSessionOpened astikit.EventName = "astisplitter.session.opened"
	// Payload is a SeekEvent. Handlers are executed with the session locked.
	EventNameSessionSeeked astikit.EventName = "astisplitter.session.seeked"
	// Payload is a TrackActivatedEvent. Handlers are executed with the session locked.
	EventNameTrackActivated astikit.EventName = "astisplitter.track.activated"
)

type SeekEvent struct {
	// Nil when one of the seek methods succeeded
	Err error
	// Either a normalized time or a byte offset
	Target int64
	ByByte bool
}

type TrackActivatedEvent struct {
	ID   int
	Kind TrackKind
}
