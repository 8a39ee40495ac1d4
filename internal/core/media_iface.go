package core

import "context"

// Constraints selects the kinds of local media to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// Stream is a local or remote media stream.
type Stream interface {
	ID() string
	// Close stops the stream's tracks.
	Close() error
}

// MediaSource acquires local media. Acquire fails with a device or
// permission error when capture is impossible.
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// MediaSink binds streams for playback: the local stream as a muted
// preview, the remote stream for playback.
type MediaSink interface {
	BindLocal(Stream)
	BindRemote(Stream)
}
