package engine

import "errors"

var (
	// ErrUnknownKind is returned by the factory for a kind it cannot build.
	ErrUnknownKind = errors.New("unknown engine kind")

	// ErrNotBound is returned by Start when Bind was never called or failed.
	ErrNotBound = errors.New("engine has no bound source")

	// ErrUpstreamFetch wraps failures talking to the stream origin.
	ErrUpstreamFetch = errors.New("upstream fetch failed")

	// ErrReleased is returned when Start is called on a released engine.
	ErrReleased = errors.New("engine already released")
)
