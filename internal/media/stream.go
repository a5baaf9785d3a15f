package media

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Track is a local track that can be attached to a peer connection.
// mediadevices.Track satisfies it.
type Track interface {
	webrtc.TrackLocal

	// OnEnded registers a handler for the track ending on its own,
	// e.g. the captured window closing.
	OnEnded(func(error))
	Close() error
}

// Stream is a set of local tracks released together.
type Stream struct {
	id     string
	tracks []Track

	mu      sync.Mutex
	stopped bool
	onStop  []func()
}

// NewStream groups tracks into a stream with a random ID.
func NewStream(tracks []Track) *Stream {
	return &Stream{
		id:     uuid.New().String(),
		tracks: tracks,
	}
}

func (s *Stream) ID() string {
	return s.id
}

// Tracks returns the tracks of the stream.
func (s *Stream) Tracks() []Track {
	return append([]Track(nil), s.tracks...)
}

// VideoTrack returns the first video track, or nil.
func (s *Stream) VideoTrack() Track {
	for _, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return t
		}
	}
	return nil
}

// OnStop registers fn to run once the stream is stopped. If the stream is
// already stopped fn runs immediately.
func (s *Stream) OnStop(fn func()) {
	s.mu.Lock()
	if !s.stopped {
		s.onStop = append(s.onStop, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Stop closes every track and runs the OnStop hooks. Only the first call
// has an effect.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	hooks := s.onStop
	s.onStop = nil
	s.mu.Unlock()

	var errs []error
	for _, t := range s.tracks {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, fn := range hooks {
		fn()
	}
	return errors.Join(errs...)
}

// Stopped reports whether Stop has been called.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
