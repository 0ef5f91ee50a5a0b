package media

import (
	"sync"

	"github.com/google/uuid"
)

// Stream is a live capture: an identity plus the tracks it carries.
// Streams are compared by pointer identity.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []Track
}

// NewStream creates a stream with a fresh id.
func NewStream(tracks ...Track) *Stream {
	return NewStreamWithID(uuid.New().String(), tracks...)
}

// NewStreamWithID creates a stream with a known id, e.g. a remote stream id.
func NewStreamWithID(id string, tracks ...Track) *Stream {
	return &Stream{id: id, tracks: append([]Track(nil), tracks...)}
}

// ID returns the stream id.
func (s *Stream) ID() string {
	return s.id
}

// AddTrack appends a track unless it is already present.
func (s *Stream) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tracks {
		if existing == t {
			return
		}
	}
	s.tracks = append(s.tracks, t)
}

// Tracks returns every track in insertion order.
func (s *Stream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Track(nil), s.tracks...)
}

// VideoTracks returns the tracks that produce frames.
func (s *Stream) VideoTracks() []VideoTrack {
	var out []VideoTrack
	for _, t := range s.Tracks() {
		if v, ok := t.(VideoTrack); ok && t.Kind() == KindVideo {
			out = append(out, v)
		}
	}
	return out
}

// AudioTracks returns the audio tracks, including ones that are not
// readable locally.
func (s *Stream) AudioTracks() []Track {
	var out []Track
	for _, t := range s.Tracks() {
		if t.Kind() == KindAudio {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Active reports whether any track is still live.
func (s *Stream) Active() bool {
	for _, t := range s.Tracks() {
		if !t.Ended() {
			return true
		}
	}
	return false
}
