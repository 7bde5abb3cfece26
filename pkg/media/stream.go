// Package media owns the local capture stream of a call client. A Manager
// acquires audio and video tracks lazily, coalesces concurrent requests, and
// keeps the muted and camera-off choices across releases.
package media

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// Track is a local track that can be attached to a peer connection and
// gated on and off without renegotiation.
type Track interface {
	webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	// Stop ends capture for the track. It is idempotent.
	Stop()
}

// Stream groups the tracks of one capture.
type Stream struct {
	id     string
	tracks []Track
}

// NewStream returns a stream holding tracks.
func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{id: id, tracks: tracks}
}

// ID returns the stream id shared by its tracks.
func (s *Stream) ID() string { return s.id }

// Tracks returns a copy of the stream's tracks.
func (s *Stream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// AudioTracks returns the stream's audio tracks.
func (s *Stream) AudioTracks() []Track { return s.byKind(webrtc.RTPCodecTypeAudio) }

// VideoTracks returns the stream's video tracks.
func (s *Stream) VideoTracks() []Track { return s.byKind(webrtc.RTPCodecTypeVideo) }

func (s *Stream) byKind(kind webrtc.RTPCodecType) []Track {
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stream) stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Capturer asks the platform for an audio+video stream. It may block on a
// permission prompt.
type Capturer interface {
	Capture(ctx context.Context) (*Stream, error)
}

// CapturerFunc adapts a function to a Capturer.
type CapturerFunc func(ctx context.Context) (*Stream, error)

func (f CapturerFunc) Capture(ctx context.Context) (*Stream, error) { return f(ctx) }
