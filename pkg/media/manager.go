package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/roomcall/roomcall/pkg/logger"
)

var Logger logr.Logger = logger.New().WithName("media")

const captureKey = "capture"

// Manager holds at most one local stream at a time. The muted and camera-off
// flags outlive the stream and are applied to every stream it acquires.
type Manager struct {
	capturer Capturer
	flight   singleflight.Group

	mu        sync.Mutex
	stream    *Stream
	gen       uint64
	muted     bool
	cameraOff bool
	captures  int
}

// NewManager returns a Manager capturing through c.
func NewManager(c Capturer) *Manager {
	return &Manager{capturer: c}
}

// Acquire returns the held stream, capturing one if nothing is held.
// Concurrent callers share a single capture. ctx only bounds the wait of this
// caller; the capture itself runs to completion for the others.
func (m *Manager) Acquire(ctx context.Context) (*Stream, error) {
	m.mu.Lock()
	if s := m.stream; s != nil {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	ch := m.flight.DoChan(captureKey, m.capture)
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Stream), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) capture() (interface{}, error) {
	m.mu.Lock()
	if s := m.stream; s != nil {
		m.mu.Unlock()
		return s, nil
	}
	gen := m.gen
	m.captures++
	m.mu.Unlock()

	Logger.V(1).Info("capturing local media")
	s, err := m.capturer.Capture(context.Background())
	if err != nil {
		Logger.Error(err, "capture local media")
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		s.stop()
		return nil, ErrReleased
	}
	setEnabled(s.AudioTracks(), !m.muted)
	setEnabled(s.VideoTracks(), !m.cameraOff)
	m.stream = s
	Logger.Info("local media acquired", "stream", s.ID(), "tracks", len(s.tracks))
	return s, nil
}

// SetMuted records the flag and applies it to the held audio tracks.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	if m.stream != nil {
		setEnabled(m.stream.AudioTracks(), !muted)
	}
}

// SetCameraOff records the flag and applies it to the held video tracks.
func (m *Manager) SetCameraOff(off bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cameraOff = off
	if m.stream != nil {
		setEnabled(m.stream.VideoTracks(), !off)
	}
}

// Muted reports the recorded mute flag.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// CameraOff reports the recorded camera flag.
func (m *Manager) CameraOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameraOff
}

// Stream returns the held stream, if any.
func (m *Manager) Stream() (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream, m.stream != nil
}

// Captures reports how many times the Capturer has been asked for a stream.
func (m *Manager) Captures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures
}

// Release stops and drops the held stream. A capture still in flight is
// stopped as soon as it completes; the next Acquire starts a new one instead
// of waiting on it.
func (m *Manager) Release() {
	m.mu.Lock()
	m.gen++
	m.flight.Forget(captureKey)
	s := m.stream
	m.stream = nil
	m.mu.Unlock()

	if s != nil {
		s.stop()
		Logger.Info("local media released", "stream", s.ID())
	}
}

func setEnabled(tracks []Track, enabled bool) {
	for _, t := range tracks {
		t.SetEnabled(enabled)
	}
}
