package media

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucsky/cuid"
	"github.com/pion/webrtc/v3"
	pmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

var (
	vp8Capability  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	opusCapability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}

	// Opus frame for 20ms of silence.
	opusSilence = []byte{0xf8, 0xff, 0xfe}
)

const rewindDelay = 100 * time.Millisecond

// SampleTrack is a Track fed with already encoded samples. Samples written
// while the track is disabled are dropped; disabled audio sends silence frames
// instead so the receiver keeps its jitter buffer running.
type SampleTrack struct {
	*webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// NewSampleTrack returns an enabled VP8 or Opus track.
func NewSampleTrack(kind webrtc.RTPCodecType, streamID string) (*SampleTrack, error) {
	capability, id := vp8Capability, "video"
	if kind == webrtc.RTPCodecTypeAudio {
		capability, id = opusCapability, "audio"
	}
	local, err := webrtc.NewTrackLocalStaticSample(capability, id+"-"+cuid.Slug(), streamID)
	if err != nil {
		return nil, err
	}
	t := &SampleTrack{TrackLocalStaticSample: local, done: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *SampleTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *SampleTrack) Enabled() bool { return t.enabled.Load() }

func (t *SampleTrack) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		close(t.done)
	})
}

// Done is closed once the track is stopped.
func (t *SampleTrack) Done() <-chan struct{} { return t.done }

// WriteSample forwards s unless the track is stopped or disabled.
func (t *SampleTrack) WriteSample(s pmedia.Sample) error {
	if t.stopped.Load() {
		return io.ErrClosedPipe
	}
	if !t.enabled.Load() {
		if t.Kind() != webrtc.RTPCodecTypeAudio {
			return nil
		}
		s.Data = opusSilence
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}

// NewSampleStream returns a stream with one VP8 and one Opus SampleTrack.
func NewSampleStream() (*Stream, error) {
	id := "stream-" + cuid.Slug()
	video, err := NewSampleTrack(webrtc.RTPCodecTypeVideo, id)
	if err != nil {
		return nil, err
	}
	audio, err := NewSampleTrack(webrtc.RTPCodecTypeAudio, id)
	if err != nil {
		return nil, err
	}
	return NewStream(id, audio, video), nil
}

// FileCapturer plays an IVF (VP8) and an OGG (Opus) file in a loop in place
// of a camera and microphone. Either file may be empty.
type FileCapturer struct {
	VideoFile string
	AudioFile string
}

// Capture opens the configured files and starts one pacing goroutine per
// track. The goroutines end when the track is stopped.
func (c FileCapturer) Capture(ctx context.Context) (*Stream, error) {
	if c.VideoFile == "" && c.AudioFile == "" {
		return nil, ErrNoSource
	}
	for _, name := range []string{c.VideoFile, c.AudioFile} {
		if name == "" {
			continue
		}
		if _, err := os.Stat(name); err != nil {
			return nil, err
		}
	}

	id := "file-" + cuid.Slug()
	var tracks []Track
	if c.AudioFile != "" {
		t, err := NewSampleTrack(webrtc.RTPCodecTypeAudio, id)
		if err != nil {
			return nil, err
		}
		go loopFile(t, c.AudioFile, playOGG)
		tracks = append(tracks, t)
	}
	if c.VideoFile != "" {
		t, err := NewSampleTrack(webrtc.RTPCodecTypeVideo, id)
		if err != nil {
			return nil, err
		}
		go loopFile(t, c.VideoFile, playIVF)
		tracks = append(tracks, t)
	}
	return NewStream(id, tracks...), nil
}

type player func(t *SampleTrack, r io.ReadSeeker) error

func loopFile(t *SampleTrack, name string, play player) {
	l := Logger.WithValues("file", name, "track", t.ID())
	for {
		f, err := os.Open(name)
		if err != nil {
			l.Error(err, "open media file")
			return
		}
		err = play(t, f)
		f.Close()
		if errors.Is(err, io.ErrClosedPipe) {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			l.Error(err, "play media file")
			return
		}
		select {
		case <-t.Done():
			return
		case <-time.After(rewindDelay):
		}
		l.V(2).Info("media file rewound")
	}
}

func playIVF(t *SampleTrack, r io.ReadSeeker) error {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return err
	}
	interval := time.Millisecond * time.Duration((float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator))*1000)
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return err
		}
		select {
		case <-t.Done():
			return io.ErrClosedPipe
		case <-ticker.C:
		}
		if err := t.WriteSample(pmedia.Sample{Data: frame, Duration: interval}); err != nil {
			return err
		}
	}
}

func playOGG(t *SampleTrack, r io.ReadSeeker) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return err
	}
	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			return err
		}
		count := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(count)/48000*1000) * time.Millisecond

		select {
		case <-t.Done():
			return io.ErrClosedPipe
		case <-time.After(duration):
		}
		if err := t.WriteSample(pmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}
