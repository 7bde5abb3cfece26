//go:build linux && cgo

package device

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v3"

	"github.com/roomcall/roomcall/pkg/media"
)

// Capturer is a media.Capturer backed by GetUserMedia.
type Capturer struct {
	cfg      Config
	selector *mediadevices.CodecSelector
}

// NewCapturer builds the VP8 and Opus encoders used for capture.
func NewCapturer(cfg Config) (*Capturer, error) {
	cfg = cfg.withDefaults()

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = cfg.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &Capturer{
		cfg: cfg,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Codecs registers the encoder codecs on a peer connection's media engine.
func (c *Capturer) Codecs(m *webrtc.MediaEngine) error {
	c.selector.Populate(m)
	return nil
}

func (c *Capturer) Capture(ctx context.Context) (*media.Stream, error) {
	for _, d := range mediadevices.EnumerateDevices() {
		Logger.V(1).Info("media device", "kind", d.Kind, "label", d.Label)
	}

	s, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormat(frame.FormatI420)
			mc.Width = prop.Int(c.cfg.Width)
			mc.Height = prop.Int(c.cfg.Height)
		},
		Audio: func(mc *mediadevices.MediaTrackConstraints) {},
		Codec: c.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	var tracks []media.Track
	for _, t := range s.GetTracks() {
		t := t
		dt := &deviceTrack{Track: t}
		dt.enabled.Store(true)
		switch tt := t.(type) {
		case *mediadevices.VideoTrack:
			tt.Transform(dt.gateVideo)
		case *mediadevices.AudioTrack:
			tt.Transform(dt.gateAudio)
		}
		t.OnEnded(func(err error) {
			Logger.Info("device track ended", "track", t.ID(), "err", err)
		})
		tracks = append(tracks, dt)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("get user media: no tracks")
	}
	return media.NewStream(tracks[0].StreamID(), tracks...), nil
}

// deviceTrack gates a captured track: disabled video is replaced by black
// frames and disabled audio by silence, keeping the sender alive.
type deviceTrack struct {
	mediadevices.Track

	enabled atomic.Bool
	once    sync.Once
}

func (t *deviceTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *deviceTrack) Enabled() bool { return t.enabled.Load() }

func (t *deviceTrack) Stop() {
	t.once.Do(func() {
		if err := t.Track.Close(); err != nil {
			Logger.Error(err, "close device track", "track", t.ID())
		}
	})
}

func (t *deviceTrack) gateVideo(r video.Reader) video.Reader {
	return video.ReaderFunc(func() (image.Image, func(), error) {
		img, release, err := r.Read()
		if err != nil || t.enabled.Load() {
			return img, release, err
		}
		black := blackFrame(img.Bounds())
		if release != nil {
			release()
		}
		return black, func() {}, nil
	})
}

func (t *deviceTrack) gateAudio(r audio.Reader) audio.Reader {
	return audio.ReaderFunc(func() (wave.Audio, func(), error) {
		chunk, release, err := r.Read()
		if err != nil || t.enabled.Load() {
			return chunk, release, err
		}
		var silent wave.Audio
		switch chunk.(type) {
		case *wave.Int16Interleaved:
			silent = wave.NewInt16Interleaved(chunk.ChunkInfo())
		case *wave.Float32Interleaved:
			silent = wave.NewFloat32Interleaved(chunk.ChunkInfo())
		default:
			return chunk, release, nil
		}
		if release != nil {
			release()
		}
		return silent, func() {}, nil
	})
}

func blackFrame(r image.Rectangle) *image.YCbCr {
	img := image.NewYCbCr(r, image.YCbCrSubsampleRatio420)
	for i := range img.Cb {
		img.Cb[i] = 128
	}
	for i := range img.Cr {
		img.Cr[i] = 128
	}
	return img
}
