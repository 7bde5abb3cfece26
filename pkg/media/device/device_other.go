//go:build !linux || !cgo

package device

import (
	"context"

	"github.com/pion/webrtc/v3"

	"github.com/roomcall/roomcall/pkg/media"
)

// Capturer always fails with ErrCaptureUnsupported.
type Capturer struct{}

func NewCapturer(cfg Config) (*Capturer, error) {
	Logger.Info("camera and microphone capture unavailable", "width", cfg.Width, "height", cfg.Height)
	return &Capturer{}, nil
}

func (c *Capturer) Codecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (c *Capturer) Capture(ctx context.Context) (*media.Stream, error) {
	return nil, ErrCaptureUnsupported
}
