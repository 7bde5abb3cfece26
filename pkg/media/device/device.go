// Package device captures the local camera and microphone with
// pion/mediadevices. Encoders need cgo (libvpx, libopus) and drivers exist
// only for linux; other platforms get ErrCaptureUnsupported.
package device

import (
	"errors"

	"github.com/go-logr/logr"

	"github.com/roomcall/roomcall/pkg/logger"
)

var Logger logr.Logger = logger.New().WithName("device")

// ErrCaptureUnsupported is returned where no capture driver is available.
var ErrCaptureUnsupported = errors.New("device: capture unsupported on this platform")

// Config for camera and microphone capture.
type Config struct {
	Width        int `mapstructure:"width"`
	Height       int `mapstructure:"height"`
	VideoBitRate int `mapstructure:"videobitrate"`
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.VideoBitRate <= 0 {
		c.VideoBitRate = 500_000
	}
	return c
}
