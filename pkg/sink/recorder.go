// Package sink writes the media a remote party sends to disk: VP8 to IVF
// files and Opus to OGG files.
package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"

	"github.com/roomcall/roomcall/pkg/logger"
)

var Logger logr.Logger = logger.New().WithName("sink")

const defaultPLIInterval = 3 * time.Second

// KeyFrameRequester sends RTCP feedback to the remote sender.
type KeyFrameRequester interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// Track is the read side of a remote track.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	SSRC() webrtc.SSRC
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Config of a Recorder.
type Config struct {
	Dir         string        `mapstructure:"dir"`
	PLIInterval time.Duration `mapstructure:"pliinterval"`
}

// Recorder saves remote tracks until they end.
type Recorder struct {
	dir         string
	pliInterval time.Duration
	wg          sync.WaitGroup
}

// NewRecorder creates cfg.Dir if needed.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.Dir == "" {
		return nil, errors.New("sink: empty record dir")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if cfg.PLIInterval <= 0 {
		cfg.PLIInterval = defaultPLIInterval
	}
	return &Recorder{dir: cfg.Dir, pliInterval: cfg.PLIInterval}, nil
}

// Record starts saving track under <dir>/<prefix>-<kind>-<ssrc>.<ext>.
// Video tracks get a picture loss indication every PLIInterval so the file
// starts and stays decodable. Unsupported codecs are skipped.
func (r *Recorder) Record(prefix string, kf KeyFrameRequester, track Track) error {
	codec := track.Codec()
	var (
		w    media.Writer
		err  error
		name string
	)
	base := fmt.Sprintf("%s-%s-%d", prefix, track.Kind(), track.SSRC())
	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8):
		name = filepath.Join(r.dir, base+".ivf")
		w, err = ivfwriter.New(name)
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus):
		name = filepath.Join(r.dir, base+".ogg")
		w, err = oggwriter.New(name, 48000, 2)
	default:
		Logger.Info("skip track with unsupported codec", "track_id", track.ID(), "codec", codec.MimeType)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}

	l := Logger.WithValues("track_id", track.ID(), "file", name)
	l.Info("recording remote track")

	done := make(chan struct{})
	if track.Kind() == webrtc.RTPCodecTypeVideo && kf != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.requestKeyFrames(kf, track.SSRC(), done)
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		n, err := copyRTP(w, track)
		if cerr := w.Close(); cerr != nil {
			l.Error(cerr, "close media file")
		}
		if err != nil {
			l.Error(err, "record remote track", "packets", n)
			return
		}
		l.Info("remote track ended", "packets", n)
	}()
	return nil
}

// Wait blocks until every recorded track has ended.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) requestKeyFrames(kf KeyFrameRequester, ssrc webrtc.SSRC, done <-chan struct{}) {
	ticker := time.NewTicker(r.pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := kf.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}}); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return
				}
				Logger.V(1).Info("WriteRTCP error", "err", err.Error())
			}
		}
	}
}

// copyRTP moves packets from track into w until the track ends.
func copyRTP(w media.Writer, track Track) (int, error) {
	n := 0
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if err := w.WriteRTP(pkt); err != nil {
			return n, err
		}
		n++
	}
}
