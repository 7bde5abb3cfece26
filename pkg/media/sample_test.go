package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	pmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleTrackGate(t *testing.T) {
	tr, err := NewSampleTrack(webrtc.RTPCodecTypeVideo, "s")
	require.NoError(t, err)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, tr.Kind())
	assert.Equal(t, "s", tr.StreamID())
	assert.True(t, tr.Enabled())

	tr.SetEnabled(false)
	assert.False(t, tr.Enabled())
	assert.NoError(t, tr.WriteSample(pmedia.Sample{Data: []byte{1}, Duration: time.Millisecond}))

	tr.Stop()
	tr.Stop()
	assert.ErrorIs(t, tr.WriteSample(pmedia.Sample{Data: []byte{1}}), io.ErrClosedPipe)
	select {
	case <-tr.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestNewSampleStream(t *testing.T) {
	s, err := NewSampleStream()
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	require.Len(t, s.Tracks(), 2)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, s.AudioTracks()[0].Kind())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, s.VideoTracks()[0].Kind())
	for _, tr := range s.Tracks() {
		assert.Equal(t, s.ID(), tr.StreamID())
	}
}

func TestFileCapturerErrors(t *testing.T) {
	_, err := FileCapturer{}.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)

	_, err = FileCapturer{VideoFile: "/nonexistent/video.ivf"}.Capture(context.Background())
	assert.Error(t, err)
}

func ivfFile(frames ...[]byte) []byte {
	var b bytes.Buffer
	b.WriteString("DKIF")
	_ = binary.Write(&b, binary.LittleEndian, uint16(0))  // version
	_ = binary.Write(&b, binary.LittleEndian, uint16(32)) // header size
	b.WriteString("VP80")
	_ = binary.Write(&b, binary.LittleEndian, uint16(640))
	_ = binary.Write(&b, binary.LittleEndian, uint16(480))
	_ = binary.Write(&b, binary.LittleEndian, uint32(1000)) // timebase denominator
	_ = binary.Write(&b, binary.LittleEndian, uint32(1))    // timebase numerator
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(frames)))
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))
	for i, f := range frames {
		_ = binary.Write(&b, binary.LittleEndian, uint32(len(f)))
		_ = binary.Write(&b, binary.LittleEndian, uint64(i))
		b.Write(f)
	}
	return b.Bytes()
}

func TestPlayFromMemory(t *testing.T) {
	tr, err := NewSampleTrack(webrtc.RTPCodecTypeVideo, "s")
	require.NoError(t, err)
	defer tr.Stop()

	var play player = playIVF
	err = play(tr, bytes.NewReader(ivfFile([]byte{1, 2, 3}, []byte{4})))
	assert.ErrorIs(t, err, io.EOF)

	assert.Error(t, playIVF(tr, bytes.NewReader([]byte("junk"))))

	audio, err := NewSampleTrack(webrtc.RTPCodecTypeAudio, "s")
	require.NoError(t, err)
	defer audio.Stop()
	play = playOGG
	assert.Error(t, play(audio, bytes.NewReader([]byte("not an ogg stream"))))
}
