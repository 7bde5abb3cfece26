package call

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/roomcall/roomcall/pkg/logger"
	"github.com/roomcall/roomcall/pkg/media"
	"github.com/roomcall/roomcall/pkg/signaling"
)

const (
	selfID   signaling.ParticipantID = "1"
	remoteID signaling.ParticipantID = "2"
	waitFor                          = 5 * time.Second
	tick                             = 10 * time.Millisecond
)

type fakeConn struct {
	mu         sync.Mutex
	h          ConnectionHandlers
	tracks     []webrtc.TrackLocal
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool

	offerErr  error
	answerErr error
	remoteErr error
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
	return nil
}

func (c *fakeConn) Offer() (webrtc.SessionDescription, error) {
	if c.offerErr != nil {
		return webrtc.SessionDescription{}, c.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (c *fakeConn) Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if c.answerErr != nil {
		return webrtc.SessionDescription{}, c.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if c.remoteErr != nil {
		return c.remoteErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = append(c.remote, desc)
	return nil
}

func (c *fakeConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) WriteRTCP([]rtcp.Packet) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeFactory struct {
	mu        sync.Mutex
	conns     []*fakeConn
	err       error
	configure func(c *fakeConn)
}

func (f *fakeFactory) NewConnection(h ConnectionHandlers) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{h: h}
	if f.configure != nil {
		f.configure(c)
	}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// recorder keeps every frame a session relays, after a JSON round trip.
type recorder struct {
	mu     sync.Mutex
	frames []*signaling.Message
}

func (r *recorder) Send(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var m signaling.Message
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	r.mu.Lock()
	r.frames = append(r.frames, &m)
	r.mu.Unlock()
}

func (r *recorder) count(t signaling.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.frames {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recorder) last() *signaling.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

// capturer hands out sample streams, optionally holding each capture until
// gate is closed.
type capturer struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	err   error
}

func (c *capturer) Capture(ctx context.Context) (*media.Stream, error) {
	c.mu.Lock()
	c.calls++
	gate, err := c.gate, c.err
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return media.NewSampleStream()
}

func (c *capturer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *capturer) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

type phaseLog struct {
	mu        sync.Mutex
	phases    []Phase
	transport []TransportStatus
	remote    []*RemoteStream
}

func (p *phaseLog) observer() Observer {
	return ObserverFuncs{
		Phase: func(ph Phase) {
			p.mu.Lock()
			p.phases = append(p.phases, ph)
			p.mu.Unlock()
		},
		Transport: func(st TransportStatus) {
			p.mu.Lock()
			p.transport = append(p.transport, st)
			p.mu.Unlock()
		},
		RemoteStream: func(r *RemoteStream) {
			p.mu.Lock()
			p.remote = append(p.remote, r)
			p.mu.Unlock()
		},
	}
}

func (p *phaseLog) seen() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Phase, len(p.phases))
	copy(out, p.phases)
	return out
}

type harness struct {
	s        *Session
	sent     *recorder
	factory  *fakeFactory
	capturer *capturer
	media    *media.Manager
	log      *phaseLog
}

func newHarness(t *testing.T, self signaling.ParticipantID) *harness {
	h := &harness{
		sent:     &recorder{},
		factory:  &fakeFactory{},
		capturer: &capturer{},
		log:      &phaseLog{},
	}
	h.media = media.NewManager(h.capturer)
	h.s = NewSession(Config{
		Room:        "room-1",
		SelfID:      self,
		Signal:      h.sent,
		Media:       h.media,
		Connections: h.factory,
		Observer:    h.log.observer(),
	})
	t.Cleanup(h.s.Close)
	return h
}

// flush waits until every event queued so far has been applied.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	if !h.s.box.push(syncEvent{done: done}) {
		return
	}
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("session loop stuck")
	}
}

func (h *harness) deliver(t *testing.T, m *signaling.Message) {
	t.Helper()
	h.s.HandleMessage(m)
	h.flush(t)
}

func (h *harness) toOfferPending(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.Start(context.Background()))
	require.Equal(t, OfferPending, h.s.Phase())
}

func (h *harness) toAnswerPending(t *testing.T) {
	t.Helper()
	h.deliver(t, signaling.NewOffer(remoteID, "remote-offer"))
	require.Equal(t, AnswerPending, h.s.Phase())
}

func (h *harness) toConnected(t *testing.T) {
	t.Helper()
	h.toOfferPending(t)
	h.deliver(t, signaling.NewAnswer(remoteID, "remote-answer"))
	require.Equal(t, Connected, h.s.Phase())
}

var errBoom = errors.New("boom")

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogs points the package logger at a buffer until the test ends.
// Call it before newHarness so the session picks it up.
func captureLogs(t *testing.T) *logBuffer {
	b := &logBuffer{}
	zl := zerolog.New(b)
	prev := Logger
	Logger = logger.NewWithOptions(logger.Options{Logger: &zl})
	t.Cleanup(func() { Logger = prev })
	return b
}
