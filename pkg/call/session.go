// Package call drives one-to-one WebRTC calls inside a room. A Session
// turns user actions and relayed signaling messages into a sequence of
// phases, owning the peer connection of the current attempt.
package call

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pion/webrtc/v3"

	"github.com/roomcall/roomcall/pkg/logger"
	"github.com/roomcall/roomcall/pkg/media"
	"github.com/roomcall/roomcall/pkg/signaling"
)

// Logger is the package logger, replaced by the binaries at startup.
var Logger logr.Logger = logger.New().WithName("call")

// Sender relays an outbound signaling frame. Delivery is best effort.
type Sender interface {
	Send(v interface{})
}

// Config wires a Session to its collaborators.
type Config struct {
	Room string
	// SelfID is the local participant id. Empty disables self-echo
	// suppression.
	SelfID      signaling.ParticipantID
	Signal      Sender
	Media       *media.Manager
	Connections ConnectionFactory
	Observer    Observer
}

// Snapshot is a consistent view of a Session for presentation.
type Snapshot struct {
	Phase           Phase
	Attempt         string
	Muted           bool
	CameraOff       bool
	OfferBuffered   bool
	HasConnection   bool
	HasRemoteStream bool
	Transport       TransportStatus
}

// Session is the call state of one room view. All state changes happen on
// a single goroutine that applies queued events in arrival order.
type Session struct {
	room     string
	self     signaling.ParticipantID
	signal   Sender
	media    *media.Manager
	factory  ConnectionFactory
	observer Observer
	log      logr.Logger

	box       *mailbox
	done      chan struct{}
	closeOnce sync.Once

	snapMu sync.RWMutex
	snap   Snapshot

	// owned by the loop goroutine
	phase       Phase
	attempt     string
	epoch       uint64
	conn        Connection
	connID      uint64
	remoteOffer string
	remote      *RemoteStream
	pending     *action
	transport   TransportStatus
	replies     []func()
}

// NewSession starts the event loop of a session in Idle.
func NewSession(cfg Config) *Session {
	obs := cfg.Observer
	if obs == nil {
		obs = ObserverFuncs{}
	}
	s := &Session{
		room:     cfg.Room,
		self:     cfg.SelfID,
		signal:   cfg.Signal,
		media:    cfg.Media,
		factory:  cfg.Connections,
		observer: obs,
		log:      Logger.WithValues("room", cfg.Room),
		box:      newMailbox(),
		done:     make(chan struct{}),
	}
	if s.self == "" {
		s.log.Info("own participant id unknown, self-echo suppression disabled")
	}
	s.publish()
	go s.run()
	return s
}

type actionKind int

const (
	actStart actionKind = iota
	actAnswer
	actDecline
	actEnd
)

func (k actionKind) String() string {
	switch k {
	case actStart:
		return "start"
	case actAnswer:
		return "answer"
	case actDecline:
		return "decline"
	case actEnd:
		return "end"
	}
	return "unknown"
}

type action struct {
	kind  actionKind
	ctx   context.Context
	epoch uint64
	reply chan error
}

func (a *action) finish(err error) {
	a.reply <- err
}

// reply finishes a once the current event has been applied and published.
func (s *Session) reply(a *action, err error) {
	s.replies = append(s.replies, func() { a.finish(err) })
}

func (s *Session) flushReplies() {
	for _, r := range s.replies {
		r()
	}
	s.replies = nil
}

type (
	inboundEvent struct {
		msg *signaling.Message
	}
	mediaReadyEvent struct {
		act    *action
		stream *media.Stream
		err    error
	}
	localCandidateEvent struct {
		connID    uint64
		candidate webrtc.ICECandidateInit
	}
	remoteTrackEvent struct {
		connID uint64
		track  *webrtc.TrackRemote
	}
	connStateEvent struct {
		connID uint64
		state  webrtc.PeerConnectionState
	}
	transportEvent struct {
		status TransportStatus
	}
	closeEvent struct{}
	// syncEvent is closed once every event queued before it was applied.
	syncEvent struct {
		done chan struct{}
	}
)

// Start places a call: local media is acquired, an offer is created and
// relayed. Valid from Idle only.
func (s *Session) Start(ctx context.Context) error {
	return s.do(ctx, actStart)
}

// Answer accepts the buffered incoming offer. Valid from AnswerPending only.
// On failure the offer stays buffered so the user can retry or decline.
func (s *Session) Answer(ctx context.Context) error {
	return s.do(ctx, actAnswer)
}

// Decline rejects the buffered incoming offer. Valid from AnswerPending only.
func (s *Session) Decline() error {
	return s.do(context.Background(), actDecline)
}

// End hangs up an outgoing or established call. In Idle it cancels a Start
// that is still acquiring media.
func (s *Session) End() error {
	return s.do(context.Background(), actEnd)
}

func (s *Session) do(ctx context.Context, kind actionKind) error {
	a := &action{kind: kind, ctx: ctx, reply: make(chan error, 1)}
	if !s.box.push(a) {
		return ErrSessionClosed
	}
	select {
	case err := <-a.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleMessage queues an inbound relay frame. It never blocks.
func (s *Session) HandleMessage(m *signaling.Message) {
	if m == nil {
		return
	}
	s.box.push(inboundEvent{msg: m})
}

// TransportChanged records the signaling channel status. It is reported to
// the Observer and never changes the phase.
func (s *Session) TransportChanged(status TransportStatus) {
	s.box.push(transportEvent{status: status})
}

// SetMuted toggles the local audio tracks and remembers the choice.
func (s *Session) SetMuted(muted bool) {
	s.media.SetMuted(muted)
}

// SetCameraOff toggles the local video tracks and remembers the choice.
func (s *Session) SetCameraOff(off bool) {
	s.media.SetCameraOff(off)
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	return s.Snapshot().Phase
}

// Snapshot returns the last published state with the current media flags.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	snap := s.snap
	s.snapMu.RUnlock()
	if s.media != nil {
		snap.Muted = s.media.Muted()
		snap.CameraOff = s.media.CameraOff()
	}
	return snap
}

// Close ends the session: an active call is hung up, a buffered offer is
// dropped and local media is released. Actions return ErrSessionClosed
// afterwards. Close must not be called from Observer callbacks.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.box.push(closeEvent{})
	})
	<-s.done
}

// Done is closed when the session loop has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run() {
	defer close(s.done)
	for {
		ev, ok := s.box.pop()
		if !ok {
			return
		}
		if _, ok := ev.(closeEvent); ok {
			s.shutdown()
			s.publish()
			s.flushReplies()
			for _, rest := range s.box.close() {
				switch e := rest.(type) {
				case *action:
					e.finish(ErrSessionClosed)
				case syncEvent:
					close(e.done)
				}
			}
			return
		}
		s.handle(ev)
		s.publish()
		s.flushReplies()
	}
}

func (s *Session) handle(ev interface{}) {
	switch e := ev.(type) {
	case *action:
		s.handleAction(e)
	case inboundEvent:
		s.handleInbound(e.msg)
	case mediaReadyEvent:
		s.handleMediaReady(e)
	case localCandidateEvent:
		if e.connID != s.connID || s.conn == nil {
			return
		}
		s.send(signaling.NewCandidate(s.self, e.candidate))
	case remoteTrackEvent:
		s.handleRemoteTrack(e)
	case connStateEvent:
		if e.connID != s.connID {
			return
		}
		s.log.V(1).Info("connection state", "attempt", s.attempt, "state", e.state)
		s.observer.OnConnectionState(e.state)
	case syncEvent:
		close(e.done)
	case transportEvent:
		s.transport = e.status
		if e.status.Err != nil {
			s.log.Info("signaling transport degraded", "status", e.status.String())
		}
		s.observer.OnTransport(e.status)
	default:
		s.log.V(1).Info("unknown session event", "event", ev)
	}
}

func (s *Session) publish() {
	snap := Snapshot{
		Phase:           s.phase,
		Attempt:         s.attempt,
		OfferBuffered:   s.remoteOffer != "",
		HasConnection:   s.conn != nil,
		HasRemoteStream: s.remote != nil,
		Transport:       s.transport,
	}
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}
