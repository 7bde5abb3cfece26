package call

import (
	"fmt"

	"github.com/lucsky/cuid"
	"github.com/pion/webrtc/v3"

	"github.com/roomcall/roomcall/pkg/media"
	"github.com/roomcall/roomcall/pkg/signaling"
)

func (s *Session) handleAction(a *action) {
	switch a.kind {
	case actStart:
		if s.phase != Idle {
			s.reply(a, ErrInvalidPhase)
			return
		}
		if s.pending != nil {
			s.reply(a, ErrActionPending)
			return
		}
		s.attempt = cuid.New()
		s.log.Info("starting call", "attempt", s.attempt)
		s.acquire(a)

	case actAnswer:
		if s.phase != AnswerPending {
			s.reply(a, ErrInvalidPhase)
			return
		}
		if s.pending != nil {
			if s.pending.kind == actAnswer {
				s.reply(a, ErrActionPending)
				return
			}
			s.cancelPending(ErrSuperseded)
		}
		s.log.Info("answering call", "attempt", s.attempt)
		s.acquire(a)

	case actDecline:
		if s.phase != AnswerPending {
			s.reply(a, ErrInvalidPhase)
			return
		}
		s.log.Info("declining call", "attempt", s.attempt)
		s.send(signaling.NewHangup(s.self))
		s.teardown()
		s.reply(a, nil)

	case actEnd:
		switch {
		case s.phase.Active():
			s.log.Info("ending call", "attempt", s.attempt, "phase", s.phase)
			s.send(signaling.NewHangup(s.self))
			s.teardown()
			s.reply(a, nil)
		case s.phase == Idle && s.pending != nil && s.pending.kind == actStart:
			s.log.Info("cancelling call before offer", "attempt", s.attempt)
			s.teardown()
			s.reply(a, nil)
		default:
			s.reply(a, ErrInvalidPhase)
		}
	}
}

// acquire requests local media off the loop; the result comes back as a
// mediaReadyEvent.
func (s *Session) acquire(a *action) {
	a.epoch = s.epoch
	s.pending = a
	go func() {
		stream, err := s.media.Acquire(a.ctx)
		s.box.push(mediaReadyEvent{act: a, stream: stream, err: err})
	}()
}

func (s *Session) cancelPending(err error) {
	if s.pending == nil {
		return
	}
	s.reply(s.pending, err)
	s.pending = nil
}

func (s *Session) handleMediaReady(e mediaReadyEvent) {
	a := e.act
	if a != s.pending {
		// Already finished by a teardown or a superseding action.
		return
	}
	s.pending = nil

	if e.err != nil {
		s.log.Error(e.err, "acquire local media", "attempt", s.attempt, "action", a.kind)
		s.reply(a, fmt.Errorf("acquire local media: %w", e.err))
		return
	}
	if a.epoch != s.epoch {
		s.reply(a, ErrSuperseded)
		return
	}

	switch a.kind {
	case actStart:
		if s.phase != Idle {
			s.reply(a, ErrSuperseded)
			return
		}
		s.observer.OnLocalStream(e.stream)
		s.reply(a, s.makeOffer(e.stream))
	case actAnswer:
		if s.phase != AnswerPending || s.remoteOffer == "" {
			s.reply(a, ErrSuperseded)
			return
		}
		s.observer.OnLocalStream(e.stream)
		s.reply(a, s.makeAnswer(e.stream))
	}
}

func (s *Session) makeOffer(stream *media.Stream) error {
	if err := s.connect(stream); err != nil {
		return err
	}
	offer, err := s.conn.Offer()
	if err != nil {
		s.log.Error(err, "create offer", "attempt", s.attempt)
		s.closeConnection()
		return fmt.Errorf("create offer: %w", err)
	}
	s.send(signaling.NewOffer(s.self, offer.SDP))
	s.setPhase(OfferPending)
	return nil
}

func (s *Session) makeAnswer(stream *media.Stream) error {
	if err := s.connect(stream); err != nil {
		return err
	}
	answer, err := s.conn.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.remoteOffer})
	if err != nil {
		s.log.Error(err, "answer offer", "attempt", s.attempt)
		s.closeConnection()
		return fmt.Errorf("answer offer: %w", err)
	}
	s.send(signaling.NewAnswer(s.self, answer.SDP))
	s.remoteOffer = ""
	s.setPhase(Connected)
	return nil
}

// connect creates the peer connection of the current attempt and attaches
// the local tracks to it.
func (s *Session) connect(stream *media.Stream) error {
	if s.conn != nil {
		return nil
	}
	s.connID++
	id := s.connID
	conn, err := s.factory.NewConnection(ConnectionHandlers{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			s.box.push(localCandidateEvent{connID: id, candidate: c})
		},
		OnTrack: func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			s.box.push(remoteTrackEvent{connID: id, track: track})
		},
		OnStateChange: func(state webrtc.PeerConnectionState) {
			s.box.push(connStateEvent{connID: id, state: state})
		},
	})
	if err != nil {
		s.log.Error(err, "create peer connection", "attempt", s.attempt)
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	s.conn = conn

	for _, t := range stream.Tracks() {
		if err := conn.AddTrack(t); err != nil {
			s.log.Error(err, "attach local track", "attempt", s.attempt, "track", t.ID())
			s.closeConnection()
			return fmt.Errorf("attach track %s: %w", t.ID(), err)
		}
	}
	return nil
}

func (s *Session) closeConnection() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.log.Error(err, "close peer connection", "attempt", s.attempt)
	}
	s.conn = nil
	if s.remote != nil {
		s.remote = nil
		s.observer.OnRemoteStream(nil)
	}
}

// teardown returns the session to Idle: in-flight actions are invalidated,
// the connection is closed and local media is released.
func (s *Session) teardown() {
	s.epoch++
	s.cancelPending(ErrSuperseded)
	s.closeConnection()
	s.media.Release()
	s.remoteOffer = ""
	s.setPhase(Idle)
}

func (s *Session) shutdown() {
	if s.phase.Active() {
		s.send(signaling.NewHangup(s.self))
	}
	s.epoch++
	s.cancelPending(ErrSessionClosed)
	s.closeConnection()
	s.media.Release()
	s.remoteOffer = ""
	s.setPhase(Idle)
	s.log.Info("session closed")
}

func (s *Session) handleInbound(m *signaling.Message) {
	if s.self != "" && m.SenderID == s.self {
		s.log.V(2).Info("ignore own frame", "type", m.Type)
		return
	}
	ev, ok := m.Event()
	if !ok {
		if m.Type.Known() {
			s.log.V(1).Info("drop frame without payload", "type", m.Type, "from", m.SenderID)
		}
		return
	}

	switch e := ev.(type) {
	case signaling.Offer:
		s.onOffer(e)
	case signaling.Answer:
		s.onAnswer(e)
	case signaling.Candidate:
		s.onCandidate(e)
	case signaling.Hangup:
		s.onHangup(e)
	default:
		s.log.V(1).Info("ignore frame", "type", m.Type)
	}
}

func (s *Session) onOffer(e signaling.Offer) {
	switch s.phase {
	case Connected:
		s.log.Info("ignore offer while connected", "from", e.From)
		return
	case OfferPending:
		s.log.Info("incoming offer replaces outgoing call", "attempt", s.attempt, "from", e.From)
		s.closeConnection()
	case Idle:
		s.attempt = cuid.New()
	}

	kinds, err := describeSDP(e.SDP)
	if err != nil {
		s.log.Info("buffering unparsable offer", "attempt", s.attempt, "from", e.From, "err", err.Error())
	}
	s.log.Info("incoming call", "attempt", s.attempt, "from", e.From, "media", kinds)
	s.remoteOffer = e.SDP
	s.setPhase(AnswerPending)
}

func (s *Session) onAnswer(e signaling.Answer) {
	if s.phase != OfferPending || s.conn == nil {
		s.log.V(1).Info("ignore answer", "phase", s.phase, "from", e.From)
		return
	}
	err := s.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: e.SDP})
	if err != nil {
		s.log.Error(err, "apply remote answer", "attempt", s.attempt, "from", e.From)
		return
	}
	s.setPhase(Connected)
}

func (s *Session) onCandidate(e signaling.Candidate) {
	if s.conn == nil {
		s.log.V(1).Info("drop ice candidate, no connection", "phase", s.phase, "from", e.From)
		return
	}
	if err := s.conn.AddICECandidate(e.Candidate); err != nil {
		s.log.Error(err, "add remote ice candidate", "attempt", s.attempt)
	}
}

func (s *Session) onHangup(e signaling.Hangup) {
	switch s.phase {
	case Idle:
		return
	case AnswerPending:
		if _, held := s.media.Stream(); !held && s.conn == nil {
			s.log.Info("caller withdrew", "attempt", s.attempt, "from", e.From)
			s.epoch++
			if s.pending != nil {
				s.cancelPending(ErrSuperseded)
				s.media.Release()
			}
			s.remoteOffer = ""
			s.setPhase(Idle)
			return
		}
	}
	s.log.Info("remote hangup", "attempt", s.attempt, "from", e.From)
	s.teardown()
}

func (s *Session) handleRemoteTrack(e remoteTrackEvent) {
	if e.connID != s.connID || s.conn == nil {
		return
	}
	if s.remote == nil {
		s.remote = newRemoteStream(e.track.StreamID(), s.attempt, s.conn)
		s.observer.OnRemoteStream(s.remote)
	}
	s.remote.add(e.track)
	s.observer.OnRemoteTrack(s.remote, e.track)
}

func (s *Session) setPhase(p Phase) {
	if s.phase == p {
		return
	}
	s.log.V(1).Info("phase", "attempt", s.attempt, "from", s.phase, "to", p)
	s.phase = p
	s.observer.OnPhase(p)
}

func (s *Session) send(m *signaling.Message) {
	if s.signal == nil {
		return
	}
	s.signal.Send(m)
}
