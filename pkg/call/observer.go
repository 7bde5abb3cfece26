package call

import (
	"github.com/pion/webrtc/v3"

	"github.com/roomcall/roomcall/pkg/media"
)

// TransportStatus describes the signaling channel as last reported to the
// session. It never changes the phase.
type TransportStatus struct {
	Open bool
	Err  error
}

func (t TransportStatus) String() string {
	switch {
	case t.Open:
		return "open"
	case t.Err != nil:
		return "error: " + t.Err.Error()
	}
	return "closed"
}

// Observer is the presentation side of a Session. Calls come from the
// session loop one at a time and must not block or call back into the
// session's blocking actions.
type Observer interface {
	OnPhase(p Phase)
	OnLocalStream(s *media.Stream)
	// OnRemoteStream reports a new remote stream, or nil once it is cleared.
	OnRemoteStream(r *RemoteStream)
	OnRemoteTrack(r *RemoteStream, track *webrtc.TrackRemote)
	OnConnectionState(state webrtc.PeerConnectionState)
	OnTransport(status TransportStatus)
}

// ObserverFuncs is an Observer made of optional funcs.
type ObserverFuncs struct {
	Phase           func(p Phase)
	LocalStream     func(s *media.Stream)
	RemoteStream    func(r *RemoteStream)
	RemoteTrack     func(r *RemoteStream, track *webrtc.TrackRemote)
	ConnectionState func(state webrtc.PeerConnectionState)
	Transport       func(status TransportStatus)
}

func (o ObserverFuncs) OnPhase(p Phase) {
	if o.Phase != nil {
		o.Phase(p)
	}
}

func (o ObserverFuncs) OnLocalStream(s *media.Stream) {
	if o.LocalStream != nil {
		o.LocalStream(s)
	}
}

func (o ObserverFuncs) OnRemoteStream(r *RemoteStream) {
	if o.RemoteStream != nil {
		o.RemoteStream(r)
	}
}

func (o ObserverFuncs) OnRemoteTrack(r *RemoteStream, track *webrtc.TrackRemote) {
	if o.RemoteTrack != nil {
		o.RemoteTrack(r, track)
	}
}

func (o ObserverFuncs) OnConnectionState(state webrtc.PeerConnectionState) {
	if o.ConnectionState != nil {
		o.ConnectionState(state)
	}
}

func (o ObserverFuncs) OnTransport(status TransportStatus) {
	if o.Transport != nil {
		o.Transport(status)
	}
}
