package call

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

// Connection is the peer connection of one call attempt.
type Connection interface {
	AddTrack(track webrtc.TrackLocal) error
	// Offer creates an offer and applies it as the local description.
	Offer() (webrtc.SessionDescription, error)
	// Answer applies offer as the remote description, then creates an
	// answer and applies it as the local description.
	Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// AddICECandidate adds a remote candidate. Candidates that arrive before
	// the remote description are held and added right after it is applied.
	AddICECandidate(c webrtc.ICECandidateInit) error
	WriteRTCP(pkts []rtcp.Packet) error
	// Close stops all senders and closes the connection.
	Close() error
}

// ConnectionHandlers receive the connection's events. They are called from
// pion's goroutines.
type ConnectionHandlers struct {
	OnICECandidate func(c webrtc.ICECandidateInit)
	OnTrack        func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	OnStateChange  func(state webrtc.PeerConnectionState)
}

// ConnectionFactory creates connections for a Session.
type ConnectionFactory interface {
	NewConnection(h ConnectionHandlers) (Connection, error)
}

type pionFactory struct {
	tc TransportConfig
}

// NewConnectionFactory returns a factory building pion peer connections with
// the default interceptors (NACK, RTCP reports, TWCC).
func NewConnectionFactory(tc TransportConfig) ConnectionFactory {
	return &pionFactory{tc: tc}
}

func (f *pionFactory) NewConnection(h ConnectionHandlers) (Connection, error) {
	me := &webrtc.MediaEngine{}
	codecs := f.tc.Codecs
	if codecs == nil {
		codecs = func(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() }
	}
	if err := codecs(me); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(f.tc.Setting),
	)
	pc, err := api.NewPeerConnection(f.tc.Configuration)
	if err != nil {
		return nil, err
	}

	c := &peerConnection{pc: pc}
	pc.OnICECandidate(func(ic *webrtc.ICECandidate) {
		if ic == nil || h.OnICECandidate == nil {
			return
		}
		h.OnICECandidate(ic.ToJSON())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		Logger.V(1).Info("got remote track",
			"track_id", track.ID(),
			"mediaSSRC", track.SSRC(),
			"stream_id", track.StreamID(),
			"codec", track.Codec().MimeType,
		)
		if h.OnTrack != nil {
			h.OnTrack(track, receiver)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		Logger.V(1).Info("peer connection state", "state", state)
		if h.OnStateChange != nil {
			h.OnStateChange(state)
		}
	})
	return c, nil
}

type peerConnection struct {
	pc *webrtc.PeerConnection

	mu         sync.Mutex
	remoteSet  bool
	candidates []webrtc.ICECandidateInit

	closeOnce sync.Once
}

func (c *peerConnection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	// Drain RTCP so the interceptors see receiver reports.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *peerConnection) Offer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *peerConnection) Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *peerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	c.mu.Lock()
	c.remoteSet = true
	pending := c.candidates
	c.candidates = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			Logger.Error(err, "add queued ice candidate")
		}
	}
	return nil
}

func (c *peerConnection) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.candidates = append(c.candidates, cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(cand)
}

func (c *peerConnection) WriteRTCP(pkts []rtcp.Packet) error {
	return c.pc.WriteRTCP(pkts)
}

func (c *peerConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for _, sender := range c.pc.GetSenders() {
			if serr := sender.Stop(); serr != nil {
				Logger.V(1).Info("stop sender", "err", serr.Error())
			}
		}
		err = c.pc.Close()
	})
	return err
}
