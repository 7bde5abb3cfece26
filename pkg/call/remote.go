package call

import (
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

// RemoteStream collects the tracks the remote party sends on one connection.
type RemoteStream struct {
	id      string
	attempt string
	conn    Connection

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func newRemoteStream(id, attempt string, conn Connection) *RemoteStream {
	return &RemoteStream{id: id, attempt: attempt, conn: conn}
}

// ID is the remote media stream id.
func (r *RemoteStream) ID() string { return r.id }

// Attempt is the id of the call attempt the stream belongs to.
func (r *RemoteStream) Attempt() string { return r.attempt }

// Tracks returns a copy of the tracks received so far.
func (r *RemoteStream) Tracks() []*webrtc.TrackRemote {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(r.tracks))
	copy(out, r.tracks)
	return out
}

// WriteRTCP sends feedback for the stream's tracks, e.g. picture loss
// indications. It fails once the connection is closed.
func (r *RemoteStream) WriteRTCP(pkts []rtcp.Packet) error {
	return r.conn.WriteRTCP(pkts)
}

func (r *RemoteStream) add(t *webrtc.TrackRemote) {
	r.mu.Lock()
	r.tracks = append(r.tracks, t)
	r.mu.Unlock()
}
