package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pion/webrtc/v3"

	"github.com/roomcall/roomcall/pkg/call"
	"github.com/roomcall/roomcall/pkg/media"
	"github.com/roomcall/roomcall/pkg/sink"
)

// newObserver prints call progress, records remote tracks when rec is set
// and answers incoming calls when autoAnswer is on. session is read only
// from callbacks, after NewSession returned.
func newObserver(ctx context.Context, session **call.Session, rec *sink.Recorder, autoAnswer bool) call.Observer {
	return call.ObserverFuncs{
		Phase: func(p call.Phase) {
			fmt.Fprintf(os.Stdout, "* %s\n", p)
			if p == call.AnswerPending && autoAnswer {
				s := *session
				go func() {
					if err := s.Answer(ctx); err != nil {
						logger.Error(err, "auto answer")
					}
				}()
			}
		},
		LocalStream: func(s *media.Stream) {
			logger.V(1).Info("local stream ready", "stream_id", s.ID(), "tracks", len(s.Tracks()))
		},
		RemoteStream: func(r *call.RemoteStream) {
			if r == nil {
				fmt.Fprintln(os.Stdout, "* remote stream ended")
				return
			}
			fmt.Fprintf(os.Stdout, "* remote stream %s\n", r.ID())
		},
		RemoteTrack: func(r *call.RemoteStream, track *webrtc.TrackRemote) {
			logger.Info("remote track", "kind", track.Kind(), "codec", track.Codec().MimeType)
			if rec == nil {
				return
			}
			if err := rec.Record(r.Attempt(), r, track); err != nil {
				logger.Error(err, "record remote track", "track_id", track.ID())
			}
		},
		ConnectionState: func(state webrtc.PeerConnectionState) {
			fmt.Fprintf(os.Stdout, "* connection %s\n", state)
		},
		Transport: func(st call.TransportStatus) {
			fmt.Fprintf(os.Stdout, "* relay %s\n", st)
		},
	}
}
