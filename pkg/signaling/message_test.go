package signaling

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticipantIDUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ParticipantID
		wantErr bool
	}{
		{name: "string", raw: `"alice"`, want: "alice"},
		{name: "integer", raw: `42`, want: "42"},
		{name: "float integral", raw: `42.0`, want: "42"},
		{name: "exponent", raw: `1e3`, want: "1000"},
		{name: "null", raw: `null`, want: ""},
		{name: "bool", raw: `true`, wantErr: true},
		{name: "object", raw: `{"id":1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ParticipantID
			err := json.Unmarshal([]byte(tt.raw), &id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestParseParticipantID(t *testing.T) {
	id, ok := ParseParticipantID(float64(7))
	assert.True(t, ok)
	assert.Equal(t, ParticipantID("7"), id)

	id, ok = ParseParticipantID(json.Number("12"))
	assert.True(t, ok)
	assert.Equal(t, ParticipantID("12"), id)

	_, ok = ParseParticipantID("")
	assert.False(t, ok)
	_, ok = ParseParticipantID(0)
	assert.False(t, ok)
	_, ok = ParseParticipantID([]string{"x"})
	assert.False(t, ok)
}

func TestMessageEvent(t *testing.T) {
	mline := uint16(0)
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMLineIndex: &mline}

	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "offer",
			raw:  `{"type":"webrtc-offer","sender_id":3,"sdp":"v=0"}`,
			want: Offer{From: "3", SDP: "v=0"},
		},
		{
			name: "answer",
			raw:  `{"type":"webrtc-answer","sender_id":"3","sdp":"v=0"}`,
			want: Answer{From: "3", SDP: "v=0"},
		},
		{
			name: "candidate",
			raw:  `{"type":"webrtc-ice-candidate","sender_id":3,"candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMLineIndex":0}}`,
			want: Candidate{From: "3", Candidate: cand},
		},
		{
			name: "hangup without sender",
			raw:  `{"type":"webrtc-hangup"}`,
			want: Hangup{},
		},
		{name: "offer without sdp", raw: `{"type":"webrtc-offer","sender_id":3}`},
		{name: "candidate without payload", raw: `{"type":"webrtc-ice-candidate","sender_id":3}`},
		{name: "chat frame", raw: `{"message":"hi","sender_id":3}`},
		{name: "unknown type", raw: `{"type":"webrtc-renegotiate","sender_id":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &m))
			ev, ok := m.Event()
			if tt.want == nil {
				assert.False(t, ok)
				assert.Nil(t, ev)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestOutboundFrames(t *testing.T) {
	b, err := json.Marshal(NewHangup("5"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"webrtc-hangup","sender_id":"5"}`, string(b))

	b, err = json.Marshal(NewOffer("5", "v=0"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"webrtc-offer","sender_id":"5","sdp":"v=0"}`, string(b))

	b, err = json.Marshal(NewCandidate("5", webrtc.ICECandidateInit{Candidate: "candidate:x"}))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"webrtc-ice-candidate"`)
	assert.Contains(t, string(b), `"candidate":"candidate:x"`)
}

func TestTypeKnown(t *testing.T) {
	assert.True(t, TypeOffer.Known())
	assert.True(t, TypeHangup.Known())
	assert.False(t, Type("chat").Known())
	assert.False(t, Type("").Known())
}
