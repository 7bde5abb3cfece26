package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v3"
)

// Type tags a relayed signaling frame.
type Type string

const (
	TypeOffer     Type = "webrtc-offer"
	TypeAnswer    Type = "webrtc-answer"
	TypeCandidate Type = "webrtc-ice-candidate"
	TypeHangup    Type = "webrtc-hangup"
)

// Known reports whether t is one of the four negotiation kinds.
func (t Type) Known() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeHangup:
		return true
	}
	return false
}

var errBadParticipantID = errors.New("sender_id must be a string or a number")

// ParticipantID identifies a room member. The relay may put either a JSON
// string or a JSON number on the wire; both decode to the same decimal text.
type ParticipantID string

// UnmarshalJSON accepts strings, numbers and null.
func (p *ParticipantID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*p = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ParticipantID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errBadParticipantID
	}
	id, ok := ParseParticipantID(n)
	if !ok {
		return errBadParticipantID
	}
	*p = id
	return nil
}

// ParseParticipantID normalizes a decoded claim or field into a ParticipantID.
// Empty strings and zero numbers count as absent.
func ParseParticipantID(v interface{}) (ParticipantID, bool) {
	switch t := v.(type) {
	case string:
		return ParticipantID(t), t != ""
	case ParticipantID:
		return t, t != ""
	case json.Number:
		return parseNumber(string(t))
	case float64:
		return parseNumber(strconv.FormatFloat(t, 'f', -1, 64))
	case int:
		return parseNumber(strconv.Itoa(t))
	case int64:
		return parseNumber(strconv.FormatInt(t, 10))
	}
	return "", false
}

func parseNumber(s string) (ParticipantID, bool) {
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return "", false
		}
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "", false
	}
	if strings.Trim(s, "-0") == "" {
		return "", false
	}
	return ParticipantID(s), true
}

// Message is one relayed frame. The relay shares its socket with chat
// traffic, so frames without a known Type are carried but never acted on.
type Message struct {
	Type      Type                     `json:"type,omitempty"`
	SenderID  ParticipantID            `json:"sender_id,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Event converts a frame into its typed form. It returns false for unknown
// tags and for known tags missing their payload.
func (m *Message) Event() (Event, bool) {
	if m == nil {
		return nil, false
	}
	switch m.Type {
	case TypeOffer:
		if m.SDP == "" {
			return nil, false
		}
		return Offer{From: m.SenderID, SDP: m.SDP}, true
	case TypeAnswer:
		if m.SDP == "" {
			return nil, false
		}
		return Answer{From: m.SenderID, SDP: m.SDP}, true
	case TypeCandidate:
		if m.Candidate == nil {
			return nil, false
		}
		return Candidate{From: m.SenderID, Candidate: *m.Candidate}, true
	case TypeHangup:
		return Hangup{From: m.SenderID}, true
	default:
		return nil, false
	}
}

// Event is the closed set of negotiation messages: Offer, Answer, Candidate
// and Hangup. Consumers switch on the concrete type.
type Event interface {
	Sender() ParticipantID
	event()
}

// Offer carries the caller's session description.
type Offer struct {
	From ParticipantID
	SDP  string
}

// Answer carries the callee's session description.
type Answer struct {
	From ParticipantID
	SDP  string
}

// Candidate carries one trickled ICE candidate.
type Candidate struct {
	From      ParticipantID
	Candidate webrtc.ICECandidateInit
}

// Hangup ends or withdraws a call.
type Hangup struct {
	From ParticipantID
}

func (e Offer) Sender() ParticipantID     { return e.From }
func (e Answer) Sender() ParticipantID    { return e.From }
func (e Candidate) Sender() ParticipantID { return e.From }
func (e Hangup) Sender() ParticipantID    { return e.From }

func (Offer) event()     {}
func (Answer) event()    {}
func (Candidate) event() {}
func (Hangup) event()    {}

// NewOffer builds an outbound offer frame.
func NewOffer(sender ParticipantID, sdp string) *Message {
	return &Message{Type: TypeOffer, SenderID: sender, SDP: sdp}
}

// NewAnswer builds an outbound answer frame.
func NewAnswer(sender ParticipantID, sdp string) *Message {
	return &Message{Type: TypeAnswer, SenderID: sender, SDP: sdp}
}

// NewCandidate builds an outbound trickle frame.
func NewCandidate(sender ParticipantID, c webrtc.ICECandidateInit) *Message {
	return &Message{Type: TypeCandidate, SenderID: sender, Candidate: &c}
}

// NewHangup builds an outbound hangup frame.
func NewHangup(sender ParticipantID) *Message {
	return &Message{Type: TypeHangup, SenderID: sender}
}
