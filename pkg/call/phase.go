package call

// Phase is the state tag of a Session.
type Phase int

const (
	// Idle has no connection and no buffered offer.
	Idle Phase = iota
	// OfferPending has sent a local offer and waits for the answer.
	OfferPending
	// AnswerPending holds an incoming offer until the user answers or declines.
	AnswerPending
	// Connected has exchanged offer and answer.
	Connected
)

// String returns the name shown to the user.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case OfferPending:
		return "ringing-out"
	case AnswerPending:
		return "ringing-in"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// Active reports whether a call is in flight from the local side's point
// of view, meaning a hangup must be sent to end it.
func (p Phase) Active() bool {
	return p == OfferPending || p == Connected
}
