package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomcall/roomcall/pkg/signaling"
)

const secret = "relay-secret"

func token(t *testing.T, userID interface{}) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID}).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

type testRelay struct {
	*Server
	http *httptest.Server
}

func newTestRelay(t *testing.T, cfg Config) *testRelay {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = secret
	}
	s, err := NewServer(cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	hs := httptest.NewServer(s)
	t.Cleanup(func() {
		s.Close()
		hs.Close()
	})
	return &testRelay{Server: s, http: hs}
}

func (r *testRelay) url(room, tok string) string {
	return signaling.RoomURL("ws"+strings.TrimPrefix(r.http.URL, "http"), room, tok)
}

func (r *testRelay) dial(t *testing.T, room, tok string) *websocket.Conn {
	t.Helper()
	before := r.Members(room)
	conn, _, err := websocket.DefaultDialer.Dial(r.url(room, tok), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return r.Members(room) == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestRoomFromPath(t *testing.T) {
	tests := []struct {
		path string
		room string
		ok   bool
	}{
		{path: "/ws/chat/7/", room: "7", ok: true},
		{path: "/ws/chat/7", room: "7", ok: true},
		{path: "/ws/chat//"},
		{path: "/ws/chat/a/b/"},
		{path: "/other/7/"},
	}
	for _, tt := range tests {
		room, ok := roomFromPath(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.room, room, tt.path)
	}
}

func TestNewServerNeedsSecret(t *testing.T) {
	_, err := NewServer(Config{}, nil)
	assert.Error(t, err)
}

func TestFanOutIncludesSender(t *testing.T) {
	r := newTestRelay(t, Config{})
	a := r.dial(t, "7", token(t, 10))
	b := r.dial(t, "7", token(t, 20))

	require.NoError(t, a.WriteJSON(map[string]interface{}{"type": "webrtc-offer", "sdp": "v=0"}))

	for _, conn := range []*websocket.Conn{a, b} {
		m := readFrame(t, conn)
		assert.Equal(t, "webrtc-offer", m["type"])
		assert.Equal(t, "v=0", m["sdp"])
		assert.Equal(t, "10", m["sender_id"])
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.relayed.WithLabelValues("webrtc-offer")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.clients))
}

func TestKeepsProvidedSenderID(t *testing.T) {
	r := newTestRelay(t, Config{})
	a := r.dial(t, "7", token(t, 10))

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"webrtc-hangup","sender_id":99}`)))
	m := readFrame(t, a)
	assert.Equal(t, 99.0, m["sender_id"])
}

func TestIgnoresOtherFrames(t *testing.T) {
	r := newTestRelay(t, Config{})
	a := r.dial(t, "7", token(t, 10))
	b := r.dial(t, "7", token(t, 20))

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"content":"hello"}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte{1, 2}))
	require.NoError(t, a.WriteJSON(signaling.NewHangup("")))

	m := readFrame(t, b)
	assert.Equal(t, "webrtc-hangup", m["type"])
	assert.Equal(t, "10", m["sender_id"])
}

func TestRoomsAreIsolated(t *testing.T) {
	r := newTestRelay(t, Config{})
	a := r.dial(t, "7", token(t, 10))
	other := r.dial(t, "8", token(t, 30))

	require.NoError(t, a.WriteJSON(signaling.NewOffer("", "v=0")))
	readFrame(t, a)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)
	var ne interface{ Timeout() bool }
	if assert.ErrorAs(t, err, &ne) {
		assert.True(t, ne.Timeout())
	}
}

func TestRejectsBadToken(t *testing.T) {
	r := newTestRelay(t, Config{})

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		conn, _, err := websocket.DefaultDialer.Dial(r.url("7", tok), nil)
		require.NoError(t, err)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, CloseUnauthorized), "token %q: %v", tok, err)
		_ = conn.Close()
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(r.metrics.rejected.WithLabelValues("unauthorized")))
	assert.Equal(t, 0, r.Rooms())
}

func TestNotFound(t *testing.T) {
	r := newTestRelay(t, Config{})
	resp, err := http.Get(r.http.URL + "/elsewhere")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEmptyRoomIsReaped(t *testing.T) {
	r := newTestRelay(t, Config{ReapDelay: 20 * time.Millisecond})
	a := r.dial(t, "7", token(t, 10))
	assert.Equal(t, 1, r.Rooms())

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return r.Rooms() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.metrics.clients))
}

func TestRejoinBeforeReap(t *testing.T) {
	r := newTestRelay(t, Config{ReapDelay: 50 * time.Millisecond})
	a := r.dial(t, "7", token(t, 10))
	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return r.Members("7") == 0 }, time.Second, 5*time.Millisecond)

	b := r.dial(t, "7", token(t, 20))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, r.Rooms())

	require.NoError(t, b.WriteJSON(signaling.NewHangup("")))
	assert.Equal(t, "webrtc-hangup", readFrame(t, b)["type"])
}

func TestCloseDisconnectsClients(t *testing.T) {
	r := newTestRelay(t, Config{})
	a := r.dial(t, "7", token(t, 10))

	r.Server.Close()
	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

// Two signaling channels talking through the relay see each other's frames
// and their own echo.
func TestChannelsThroughRelay(t *testing.T) {
	r := newTestRelay(t, Config{})
	base := "ws" + strings.TrimPrefix(r.http.URL, "http")

	open := func(tok string) (*signaling.Channel, chan *signaling.Message) {
		got := make(chan *signaling.Message, 8)
		opened := make(chan struct{})
		ch := signaling.Open(signaling.Config{URL: base}, "room-1", tok, signaling.Handlers{
			OnOpen:    func() { close(opened) },
			OnMessage: func(m *signaling.Message) { got <- m },
		})
		t.Cleanup(ch.Close)
		select {
		case <-opened:
		case <-time.After(2 * time.Second):
			t.Fatal("channel did not open")
		}
		return ch, got
	}

	a, fromA := open(token(t, 1))
	_, fromB := open(token(t, 2))
	require.Eventually(t, func() bool { return r.Members("room-1") == 2 }, time.Second, 5*time.Millisecond)

	a.Send(signaling.NewOffer("", "v=0"))
	for _, got := range []chan *signaling.Message{fromA, fromB} {
		select {
		case m := <-got:
			assert.Equal(t, signaling.TypeOffer, m.Type)
			assert.Equal(t, signaling.ParticipantID("1"), m.SenderID)
		case <-time.After(2 * time.Second):
			t.Fatal("offer not relayed")
		}
	}
}
