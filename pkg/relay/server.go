// Package relay is a development signaling relay. It serves
// /ws/chat/{room}/?token= and fans negotiation frames out to every member of
// the room, the sender included.
package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/lucsky/cuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roomcall/roomcall/pkg/identity"
	"github.com/roomcall/roomcall/pkg/logger"
	"github.com/roomcall/roomcall/pkg/signaling"
)

// Logger is the package logger, replaced by the binaries at startup.
var Logger logr.Logger = logger.New().WithName("relay")

// CloseUnauthorized is sent to clients whose token does not verify.
const CloseUnauthorized = 4401

const (
	defaultReapDelay    = 30 * time.Second
	defaultWriteTimeout = 5 * time.Second
	maxFrameSize        = 1 << 20
	pathPrefix          = "/ws/chat/"
)

// Config of a relay Server.
type Config struct {
	JWTSecret string `mapstructure:"jwtsecret"`
	// ReapDelay is how long an empty room is kept before it is dropped.
	ReapDelay    time.Duration `mapstructure:"reapdelay"`
	WriteTimeout time.Duration `mapstructure:"writetimeout"`
}

// Server is an http.Handler holding the rooms in memory.
type Server struct {
	cfg      Config
	secret   []byte
	upgrader websocket.Upgrader
	metrics  *metrics

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

// NewServer registers the relay metrics on reg when it is not nil.
func NewServer(cfg Config, reg prometheus.Registerer) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, identity.ErrEmptySecret
	}
	if cfg.ReapDelay <= 0 {
		cfg.ReapDelay = defaultReapDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Server{
		cfg:    cfg,
		secret: []byte(cfg.JWTSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: newMetrics(reg),
		rooms:   make(map[string]*room),
	}, nil
}

func roomFromPath(p string) (string, bool) {
	if !strings.HasPrefix(p, pathPrefix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(p, pathPrefix), "/")
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomFromPath(r.URL.Path)
	if !ok {
		s.metrics.rejected.WithLabelValues("not_found").Inc()
		http.NotFound(w, r)
		return
	}
	userID, authErr := identity.Verify(r.URL.Query().Get("token"), s.secret)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.rejected.WithLabelValues("upgrade").Inc()
		Logger.Error(err, "websocket upgrade", "room", roomID)
		return
	}
	if authErr != nil {
		s.metrics.rejected.WithLabelValues("unauthorized").Inc()
		Logger.Info("reject client", "room", roomID, "err", authErr.Error())
		s.closeWith(conn, CloseUnauthorized, "unauthorized")
		return
	}

	c := &client{
		id:           cuid.New(),
		userID:       userID,
		conn:         conn,
		pool:         workerpool.New(1),
		writeTimeout: s.cfg.WriteTimeout,
	}
	rm, ok := s.join(roomID, c)
	if !ok {
		s.closeWith(conn, websocket.CloseGoingAway, "shutting down")
		c.pool.Stop()
		return
	}
	l := Logger.WithValues("room", roomID, "client_id", c.id, "user_id", userID)
	l.Info("client joined", "members", rm.size())

	defer func() {
		s.leave(rm, c)
		c.close()
		l.Info("client left")
	}()

	conn.SetReadLimit(maxFrameSize)
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.Error(err, "read from client")
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		s.relay(rm, c, data, l)
	}
}

// relay fans a negotiation frame out to the room. Frames of any other type
// are ignored. A missing sender_id is filled in from the verified token.
func (s *Server) relay(rm *room, c *client, data []byte, l logr.Logger) {
	var frame map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&frame); err != nil || frame == nil {
		l.V(1).Info("drop unparsable frame", "size", len(data))
		return
	}
	typ, _ := frame["type"].(string)
	if !signaling.Type(typ).Known() {
		l.V(2).Info("ignore frame", "type", typ)
		return
	}
	if _, ok := signaling.ParseParticipantID(frame["sender_id"]); !ok {
		frame["sender_id"] = c.userID
	}
	b, err := json.Marshal(frame)
	if err != nil {
		l.Error(err, "encode frame", "type", typ)
		return
	}
	rm.broadcast(b)
	s.metrics.relayed.WithLabelValues(typ).Inc()
	l.V(1).Info("relayed", "type", typ, "size", len(b))
}

func (s *Server) join(id string, c *client) (*room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	rm, ok := s.rooms[id]
	if !ok {
		rm = newRoom(id, s.cfg.ReapDelay)
		s.rooms[id] = rm
		s.metrics.rooms.Set(float64(len(s.rooms)))
	}
	rm.add(c)
	s.metrics.clients.Inc()
	return rm, true
}

func (s *Server) leave(rm *room, c *client) {
	s.metrics.clients.Dec()
	if !rm.remove(c) {
		return
	}
	rm.reap(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.rooms[rm.id] != rm || !rm.empty() {
			return
		}
		delete(s.rooms, rm.id)
		s.metrics.rooms.Set(float64(len(s.rooms)))
		Logger.V(1).Info("room reaped", "room", rm.id)
	})
}

// Rooms returns the number of rooms held, empty ones awaiting reaping
// included.
func (s *Server) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Members returns the number of clients connected to room id.
func (s *Server) Members(id string) int {
	s.mu.Lock()
	rm, ok := s.rooms[id]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return rm.size()
}

// Close disconnects every client with a going-away close frame and refuses
// new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	var clients []*client
	for _, rm := range s.rooms {
		rm.mu.RLock()
		for _, c := range rm.clients {
			clients = append(clients, c)
		}
		rm.mu.RUnlock()
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.closeWith(c.conn, websocket.CloseGoingAway, "shutting down")
	}
}

func (s *Server) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
	_ = conn.Close()
}
