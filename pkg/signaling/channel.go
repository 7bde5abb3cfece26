// Package signaling carries negotiation messages between the members of a
// room over one websocket to the relay.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/roomcall/roomcall/pkg/logger"
)

// Logger is the package logger, replaced by the binaries at startup.
var Logger logr.Logger = logger.New().WithName("signaling")

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

// State of a Channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config for relay connections.
type Config struct {
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshaketimeout"`
	WriteTimeout     time.Duration `mapstructure:"writetimeout"`
	// PingInterval enables keepalive pings when positive. The read deadline
	// is twice the interval.
	PingInterval time.Duration `mapstructure:"pinginterval"`
}

// Handlers are the lifecycle callbacks of a Channel. All of them are
// informational; none of them triggers a reconnect.
type Handlers struct {
	// OnOpen fires once per successful connection.
	OnOpen func()
	// OnMessage fires once per inbound frame that parses as JSON, in
	// arrival order, from a single goroutine.
	OnMessage func(*Message)
	// OnClose fires once when the channel ends. reason is nil after Close.
	OnClose func(reason error)
	// OnError reports dial and read failures.
	OnError func(err error)
}

// Channel is one room-scoped connection to the relay.
type Channel struct {
	url string
	cfg Config
	h   Handlers

	state  int32
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

// RoomURL builds {base}/ws/chat/{roomID}/?token={credential}.
func RoomURL(base, roomID, credential string) string {
	return strings.TrimRight(base, "/") + "/ws/chat/" + url.PathEscape(roomID) + "/?token=" + url.QueryEscape(credential)
}

// Open starts connecting to the relay for roomID in the background and
// returns immediately. Frames sent before OnOpen are dropped.
func Open(cfg Config, roomID, credential string, h Handlers) *Channel {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		url:    RoomURL(cfg.URL, roomID, credential),
		cfg:    cfg,
		h:      h,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// Done is closed after OnClose has returned.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Send marshals v and writes it as one text frame. Frames are dropped
// unless the channel is open; nothing is queued or retried.
func (c *Channel) Send(v interface{}) {
	if c.State() != StateOpen {
		Logger.V(1).Info("drop outbound frame, channel not open", "state", c.State())
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		Logger.Error(err, "marshal outbound frame")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.State() != StateOpen {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		Logger.Error(err, "write frame")
	}
}

// Close ends the channel. It is safe to call at any time, any number of times.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		atomic.StoreInt32(&c.state, int32(StateClosed))
		if c.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
}

func (c *Channel) run() {
	defer close(c.done)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		atomic.StoreInt32(&c.state, int32(StateClosed))
		if c.ctx.Err() != nil {
			c.finish(nil)
			return
		}
		Logger.Error(err, "dial relay")
		c.fail(err)
		c.finish(err)
		return
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		c.finish(nil)
		return
	}
	c.conn = conn
	atomic.StoreInt32(&c.state, int32(StateOpen))
	c.mu.Unlock()

	Logger.Info("relay connected")
	if c.h.OnOpen != nil {
		c.h.OnOpen()
	}

	if c.cfg.PingInterval > 0 {
		go c.keepalive(conn)
	}
	reason := c.readLoop(conn)

	c.mu.Lock()
	atomic.StoreInt32(&c.state, int32(StateClosed))
	_ = conn.Close()
	c.mu.Unlock()
	c.cancel()
	c.finish(reason)
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	if c.cfg.PingInterval > 0 {
		wait := 2 * c.cfg.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.fail(err)
			}
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			Logger.V(1).Info("discard unparsable frame", "err", err.Error())
			continue
		}
		if c.h.OnMessage != nil {
			c.h.OnMessage(&msg)
		}
	}
}

func (c *Channel) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					Logger.V(1).Info("ping failed", "err", err.Error())
				}
				return
			}
		}
	}
}

func (c *Channel) fail(err error) {
	if c.h.OnError != nil {
		c.h.OnError(err)
	}
}

func (c *Channel) finish(reason error) {
	Logger.V(1).Info("relay channel closed", "reason", reason)
	if c.h.OnClose != nil {
		c.h.OnClose(reason)
	}
}
