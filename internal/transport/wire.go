package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	neturl "net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// WebSocketDialer dials the console's WebSocket API.
//
// The endpoint is the base URL including protocol and port, excluding the
// /api/ws suffix. http/https are automatically converted to ws/wss, and
// basic-auth credentials embedded in the URL become an Authorization
// header.
type WebSocketDialer struct {
	// Token to authenticate with the console, if it requires one.
	Token string

	// InsecureTLS disables TLS certificate verification.
	InsecureTLS bool

	// HandshakeTimeout bounds the WebSocket handshake. Zero uses the
	// gorilla default.
	HandshakeTimeout time.Duration
}

// Dial establishes and authenticates one connection.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	u, err := neturl.Parse(endpoint + "/api/ws")
	if err != nil {
		return nil, &ConnectError{Kind: ConnectUnreachable, Err: err}
	}

	// Change scheme to WS
	if u.Scheme == "http" {
		u.Scheme = "ws"
	} else if u.Scheme == "https" {
		u.Scheme = "wss"
	}

	authHeader := http.Header{}

	// If user/password is given, create basic auth header, and strip it from URL
	if u.User != nil && u.User.Username() != "" {
		username := u.User.Username()
		password, isset := u.User.Password()
		if isset {
			authHeader.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
		}
		u.User = nil
	}

	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: d.InsecureTLS}
	if d.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = d.HandshakeTimeout
	}

	c, _, err := dialer.DialContext(ctx, u.String(), authHeader)
	if err != nil {
		return nil, &ConnectError{Kind: classifyDialError(err), Err: err}
	}

	if d.Token != "" {
		if err := authenticate(c, d.Token); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	wc := &wsConn{
		conn:    c,
		updates: make(chan Update, 64),
		awaited: make(map[string]chan Message),
		done:    make(chan struct{}),
	}
	go wc.readLoop()
	go wc.pingLoop()

	return wc, nil
}

// classifyDialError sorts a dial failure into a ConnectKind.
func classifyDialError(err error) ConnectKind {
	if errors.Is(err, websocket.ErrBadHandshake) {
		return ConnectRejected
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ConnectTimeout
	}
	return ConnectUnreachable
}

// authenticate performs the token handshake on a fresh connection.
func authenticate(c *websocket.Conn, token string) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteJSON(NewAuthRequest(token)); err != nil {
		return &ConnectError{Kind: ConnectUnreachable, Err: err}
	}

	var msg map[string]any
	_ = c.SetReadDeadline(time.Now().Add(writeWait))
	if err := c.ReadJSON(&msg); err != nil {
		return &ConnectError{Kind: ConnectTimeout, Err: err}
	}
	_ = c.SetReadDeadline(time.Time{})

	if msg["method"] != "auth" {
		return &ConnectError{Kind: ConnectRejected, Err: errors.New("unexpected reply to auth request")}
	}
	if msg["success"] != true {
		return &ConnectError{Kind: ConnectRejected, Err: errors.New("authentication failed")}
	}
	return nil
}

// wsConn is the gorilla-backed Conn implementation.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	awaitedMu sync.Mutex
	awaited   map[string]chan Message

	updates   chan Update
	done      chan struct{}
	closeOnce sync.Once
}

// Request sends one request with a fresh message ID and waits for the
// correlated reply.
func (c *wsConn) Request(ctx context.Context, req Request) (Message, error) {
	msgid := uuid.New().String()
	req = req.WithMsgID(msgid)

	replyCh := make(chan Message, 1)
	c.awaitedMu.Lock()
	c.awaited[msgid] = replyCh
	c.awaitedMu.Unlock()

	defer func() {
		c.awaitedMu.Lock()
		delete(c.awaited, msgid)
		c.awaitedMu.Unlock()
	}()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return Message{}, err
	}

	select {
	case reply := <-replyCh:
		if !reply.Success {
			return Message{}, reply.Error
		}
		return reply, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Message{}, ErrReplyTimeout
		}
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, ErrConnectionClosed
	}
}

// Updates returns the raw value-change channel. Closed when the
// connection dies.
func (c *wsConn) Updates() <-chan Update {
	return c.updates
}

// Close tears the connection down. Idempotent.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
		c.writeMu.Unlock()
	})
	return c.conn.Close()
}

// readLoop reads and dispatches incoming messages until the connection
// errors out. It is the only sender on (and closer of) updates.
func (c *wsConn) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.updates)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var raw map[string]any
		if err := c.conn.ReadJSON(&raw); err != nil {
			return
		}

		var m Message
		if err := mapstructure.Decode(raw, &m); err != nil {
			continue
		}

		// Correlated reply?
		if m.MsgID != "" {
			c.awaitedMu.Lock()
			replyCh, ok := c.awaited[m.MsgID]
			c.awaitedMu.Unlock()
			if ok {
				replyCh <- m
			}
		}

		switch m.Method {
		case "get":
			// A tree reply carries its root path as the prefix.
			c.valuesReceived(m.Path, m.Payload)
		case "update":
			c.valuesReceived("", m.Payload)
		}
	}
}

// valuesReceived flattens a payload tree into per-path updates. A reply
// for a subtree reports every leaf under it as a separate update.
func (c *wsConn) valuesReceived(prefix string, value any) {
	var traverse func(path string, value any)
	traverse = func(path string, value any) {
		if data, ok := value.(map[string]any); ok {
			for node, val := range data {
				traverse(joinPath(path, node), val)
			}
			return
		}

		select {
		case c.updates <- Update{Path: path, Value: value}:
		case <-c.done:
		}
	}
	traverse(prefix, value)
}

func joinPath(prefix, node string) string {
	if prefix == "" {
		return node
	}
	return prefix + "." + node
}

// pingLoop keeps the connection alive; a write failure kills it.
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

var _ Dialer = (*WebSocketDialer)(nil)
