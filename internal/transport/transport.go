// Package transport owns the WebSocket control channel: dialing, the
// single-writer outbound frame queue, and the inbound frame stream.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/tunlfit/agent/internal/reconnect"
	"github.com/tunlfit/agent/pkg/protocol"
)

const (
	// ConnectPath is the control channel's endpoint path under serverUrl.
	ConnectPath = "/agent"

	// HandshakeTimeout is the initial dial timeout.
	HandshakeTimeout = 60 * time.Second

	// outboundQueueSize bounds the single-writer frame queue. A tunnel
	// session issues two frames per request (RESPONSE and REQUEST_LOG) plus periodic
	// heartbeat/probe frames, so this is generous headroom.
	outboundQueueSize = 256
)

// Channel wraps a single WebSocket connection. All writes go through one
// goroutine draining an outbound queue, so callers never race on the
// underlying socket — generalized from the teacher's write-mutex pattern
// to a buffered channel of frames instead of a mutex around raw bytes.
type Channel struct {
	conn *websocket.Conn

	outbound chan []byte
	inbound  chan protocol.Decoded
	errs     chan error

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the control channel to serverURL, converting http(s) to
// ws(s) and attaching the bearer Authorization header. Reconnection is
// not handled here — the caller (the reconnection supervisor) redials on
// failure.
func Dial(ctx context.Context, serverURL, authorizationHeader, requestedSubdomain string) (*Channel, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = ConnectPath
	if requestedSubdomain != "" {
		q := u.Query()
		q.Set("subdomain", requestedSubdomain)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: HandshakeTimeout}
	header := http.Header{}
	if authorizationHeader != "" {
		header.Set("Authorization", authorizationHeader)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: authentication failed", reconnect.ErrServer)
		}
		return nil, fmt.Errorf("%w: %v", reconnect.ErrTransport, err)
	}

	ch := &Channel{
		conn:     conn,
		outbound: make(chan []byte, outboundQueueSize),
		inbound:  make(chan protocol.Decoded, outboundQueueSize),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
	go ch.writeLoop()
	go ch.readLoop()
	return ch, nil
}

// Send enqueues a frame for the single writer goroutine. It never blocks
// the caller on network I/O.
func (c *Channel) Send(t protocol.FrameType, payload any) error {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		return fmt.Errorf("%w: encoding %s frame: %v", reconnect.ErrProtocol, t, err)
	}
	select {
	case c.outbound <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: channel closed", reconnect.ErrTransport)
	}
}

// Inbound returns the channel of decoded frames read from the socket.
func (c *Channel) Inbound() <-chan protocol.Decoded {
	return c.inbound
}

// Errors returns the channel on which a single terminal transport error is
// delivered when the control channel drops.
func (c *Channel) Errors() <-chan error {
	return c.errs
}

// Close tears down the control channel. Safe to call multiple times.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) writeLoop() {
	for {
		select {
		case data := <-c.outbound:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(fmt.Errorf("%w: writing frame: %v", reconnect.ErrTransport, err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Channel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("%w: reading frame: %v", reconnect.ErrTransport, err))
			return
		}
		decoded, err := protocol.Decode(data)
		if err != nil {
			// A malformed or unrecognized frame is dropped, not fatal: per
			// spec the channel stays open and only the bad frame is lost.
			log.Warn("transport: dropping unparseable frame", "error", err)
			continue
		}
		select {
		case c.inbound <- decoded:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) fail(err error) {
	select {
	case c.errs <- err:
	default:
	}
	c.Close()
}
