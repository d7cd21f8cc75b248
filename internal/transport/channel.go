// Package transport adapts a WebSocket connection into the duplex signaling
// channel: ordered text frames in, serialized envelope writes out.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/1ureka/echortc/internal/protocol"
	"github.com/1ureka/echortc/internal/util"
)

const (
	frameBufferSize = 16                    // inbound frames buffered ahead of the consumer
	minPingInterval = 10 * time.Millisecond // floor for very short pong timeouts
)

var (
	// ErrClosed is returned once the channel has been closed locally.
	ErrClosed = errors.New("signaling channel closed")

	// ErrRateLimited is returned when the peer exceeded the inbound message
	// rate; the channel is closed with a policy-violation close code.
	ErrRateLimited = errors.New("signaling rate limit exceeded")
)

// Options tunes a Channel. Zero values disable the corresponding limit.
type Options struct {
	WriteTimeout      time.Duration
	PongTimeout       time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond int
}

// Channel is one signaling connection. Send may be called from any goroutine;
// Next must be called from a single consumer goroutine.
type Channel struct {
	conn    *websocket.Conn
	opts    Options
	limiter *rate.Limiter

	writeMu sync.Mutex

	frames chan []byte

	mu        sync.Mutex
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel wraps conn and starts its reader and keepalive goroutines.
func NewChannel(conn *websocket.Conn, opts Options) *Channel {
	c := &Channel{
		conn:   conn,
		opts:   opts,
		frames: make(chan []byte, frameBufferSize),
		done:   make(chan struct{}),
	}

	if opts.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), opts.MessagesPerSecond)
	}
	if opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(opts.MaxMessageBytes)
	}

	go c.readLoop()
	if opts.PongTimeout > 0 {
		go c.pingLoop()
	}

	return c
}

// RemoteAddr returns the peer's network address.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Send encodes env and writes it as one text frame. Writes are serialized so
// concurrent callers never interleave frames.
func (c *Channel) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return c.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.fail(fmt.Errorf("write %s: %w", env.Type, err))
		return err
	}

	util.Stats.AddSent()
	return nil
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// Next returns the next inbound frame in receipt order. It blocks until a
// frame arrives, the channel closes, or ctx is done. Frames already received
// are delivered before the close error.
func (c *Channel) Next(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.frames:
		return data, nil
	default:
	}

	select {
	case data := <-c.frames:
		return data, nil
	case <-c.done:
		select {
		case data := <-c.frames:
			return data, nil
		default:
			return nil, c.Err()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop is the single reader goroutine. It exits on the first read error.
func (c *Channel) readLoop() {
	if c.opts.PongTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded", ErrRateLimited)
			return
		}
		if c.opts.PongTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
		}

		util.Stats.AddRecv()

		select {
		case c.frames <- data:
		case <-c.done:
			return
		}
	}
}

// pingLoop keeps the connection alive and detects dead peers.
func (c *Channel) pingLoop() {
	ticker := time.NewTicker(pingInterval(c.opts.PongTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout())
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fail(fmt.Errorf("ping: %w", err))
				return
			}
		case <-c.done:
			return
		}
	}
}

// pingInterval leaves a tenth of the pong timeout for the pong to arrive.
func pingInterval(pongTimeout time.Duration) time.Duration {
	if d := pongTimeout * 9 / 10; d > minPingInterval {
		return d
	}
	return minPingInterval
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Done returns a channel that is closed when the channel shuts down.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the channel shut down, or nil while it is open.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a normal close frame and releases the connection. Safe to call
// multiple times.
func (c *Channel) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "", ErrClosed)
	return nil
}

func (c *Channel) closeWith(code int, reason string, cause error) {
	c.closeOnce.Do(func() {
		c.setErr(cause)
		deadline := time.Now().Add(c.writeTimeout())
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.conn.Close()
		close(c.done)
	})
}

// fail shuts the channel down after a read or write error.
func (c *Channel) fail(err error) {
	c.closeOnce.Do(func() {
		c.setErr(err)
		_ = c.conn.Close()
		close(c.done)
	})
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Channel) writeTimeout() time.Duration {
	if c.opts.WriteTimeout > 0 {
		return c.opts.WriteTimeout
	}
	return time.Second
}

// IsNormalClose reports whether err, possibly wrapped, is an orderly close by
// either side.
func IsNormalClose(err error) bool {
	if errors.Is(err, ErrClosed) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return false
}
