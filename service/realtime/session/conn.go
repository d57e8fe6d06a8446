package session

import (
	"context"
	"sync"
	"time"

	"PPRealtime/service/realtime/registry"
	"PPRealtime/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Transport is the subset of *websocket.Conn a session uses. One goroutine
// reads, one writes; Close and WriteControl may be called from anywhere.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Transport = (*websocket.Conn)(nil)

// Conn is the registry-facing side of a session: frames are queued on send
// and written by a single writer goroutine, so a slow socket never blocks a
// fan-out.
type Conn struct {
	id      string
	userID  int64
	created time.Time

	t    Transport
	conf Options
	log  *zap.Logger

	send chan []byte

	closeOnce   sync.Once
	closing     chan struct{}
	closeCode   int
	closeReason string

	done chan struct{} // writer exited
}

func newConn(id string, userID int64, t Transport, conf Options, l *zap.Logger) *Conn {
	return &Conn{
		id:      id,
		userID:  userID,
		created: time.Now(),
		t:       t,
		conf:    conf,
		log:     l.With(zap.Int64("user_id", userID), zap.String("conn_id", id)),
		send:    make(chan []byte, conf.SendQueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *Conn) ID() string           { return c.id }
func (c *Conn) UserID() int64        { return c.userID }
func (c *Conn) CreatedAt() time.Time { return c.created }

// Send queues frame without blocking. A full queue reports
// registry.ErrQueueFull, a closing connection registry.ErrConnClosed.
// The enqueue never waits, so ctx is not consulted.
func (c *Conn) Send(_ context.Context, frame []byte) error {
	select {
	case <-c.closing:
		return registry.ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.closing:
		return registry.ErrConnClosed
	default:
		return registry.ErrQueueFull
	}
}

// Close asks the writer to flush, send a close frame with code and shut the
// transport. Only the first call has any effect.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeReason = code, reason
		close(c.closing)
	})
	return nil
}

// Done is closed once the writer has shut the transport.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) writeLoop() {
	defer close(c.done)

	var tick <-chan time.Time
	if c.conf.PingInterval > 0 {
		ticker := time.NewTicker(c.conf.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.fail(err)
				return
			}
		case <-tick:
			if err := c.t.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.conf.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
		case <-c.closing:
			c.shutdown()
			return
		}
	}
}

func (c *Conn) write(frame []byte) error {
	_ = c.t.SetWriteDeadline(time.Now().Add(c.conf.WriteTimeout))
	return c.t.WriteMessage(websocket.TextMessage, frame)
}

// shutdown writes whatever is still queued, then the close frame.
func (c *Conn) shutdown() {
	for flushing := true; flushing; {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				flushing = false
			}
		default:
			flushing = false
		}
	}
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	if err := c.t.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.conf.WriteTimeout)); err != nil {
		c.log.Debug("write close frame", zap.Error(err))
	}
	_ = c.t.Close()
	c.log.Debug("connection closed", zap.Int("code", c.closeCode), zap.String("reason", c.closeReason))
}

func (c *Conn) fail(err error) {
	c.log.Info("write failed, closing", zap.Error(err))
	_ = c.Close(errs.CloseInternal, "write failed")
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	_ = c.t.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.conf.WriteTimeout))
	_ = c.t.Close()
}
