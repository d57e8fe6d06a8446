package session

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"PPRealtime/logger"
	"PPRealtime/service/realtime/envelope"
	"PPRealtime/service/realtime/registry"
	"PPRealtime/tools/errs"
	"PPRealtime/tools/ids"
	"PPRealtime/tools/security"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type State int32

const (
	Connecting State = iota
	Authenticated
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Active:
		return "active"
	case Closed:
		return "closed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Mode selects what a session accepts from its client.
type Mode int

const (
	// ModeChat routes chat, typing and read receipts.
	ModeChat Mode = iota
	// ModeNotifications only receives; inbound frames other than ping are
	// discarded.
	ModeNotifications
)

// Registry is what a session needs from the connection registry.
type Registry interface {
	Register(userID int64, conn registry.Conn)
	Deregister(userID int64, conn registry.Conn) bool
}

// Router receives the client's inbound direct-message events.
type Router interface {
	RouteChat(ctx context.Context, senderID, receiverID int64, msg envelope.ChatMessage) (registry.DeliveryReport, error)
	RouteTyping(ctx context.Context, senderID, receiverID int64, isTyping bool) (registry.DeliveryReport, error)
	RouteReadReceipt(ctx context.Context, readerID, originalSenderID, messageID int64) (registry.DeliveryReport, error)
}

type Options struct {
	SendQueueSize  int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration // 0 disables server pings
	MaxMessageSize int64
	VerifyTimeout  time.Duration

	// OnState observes state transitions. Optional.
	OnState func(connID string, s State)
}

func DefaultOptions() Options {
	return Options{
		SendQueueSize:  256,
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   25 * time.Second,
		MaxMessageSize: 64 << 10,
		VerifyTimeout:  5 * time.Second,
	}
}

// Driver runs sessions: authenticate, register, pump frames, clean up.
type Driver struct {
	reg      Registry
	router   Router
	verifier security.Verifier
	conf     Options
	log      *zap.Logger

	active atomic.Int64
}

func NewDriver(reg Registry, router Router, verifier security.Verifier, conf Options, l *zap.Logger) *Driver {
	def := DefaultOptions()
	if conf.SendQueueSize <= 0 {
		conf.SendQueueSize = def.SendQueueSize
	}
	if conf.WriteTimeout <= 0 {
		conf.WriteTimeout = def.WriteTimeout
	}
	if conf.PongTimeout <= 0 {
		conf.PongTimeout = def.PongTimeout
	}
	if conf.MaxMessageSize <= 0 {
		conf.MaxMessageSize = def.MaxMessageSize
	}
	if conf.VerifyTimeout <= 0 {
		conf.VerifyTimeout = def.VerifyTimeout
	}
	return &Driver{
		reg:      reg,
		router:   router,
		verifier: verifier,
		conf:     conf,
		log:      logger.Named(l, "session"),
	}
}

// Active is the number of sessions currently past authentication.
func (d *Driver) Active() int64 { return d.active.Load() }

// Serve runs one session over an upgraded transport until the client goes
// away, the connection is closed from the server side, or ctx is done. It
// returns errs.ErrAuthRejected when the credential does not verify; every
// other way out is a normal end of session.
func (d *Driver) Serve(ctx context.Context, t Transport, credential string, mode Mode) error {
	connID := ids.ConnID()
	d.transition(connID, Connecting)

	userID, err := d.verify(ctx, credential)
	if err != nil {
		d.log.Info("auth rejected", zap.String("conn_id", connID),
			zap.String("credential", security.HashToken(credential)), zap.Error(err))
		d.reject(t)
		d.transition(connID, Closed)
		return errs.ErrAuthRejected.WithDetail(err.Error())
	}
	d.transition(connID, Authenticated)

	c := newConn(connID, userID, t, d.conf, d.log)
	go c.writeLoop()

	d.reg.Register(userID, c)
	d.active.Add(1)
	d.transition(connID, Active)
	c.log.Info("session active", zap.Bool("notifications_only", mode == ModeNotifications))

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close(errs.ErrShutdown.Code, errs.ErrShutdown.Msg)
	})
	defer func() {
		stop()
		d.reg.Deregister(userID, c)
		_ = c.Close(errs.CloseNormal, "")
		<-c.done
		d.active.Add(-1)
		d.transition(connID, Closed)
		c.log.Info("session closed")
	}()

	d.readLoop(ctx, c, mode)
	return nil
}

func (d *Driver) verify(ctx context.Context, credential string) (int64, error) {
	if credential == "" {
		return 0, errors.Wrap(security.ErrInvalidToken, "empty credential")
	}
	vctx, cancel := context.WithTimeout(ctx, d.conf.VerifyTimeout)
	defer cancel()
	return d.verifier.Verify(vctx, credential)
}

func (d *Driver) reject(t Transport) {
	msg := websocket.FormatCloseMessage(errs.ErrAuthRejected.Code, errs.ErrAuthRejected.Msg)
	_ = t.WriteControl(websocket.CloseMessage, msg, time.Now().Add(d.conf.WriteTimeout))
	_ = t.Close()
}

func (d *Driver) readLoop(ctx context.Context, c *Conn, mode Mode) {
	t := c.t
	t.SetReadLimit(d.conf.MaxMessageSize)
	_ = t.SetReadDeadline(time.Now().Add(d.conf.PongTimeout))
	t.SetPongHandler(func(string) error {
		return t.SetReadDeadline(time.Now().Add(d.conf.PongTimeout))
	})

	for {
		mt, data, err := t.ReadMessage()
		if err != nil {
			d.logReadEnd(c, err)
			return
		}
		// Any traffic counts as liveness, not only pongs.
		_ = t.SetReadDeadline(time.Now().Add(d.conf.PongTimeout))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		env, err := envelope.Decode(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			c.log.Warn("dropping undecodable frame", zap.Error(err), zap.ByteString("sample", sample))
			continue
		}
		d.handle(ctx, c, mode, env)
	}
}

func (d *Driver) logReadEnd(c *Conn, err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("peer closed", zap.Error(err))
	case errors.As(err, &ne) && ne.Timeout():
		c.log.Info("read timeout", zap.Error(err))
	default:
		select {
		case <-c.closing:
			c.log.Debug("read ended after server close", zap.Error(err))
		default:
			c.log.Info("read error", zap.Error(err))
		}
	}
}

var pongFrame, _ = envelope.Frame(envelope.KindPong, nil)

func (d *Driver) handle(ctx context.Context, c *Conn, mode Mode, env envelope.Envelope) {
	if env.Kind == envelope.KindPing {
		if err := c.Send(ctx, pongFrame); err != nil {
			c.log.Debug("pong not queued", zap.Error(err))
		}
		return
	}
	if mode == ModeNotifications {
		return
	}

	var err error
	switch p := env.Payload.(type) {
	case envelope.ChatMessage:
		if env.Kind != envelope.KindChat {
			c.log.Debug("inbound frame ignored", zap.String("type", string(env.Kind)))
			return
		}
		// forwarded as sent; ids and timestamps belong to the persistence side
		_, err = d.router.RouteChat(ctx, c.userID, p.ReceiverID, p)
	case envelope.Typing:
		if p.ReceiverID == 0 {
			c.log.Debug("typing without receiver_id dropped")
			return
		}
		_, err = d.router.RouteTyping(ctx, c.userID, p.ReceiverID, env.Kind == envelope.KindTypingStart)
	case envelope.ReadReceipt:
		_, err = d.router.RouteReadReceipt(ctx, c.userID, p.SenderID, p.MessageID)
	default:
		// notification and server-to-client kinds are not accepted from clients
		c.log.Debug("inbound frame ignored", zap.String("type", string(env.Kind)))
		return
	}
	if err != nil {
		c.log.Warn("route failed", zap.String("type", string(env.Kind)), zap.Error(err))
	}
}

func (d *Driver) transition(connID string, s State) {
	if d.conf.OnState != nil {
		d.conf.OnState(connID, s)
	}
}
