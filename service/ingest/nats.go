package ingest

import (
	"context"
	"strings"
	"time"

	"PPRealtime/global/config"
	"PPRealtime/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Subject is the NATS subject a kind arrives on: <prefix>.<kind>.
func Subject(prefix string, k Kind) string {
	if prefix == "" {
		return string(k)
	}
	return prefix + "." + string(k)
}

// DialNats 连接 NATS，断线无限重连
func DialNats(c config.NatsConfig, l *zap.Logger) (*nats.Conn, error) {
	if len(c.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	l = logger.Named(l, "nats")
	wait := c.ReconnectWait.Duration
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(wait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if c.User != "" {
		opts = append(opts, nats.UserInfo(c.User, c.Password))
	}
	nc, err := nats.Connect(strings.Join(c.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return nc, nil
}

// NatsConsumer holds one queue subscription per command kind.
type NatsConsumer struct {
	subs []*nats.Subscription
	log  *zap.Logger
}

// SubscribeNats subscribes h to every command subject. With a queue group
// each command is handled by one member of the group only.
func SubscribeNats(nc *nats.Conn, prefix, queue string, h HandlerFunc, l *zap.Logger) (*NatsConsumer, error) {
	c := &NatsConsumer{log: logger.Named(l, "nats")}
	for _, k := range Kinds {
		subject := Subject(prefix, k)
		cb := natsCallback(k, h, c.log)

		var (
			sub *nats.Subscription
			err error
		)
		if queue == "" {
			sub, err = nc.Subscribe(subject, cb)
		} else {
			sub, err = nc.QueueSubscribe(subject, queue, cb)
		}
		if err != nil {
			_ = c.Close()
			return nil, errors.Wrapf(err, "subscribe %s", subject)
		}
		_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
		c.subs = append(c.subs, sub)
		c.log.Info("subscribed", zap.String("subject", subject), zap.String("queue", queue))
	}
	return c, nil
}

func natsCallback(k Kind, h HandlerFunc, l *zap.Logger) nats.MsgHandler {
	return func(m *nats.Msg) {
		msg := Message{
			Source: m.Subject,
			Kind:   k,
			Data:   append([]byte(nil), m.Data...),
			Header: headerToMap(m.Header),
		}
		if err := h(context.Background(), msg); err != nil {
			l.Error("nats command failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	}
}

// Close drains every subscription.
func (c *NatsConsumer) Close() error {
	var first error
	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil && first == nil {
			first = err
		}
	}
	c.subs = nil
	return first
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
