package notify

import (
	"context"

	"PPRealtime/logger"
	"PPRealtime/service/realtime/envelope"
	"PPRealtime/service/realtime/registry"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrEmpty = errors.New("empty notification")

type Fanout interface {
	SendToUser(ctx context.Context, userID int64, frame []byte) registry.DeliveryReport
}

// Dispatcher pushes application notifications (new follower, likes, ...)
// to every connection of one user. The payload is opaque and forwarded as is.
type Dispatcher struct {
	out Fanout
	log *zap.Logger
}

func New(out Fanout, l *zap.Logger) *Dispatcher {
	return &Dispatcher{out: out, log: logger.Named(l, "notify")}
}

func (d *Dispatcher) Dispatch(ctx context.Context, userID int64, n envelope.Notification) (registry.DeliveryReport, error) {
	if n == nil {
		return registry.DeliveryReport{}, ErrEmpty
	}
	frame, err := envelope.Frame(envelope.KindNotification, n)
	if err != nil {
		return registry.DeliveryReport{}, errors.Wrap(err, "encode notification")
	}
	rep := d.out.SendToUser(ctx, userID, frame)
	d.log.Debug("notification dispatched",
		zap.Int64("user_id", userID), zap.Int("sent", rep.Sent), zap.Int("attempted", rep.Attempted))
	return rep, nil
}
