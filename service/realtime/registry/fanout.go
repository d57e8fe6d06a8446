package registry

import (
	"context"

	"PPRealtime/tools/errs"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DeliveryReport counts what happened to one fan-out. Attempted always
// equals Sent + Dropped + Pruned.
type DeliveryReport struct {
	Attempted int
	Sent      int
	Dropped   int // destination queue full, frame skipped
	Pruned    int // destination dead, removed from the registry
}

func (d DeliveryReport) Add(o DeliveryReport) DeliveryReport {
	return DeliveryReport{
		Attempted: d.Attempted + o.Attempted,
		Sent:      d.Sent + o.Sent,
		Dropped:   d.Dropped + o.Dropped,
		Pruned:    d.Pruned + o.Pruned,
	}
}

// Deliver sends frame to each destination independently. A failed send never
// stops the loop. ErrQueueFull and context errors drop the frame for that
// destination only; any other failure marks the destination dead: it is
// deregistered and closed, as if it had disconnected.
func (r *Registry) Deliver(ctx context.Context, conns []Conn, frame []byte) DeliveryReport {
	var rep DeliveryReport
	for _, c := range conns {
		rep.Attempted++
		err := c.Send(ctx, frame)
		switch {
		case err == nil:
			rep.Sent++
		case errors.Is(err, ErrQueueFull):
			rep.Dropped++
			r.log.Warn("send queue full, frame dropped",
				zap.Int64("user_id", c.UserID()), zap.String("conn_id", c.ID()))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// the caller gave up; says nothing about the receiver
			rep.Dropped++
			r.log.Debug("send abandoned by caller",
				zap.Int64("user_id", c.UserID()), zap.String("conn_id", c.ID()), zap.Error(err))
		default:
			rep.Pruned++
			r.log.Info("pruning dead connection",
				zap.Int64("user_id", c.UserID()), zap.String("conn_id", c.ID()), zap.Error(err))
			r.Deregister(c.UserID(), c)
			_ = c.Close(errs.CloseInternal, "send failed")
		}
	}
	return rep
}

// SendToUser is Deliver over a snapshot of the user's connections.
func (r *Registry) SendToUser(ctx context.Context, userID int64, frame []byte) DeliveryReport {
	return r.Deliver(ctx, r.ConnectionsFor(userID), frame)
}
