package presence

import (
	"context"
	"time"

	"PPRealtime/logger"
	"PPRealtime/service/realtime/envelope"
	"PPRealtime/service/realtime/registry"

	"go.uber.org/zap"
)

// Mirror publishes presence outside the process, e.g. to Redis, so the
// HTTP side can answer "is user X online" without talking to the gateway.
type Mirror interface {
	Online(ctx context.Context, userID int64) error
	Offline(ctx context.Context, userID int64) error
}

type Options struct {
	Mirror        Mirror
	MirrorTimeout time.Duration
	Logger        *zap.Logger
}

// Tracker turns registry presence events into user_online / user_offline
// frames for every other connected user. It keeps no state of its own.
type Tracker struct {
	reg  *registry.Registry
	conf Options
	log  *zap.Logger
}

func New(reg *registry.Registry, conf Options) *Tracker {
	if conf.MirrorTimeout <= 0 {
		conf.MirrorTimeout = 2 * time.Second
	}
	return &Tracker{
		reg:  reg,
		conf: conf,
		log:  logger.Named(conf.Logger, "presence"),
	}
}

// OnPresenceChange implements registry.PresenceListener.
func (t *Tracker) OnPresenceChange(ev registry.PresenceEvent) {
	ctx := context.Background()
	t.mirror(ctx, ev)
	rep := t.Broadcast(ctx, ev)
	t.log.Debug("presence broadcast",
		zap.Int64("user_id", ev.UserID),
		zap.Stringer("state", ev.State),
		zap.Int("sent", rep.Sent),
		zap.Int("pruned", rep.Pruned))
}

// Broadcast sends ev to every connection not owned by ev.UserID. Failures
// are handled per destination by the registry.
func (t *Tracker) Broadcast(ctx context.Context, ev registry.PresenceEvent) registry.DeliveryReport {
	kind := envelope.KindUserOnline
	if ev.State == registry.Offline {
		kind = envelope.KindUserOffline
	}
	frame, err := envelope.Frame(kind, envelope.Presence{UserID: ev.UserID})
	if err != nil {
		t.log.Error("encode presence", zap.Error(err))
		return registry.DeliveryReport{}
	}

	var rep registry.DeliveryReport
	for _, uid := range t.reg.OnlineUsers() {
		if uid == ev.UserID {
			continue
		}
		rep = rep.Add(t.reg.SendToUser(ctx, uid, frame))
	}
	return rep
}

func (t *Tracker) mirror(ctx context.Context, ev registry.PresenceEvent) {
	if t.conf.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, t.conf.MirrorTimeout)
	defer cancel()

	var err error
	if ev.State == registry.Online {
		err = t.conf.Mirror.Online(ctx, ev.UserID)
	} else {
		err = t.conf.Mirror.Offline(ctx, ev.UserID)
	}
	if err != nil {
		t.log.Warn("presence mirror update failed",
			zap.Int64("user_id", ev.UserID), zap.Stringer("state", ev.State), zap.Error(err))
	}
}

// RefreshLoop re-asserts the mirror entry of every online user each tick so
// TTL-based entries outlive long sessions. It returns when ctx is done.
func (t *Tracker) RefreshLoop(ctx context.Context, every time.Duration) {
	if t.conf.Mirror == nil || every <= 0 {
		return
	}
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			t.Refresh(ctx)
		}
	}
}

// Refresh runs one pass of RefreshLoop.
func (t *Tracker) Refresh(ctx context.Context) {
	if t.conf.Mirror == nil {
		return
	}
	for _, uid := range t.reg.OnlineUsers() {
		t.mirror(ctx, registry.PresenceEvent{UserID: uid, State: registry.Online})
	}
}
