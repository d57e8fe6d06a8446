package router

import (
	"context"

	"PPRealtime/logger"
	"PPRealtime/service/realtime/envelope"
	"PPRealtime/service/realtime/registry"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrInvalidUser = errors.New("invalid user id")

// Fanout is the part of the registry the router needs.
type Fanout interface {
	SendToUser(ctx context.Context, userID int64, frame []byte) registry.DeliveryReport
}

// Router turns direct-message events into frames for the addressed user's
// connections. It keeps no state; an offline receiver simply yields an empty
// report.
type Router struct {
	out Fanout
	log *zap.Logger
}

func New(out Fanout, l *zap.Logger) *Router {
	return &Router{out: out, log: logger.Named(l, "router")}
}

// RouteChat delivers a persisted message as new_message. The ids in msg are
// replaced by senderID and receiverID.
func (r *Router) RouteChat(ctx context.Context, senderID, receiverID int64, msg envelope.ChatMessage) (registry.DeliveryReport, error) {
	if senderID <= 0 || receiverID <= 0 {
		return registry.DeliveryReport{}, errors.Wrapf(ErrInvalidUser, "route chat %d -> %d", senderID, receiverID)
	}
	msg.SenderID = senderID
	msg.ReceiverID = receiverID
	return r.route(ctx, receiverID, envelope.KindNewMessage, msg)
}

// RouteTyping tells receiverID that senderID started or stopped typing.
func (r *Router) RouteTyping(ctx context.Context, senderID, receiverID int64, isTyping bool) (registry.DeliveryReport, error) {
	if senderID <= 0 || receiverID <= 0 {
		return registry.DeliveryReport{}, errors.Wrapf(ErrInvalidUser, "route typing %d -> %d", senderID, receiverID)
	}
	kind := envelope.KindTypingStop
	if isTyping {
		kind = envelope.KindTypingStart
	}
	return r.route(ctx, receiverID, kind, envelope.Typing{UserID: senderID})
}

// RouteReadReceipt tells the original sender that readerID read messageID.
func (r *Router) RouteReadReceipt(ctx context.Context, readerID, originalSenderID, messageID int64) (registry.DeliveryReport, error) {
	if readerID <= 0 || originalSenderID <= 0 {
		return registry.DeliveryReport{}, errors.Wrapf(ErrInvalidUser, "route read receipt %d -> %d", readerID, originalSenderID)
	}
	return r.route(ctx, originalSenderID, envelope.KindMessageRead,
		envelope.MessageRead{MessageID: messageID, ReaderID: readerID})
}

// RouteReadReceipts sends one message_read per message id, in order.
func (r *Router) RouteReadReceipts(ctx context.Context, readerID, originalSenderID int64, messageIDs ...int64) (registry.DeliveryReport, error) {
	var total registry.DeliveryReport
	for _, id := range messageIDs {
		rep, err := r.RouteReadReceipt(ctx, readerID, originalSenderID, id)
		if err != nil {
			return total, err
		}
		total = total.Add(rep)
	}
	return total, nil
}

func (r *Router) route(ctx context.Context, to int64, kind envelope.Kind, payload any) (registry.DeliveryReport, error) {
	frame, err := envelope.Frame(kind, payload)
	if err != nil {
		return registry.DeliveryReport{}, errors.Wrapf(err, "encode %s", kind)
	}
	rep := r.out.SendToUser(ctx, to, frame)
	r.log.Debug("routed",
		zap.String("type", string(kind)),
		zap.Int64("to", to),
		zap.Int("attempted", rep.Attempted),
		zap.Int("sent", rep.Sent))
	return rep, nil
}
