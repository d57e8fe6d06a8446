package ingest

import (
	"context"

	"PPRealtime/logger"
	"PPRealtime/service/realtime/envelope"
	"PPRealtime/service/realtime/registry"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Router interface {
	RouteChat(ctx context.Context, senderID, receiverID int64, msg envelope.ChatMessage) (registry.DeliveryReport, error)
	RouteTyping(ctx context.Context, senderID, receiverID int64, isTyping bool) (registry.DeliveryReport, error)
	RouteReadReceipts(ctx context.Context, readerID, originalSenderID int64, messageIDs ...int64) (registry.DeliveryReport, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, userID int64, n envelope.Notification) (registry.DeliveryReport, error)
}

// Handler executes ingest commands against the local connections. Every
// transport (HTTP, NATS, Kafka) funnels into it.
type Handler struct {
	router   Router
	notifier Notifier
	log      *zap.Logger
}

func NewHandler(r Router, n Notifier, l *zap.Logger) *Handler {
	return &Handler{router: r, notifier: n, log: logger.Named(l, "ingest")}
}

// Handle decodes raw as a command of the given kind and executes it.
func (h *Handler) Handle(ctx context.Context, kind Kind, raw []byte) (registry.DeliveryReport, error) {
	cmd, err := DecodeCommand(kind, raw)
	if err != nil {
		return registry.DeliveryReport{}, err
	}
	return h.Execute(ctx, cmd)
}

// Execute runs an already decoded command.
func (h *Handler) Execute(ctx context.Context, cmd any) (registry.DeliveryReport, error) {
	var (
		rep registry.DeliveryReport
		err error
	)
	switch c := cmd.(type) {
	case MessageCommand:
		rep, err = h.router.RouteChat(ctx, c.SenderID, c.ReceiverID, c.Message)
	case ReadReceiptCommand:
		rep, err = h.router.RouteReadReceipts(ctx, c.ReaderID, c.SenderID, c.MessageIDs...)
	case TypingCommand:
		rep, err = h.router.RouteTyping(ctx, c.SenderID, c.ReceiverID, c.IsTyping)
	case NotificationCommand:
		if c.UserID <= 0 {
			return rep, errors.Wrapf(ErrBadCommand, "user_id %d", c.UserID)
		}
		rep, err = h.notifier.Dispatch(ctx, c.UserID, c.Notification)
	default:
		return rep, errors.Wrapf(ErrUnknownCommand, "%T", cmd)
	}
	if err != nil {
		// invalid ids are the caller's fault
		return rep, errors.Wrap(ErrBadCommand, err.Error())
	}
	return rep, nil
}

// Message is one command as received from a broker.
type Message struct {
	Source string // subject or topic
	Kind   Kind
	Key    string // kafka partition key, not an identity
	// ID identifies one broker delivery (topic/partition/offset on Kafka).
	// Redelivery of the same record repeats it.
	ID     string
	Data   []byte
	Header map[string]string
}

// HandlerFunc 业务处理函数
type HandlerFunc func(ctx context.Context, msg Message) error

// Middleware wraps a HandlerFunc (logging, recovery, dedup, ...).
type Middleware func(HandlerFunc) HandlerFunc

// Chain applies mws so that the first one runs outermost.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Func adapts the handler to broker messages. Malformed commands are
// logged and swallowed so a poison message is not redelivered forever.
func (h *Handler) Func() HandlerFunc {
	return func(ctx context.Context, msg Message) error {
		rep, err := h.Handle(ctx, msg.Kind, msg.Data)
		if errors.Is(err, ErrBadCommand) || errors.Is(err, ErrUnknownCommand) {
			h.log.Warn("dropping bad command",
				zap.String("source", msg.Source), zap.String("kind", string(msg.Kind)), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		h.log.Debug("command delivered",
			zap.String("source", msg.Source),
			zap.String("kind", string(msg.Kind)),
			zap.Int("sent", rep.Sent),
			zap.Int("attempted", rep.Attempted))
		return nil
	}
}
