package ingest

import (
	"strings"

	"PPRealtime/service/realtime/envelope"
	"PPRealtime/tools/decode"

	"github.com/pkg/errors"
)

// Kind names an ingest command. It is also the last segment of the NATS
// subject and Kafka topic the command arrives on.
type Kind string

const (
	KindMessage      Kind = "message"
	KindReadReceipt  Kind = "read_receipt"
	KindTyping       Kind = "typing"
	KindNotification Kind = "notification"
)

// Kinds lists every command kind in subscription order.
var Kinds = []Kind{KindMessage, KindReadReceipt, KindTyping, KindNotification}

var (
	ErrBadCommand     = errors.New("bad command")
	ErrUnknownCommand = errors.New("unknown command")
)

// MessageCommand: a message was persisted by the HTTP send path.
type MessageCommand struct {
	SenderID   int64                `json:"sender_id"`
	ReceiverID int64                `json:"receiver_id"`
	Message    envelope.ChatMessage `json:"message"`
}

// ReadReceiptCommand: reader marked sender's messages as read.
type ReadReceiptCommand struct {
	ReaderID   int64   `json:"reader_id"`
	SenderID   int64   `json:"sender_id"`
	MessageIDs []int64 `json:"message_ids"`
}

type TypingCommand struct {
	SenderID   int64 `json:"sender_id"`
	ReceiverID int64 `json:"receiver_id"`
	IsTyping   bool  `json:"is_typing"`
}

type NotificationCommand struct {
	UserID       int64                 `json:"user_id"`
	Notification envelope.Notification `json:"notification"`
}

func decodeCommand[T any](raw []byte, required ...string) (*T, error) {
	m, err := decode.Object(raw)
	if err != nil {
		return nil, errors.Wrap(ErrBadCommand, err.Error())
	}
	out, md, err := decode.DecodeMap[T](m)
	if err != nil {
		return nil, errors.Wrap(ErrBadCommand, err.Error())
	}
	if missing := decode.Missing(md.Unset, required...); len(missing) > 0 {
		return nil, errors.Wrapf(ErrBadCommand, "missing %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// DecodeCommand parses raw as the command for kind and checks that its
// required fields are present.
func DecodeCommand(kind Kind, raw []byte) (any, error) {
	switch kind {
	case KindMessage:
		cmd, err := decodeCommand[MessageCommand](raw, "sender_id", "receiver_id", "message")
		if err != nil {
			return nil, err
		}
		return *cmd, nil
	case KindReadReceipt:
		cmd, err := decodeCommand[ReadReceiptCommand](raw, "reader_id", "sender_id", "message_ids")
		if err != nil {
			return nil, err
		}
		if len(cmd.MessageIDs) == 0 {
			return nil, errors.Wrap(ErrBadCommand, "empty message_ids")
		}
		return *cmd, nil
	case KindTyping:
		cmd, err := decodeCommand[TypingCommand](raw, "sender_id", "receiver_id", "is_typing")
		if err != nil {
			return nil, err
		}
		return *cmd, nil
	case KindNotification:
		cmd, err := decodeCommand[NotificationCommand](raw, "user_id", "notification")
		if err != nil {
			return nil, err
		}
		return *cmd, nil
	}
	return nil, errors.Wrapf(ErrUnknownCommand, "%q", string(kind))
}
