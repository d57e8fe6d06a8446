package envelope

// Kind is the wire "type" of an envelope. The set is closed.
type Kind string

const (
	KindUserOnline   Kind = "user_online"
	KindUserOffline  Kind = "user_offline"
	KindNewMessage   Kind = "new_message"
	KindChat         Kind = "chat"
	KindTypingStart  Kind = "typing_start"
	KindTypingStop   Kind = "typing_stop"
	KindMessageRead  Kind = "message_read"
	KindReadReceipt  Kind = "read_receipt"
	KindNotification Kind = "notification"
	KindPing         Kind = "ping"
	KindPong         Kind = "pong"
)

// Presence is the payload of user_online and user_offline.
type Presence struct {
	UserID int64 `json:"user_id"`
}

// ChatMessage is an already-persisted direct message (new_message), or the
// client's request to deliver one (chat, where only receiver_id and content
// are required).
type ChatMessage struct {
	ID             int64  `json:"id"`
	SenderID       int64  `json:"sender_id"`
	ReceiverID     int64  `json:"receiver_id"`
	Content        string `json:"content"`
	IsDelivered    bool   `json:"is_delivered"`
	IsRead         bool   `json:"is_read"`
	CreatedAt      string `json:"created_at"`
	SenderUsername string `json:"sender_username"`
}

// Typing carries user_id outbound (who is typing) and receiver_id inbound
// (whom the client is typing to).
type Typing struct {
	UserID     int64 `json:"user_id,omitempty"`
	ReceiverID int64 `json:"receiver_id,omitempty"`
}

// MessageRead tells the original sender that reader_id read message_id.
type MessageRead struct {
	MessageID int64 `json:"message_id"`
	ReaderID  int64 `json:"reader_id"`
}

// ReadReceipt is sent by a reader: message_id from sender_id was read.
type ReadReceipt struct {
	MessageID int64 `json:"message_id"`
	SenderID  int64 `json:"sender_id"`
}

// Notification is application-defined and forwarded unmodified.
type Notification map[string]any
