package envelope

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"PPRealtime/tools/decode"

	"github.com/pkg/errors"
)

var (
	ErrUnknownKind      = errors.New("unrecognized kind")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrPayloadMismatch  = errors.New("payload type does not match kind")
)

// Envelope is the unit exchanged over a connection. Payload holds the value
// type registered for Kind (nil for ping and pong).
type Envelope struct {
	Kind    Kind
	Payload any
}

type DecodeError struct {
	Kind   Kind
	Reason error // ErrUnknownKind or ErrMalformedPayload
	Detail string
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("decode envelope")
	if e.Kind != "" {
		fmt.Fprintf(&b, " %q", string(e.Kind))
	}
	b.WriteString(": ")
	b.WriteString(e.Reason.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error { return e.Reason }

type wire struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type payloadSchema struct {
	typ      reflect.Type
	decode   func(map[string]any) (any, []string, error)
	required []string
	anyOf    []string // at least one must be present
}

func schemaFor[T any](required []string, anyOf ...string) payloadSchema {
	return payloadSchema{
		typ: reflect.TypeOf((*T)(nil)).Elem(),
		decode: func(m map[string]any) (any, []string, error) {
			out, md, err := decode.DecodeMap[T](m)
			if err != nil {
				return nil, nil, err
			}
			return *out, md.Unset, nil
		},
		required: required,
		anyOf:    anyOf,
	}
}

var schemas = map[Kind]*payloadSchema{
	KindUserOnline:   ptr(schemaFor[Presence]([]string{"user_id"})),
	KindUserOffline:  ptr(schemaFor[Presence]([]string{"user_id"})),
	KindNewMessage:   ptr(schemaFor[ChatMessage]([]string{"id", "sender_id", "receiver_id", "content"})),
	KindChat:         ptr(schemaFor[ChatMessage]([]string{"receiver_id", "content"})),
	KindTypingStart:  ptr(schemaFor[Typing](nil, "user_id", "receiver_id")),
	KindTypingStop:   ptr(schemaFor[Typing](nil, "user_id", "receiver_id")),
	KindMessageRead:  ptr(schemaFor[MessageRead]([]string{"message_id", "reader_id"})),
	KindReadReceipt:  ptr(schemaFor[ReadReceipt]([]string{"message_id", "sender_id"})),
	KindNotification: {typ: reflect.TypeOf(Notification(nil))},
	KindPing:         nil,
	KindPong:         nil,
}

func ptr(s payloadSchema) *payloadSchema { return &s }

// Known reports whether k belongs to the closed kind set.
func Known(k Kind) bool {
	_, ok := schemas[k]
	return ok
}

// Encode serializes env. The payload must be the value type registered for
// its kind.
func Encode(env Envelope) ([]byte, error) {
	schema, ok := schemas[env.Kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "encode %q", string(env.Kind))
	}

	w := wire{Type: env.Kind}
	if schema == nil {
		if env.Payload != nil {
			return nil, errors.Wrapf(ErrPayloadMismatch, "%s carries no payload", env.Kind)
		}
		return json.Marshal(w)
	}
	if env.Payload == nil || reflect.TypeOf(env.Payload) != schema.typ {
		return nil, errors.Wrapf(ErrPayloadMismatch, "%s wants %s, got %T", env.Kind, schema.typ, env.Payload)
	}
	if n, isNote := env.Payload.(Notification); isNote && n == nil {
		return nil, errors.Wrapf(ErrPayloadMismatch, "%s payload is nil", env.Kind)
	}

	data, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s payload", env.Kind)
	}
	// Nothing is emitted that Decode would refuse.
	if _, detail := schema.check(data); detail != "" {
		return nil, errors.Wrapf(ErrMalformedPayload, "encode %s: %s", env.Kind, detail)
	}
	w.Data = data
	return json.Marshal(w)
}

// Frame is Encode for a kind and payload.
func Frame(kind Kind, payload any) ([]byte, error) {
	return Encode(Envelope{Kind: kind, Payload: payload})
}

// Decode parses one frame. Failures are always *DecodeError.
func Decode(raw []byte) (Envelope, error) {
	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, &DecodeError{Reason: ErrMalformedPayload, Detail: err.Error()}
	}
	if w.Type == "" {
		return Envelope{}, &DecodeError{Reason: ErrMalformedPayload, Detail: "missing type"}
	}

	schema, ok := schemas[w.Type]
	if !ok {
		return Envelope{}, &DecodeError{Kind: w.Type, Reason: ErrUnknownKind}
	}
	if schema == nil {
		return Envelope{Kind: w.Type}, nil
	}

	payload, detail := schema.check(w.Data)
	if detail != "" {
		return Envelope{}, &DecodeError{Kind: w.Type, Reason: ErrMalformedPayload, Detail: detail}
	}
	return Envelope{Kind: w.Type, Payload: payload}, nil
}

// check validates one encoded payload against the schema and returns the
// decoded value, or a non-empty reason. Notification numbers come back as
// int64 or float64 (see decode.Native).
func (ps *payloadSchema) check(data []byte) (any, string) {
	if len(data) == 0 {
		return nil, "missing data"
	}
	m, err := decode.Object(data)
	if err != nil {
		return nil, err.Error()
	}
	if ps.decode == nil {
		return Notification(decode.Native(m).(map[string]any)), ""
	}

	payload, unset, err := ps.decode(m)
	if err != nil {
		return nil, err.Error()
	}
	if missing := decode.Missing(unset, ps.required...); len(missing) > 0 {
		return nil, "missing " + strings.Join(missing, ", ")
	}
	if len(ps.anyOf) > 0 && len(decode.Missing(unset, ps.anyOf...)) == len(ps.anyOf) {
		return nil, "need one of " + strings.Join(ps.anyOf, ", ")
	}
	return payload, ""
}
