package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripEveryKind(t *testing.T) {
	cases := []Envelope{
		{Kind: KindUserOnline, Payload: Presence{UserID: 7}},
		{Kind: KindUserOffline, Payload: Presence{UserID: 7}},
		{Kind: KindNewMessage, Payload: ChatMessage{
			ID: 11, SenderID: 2, ReceiverID: 5, Content: "hi",
			IsDelivered: true, CreatedAt: "2024-05-01T10:00:00", SenderUsername: "bob",
		}},
		{Kind: KindChat, Payload: ChatMessage{ReceiverID: 5, Content: "hey"}},
		{Kind: KindTypingStart, Payload: Typing{UserID: 3}},
		{Kind: KindTypingStop, Payload: Typing{ReceiverID: 9}},
		{Kind: KindMessageRead, Payload: MessageRead{MessageID: 100, ReaderID: 5}},
		{Kind: KindReadReceipt, Payload: ReadReceipt{MessageID: 100, SenderID: 2}},
		{Kind: KindNotification, Payload: Notification{
			"type": "follow", "message": "alice started following you", "user": "alice",
		}},
		{Kind: KindNotification, Payload: Notification{
			"type": "like", "count": int64(3), "score": 0.5, "post_id": int64(748508987506704384),
			"tags": []any{"a", int64(2)}, "post": map[string]any{"id": int64(12), "seen": true},
		}},
		{Kind: KindPing},
		{Kind: KindPong},
	}
	for _, env := range cases {
		t.Run(string(env.Kind), func(t *testing.T) {
			raw, err := Encode(env)
			require.NoError(t, err)

			got, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, env, got)
		})
	}
}

func TestEncodeWireShapes(t *testing.T) {
	tests := []struct {
		env  Envelope
		want string
	}{
		{Envelope{Kind: KindUserOnline, Payload: Presence{UserID: 7}},
			`{"type":"user_online","data":{"user_id":7}}`},
		{Envelope{Kind: KindTypingStart, Payload: Typing{UserID: 3}},
			`{"type":"typing_start","data":{"user_id":3}}`},
		{Envelope{Kind: KindMessageRead, Payload: MessageRead{MessageID: 1, ReaderID: 5}},
			`{"type":"message_read","data":{"message_id":1,"reader_id":5}}`},
		{Envelope{Kind: KindNewMessage, Payload: ChatMessage{ID: 1, SenderID: 2, ReceiverID: 3, Content: "x", CreatedAt: "t", SenderUsername: "u"}},
			`{"type":"new_message","data":{"id":1,"sender_id":2,"receiver_id":3,"content":"x","is_delivered":false,"is_read":false,"created_at":"t","sender_username":"u"}}`},
		{Envelope{Kind: KindPong}, `{"type":"pong"}`},
	}
	for _, tt := range tests {
		raw, err := Encode(tt.env)
		require.NoError(t, err)
		assert.JSONEq(t, tt.want, string(raw))
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason error
	}{
		{"not json", `{"type":`, ErrMalformedPayload},
		{"missing type", `{"data":{}}`, ErrMalformedPayload},
		{"non-string type", `{"type":5}`, ErrMalformedPayload},
		{"unknown kind", `{"type":"poke","data":{}}`, ErrUnknownKind},
		{"missing data", `{"type":"user_online"}`, ErrMalformedPayload},
		{"null data", `{"type":"user_online","data":null}`, ErrMalformedPayload},
		{"array data", `{"type":"notification","data":[1,2]}`, ErrMalformedPayload},
		{"missing required field", `{"type":"message_read","data":{"message_id":1}}`, ErrMalformedPayload},
		{"null required field", `{"type":"user_offline","data":{"user_id":null}}`, ErrMalformedPayload},
		{"wrong field type", `{"type":"user_online","data":{"user_id":"seven"}}`, ErrMalformedPayload},
		{"fractional id", `{"type":"user_online","data":{"user_id":1.5}}`, ErrMalformedPayload},
		{"typing without peer", `{"type":"typing_start","data":{}}`, ErrMalformedPayload},
		{"chat without content", `{"type":"chat","data":{"receiver_id":2}}`, ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.ErrorIs(t, err, tt.reason)
		})
	}
}

func TestDecodeUnknownKindCarriesKind(t *testing.T) {
	_, err := Decode([]byte(`{"type":"poke"}`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, Kind("poke"), de.Kind)
	assert.Contains(t, de.Error(), "poke")
}

func TestDecodeKeepsLargeIDs(t *testing.T) {
	env, err := Decode([]byte(`{"type":"user_online","data":{"user_id":748508987506704384}}`))
	require.NoError(t, err)
	assert.Equal(t, Presence{UserID: 748508987506704384}, env.Payload)
}

func TestDecodeIgnoresExtraFields(t *testing.T) {
	env, err := Decode([]byte(`{"type":"typing_stop","data":{"receiver_id":9,"sender_id":1}}`))
	require.NoError(t, err)
	assert.Equal(t, Typing{ReceiverID: 9}, env.Payload)
}

func TestNotificationForwardedUnmodified(t *testing.T) {
	raw := `{"type":"notification","data":{"type":"like","post":{"id":12,"title":"x"},"count":3}}`
	env, err := Decode([]byte(raw))
	require.NoError(t, err)

	out, err := Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))

	note := env.Payload.(Notification)
	assert.Equal(t, int64(3), note["count"])
	assert.Equal(t, map[string]any{"id": int64(12), "title": "x"}, note["post"])
}

func TestEncodeRejectsWhatDecodeWould(t *testing.T) {
	tests := []Envelope{
		{Kind: KindTypingStart, Payload: Typing{}},
		{Kind: KindTypingStop, Payload: Typing{}},
	}
	for _, env := range tests {
		_, err := Encode(env)
		assert.ErrorIs(t, err, ErrMalformedPayload, "%v", env)
	}
}

func TestZeroValuedFieldsStillRoundTrip(t *testing.T) {
	for _, env := range []Envelope{
		{Kind: KindUserOnline, Payload: Presence{}},
		{Kind: KindMessageRead, Payload: MessageRead{}},
		{Kind: KindReadReceipt, Payload: ReadReceipt{}},
		{Kind: KindNotification, Payload: Notification{}},
	} {
		raw, err := Encode(env)
		require.NoError(t, err, "%v", env)
		got, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, env, got)
	}
}

func TestEncodeRejectsMismatchedPayload(t *testing.T) {
	tests := []Envelope{
		{Kind: KindUserOnline, Payload: ChatMessage{}},
		{Kind: KindUserOnline, Payload: &Presence{UserID: 1}},
		{Kind: KindUserOnline},
		{Kind: KindPing, Payload: Presence{}},
		{Kind: KindNotification, Payload: Notification(nil)},
	}
	for _, env := range tests {
		_, err := Encode(env)
		assert.ErrorIs(t, err, ErrPayloadMismatch, "%v", env)
	}

	_, err := Encode(Envelope{Kind: "poke"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKnown(t *testing.T) {
	assert.True(t, Known(KindChat))
	assert.False(t, Known("user_away"))
}
