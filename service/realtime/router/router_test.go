package router_test

import (
	"context"
	"errors"
	"testing"

	"PPRealtime/service/realtime/envelope"
	"PPRealtime/service/realtime/realtimetest"
	"PPRealtime/service/realtime/registry"
	"PPRealtime/service/realtime/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRouter(t *testing.T) (*registry.Registry, *router.Router) {
	t.Helper()
	reg := registry.New(registry.Options{})
	t.Cleanup(reg.Close)
	return reg, router.New(reg, nil)
}

func TestRouteChatReachesEveryReceiverConnection(t *testing.T) {
	reg, rt := newRouter(t)
	a, b := realtimetest.NewConn(2), realtimetest.NewConn(2)
	sender := realtimetest.NewConn(1)
	reg.Register(2, a)
	reg.Register(2, b)
	reg.Register(1, sender)

	msg := envelope.ChatMessage{ID: 77, SenderID: 999, ReceiverID: 999, Content: "hi", CreatedAt: "2024-05-01T10:00:00"}
	rep, err := rt.RouteChat(context.Background(), 1, 2, msg)
	require.NoError(t, err)
	assert.Equal(t, registry.DeliveryReport{Attempted: 2, Sent: 2}, rep)

	want := envelope.ChatMessage{ID: 77, SenderID: 1, ReceiverID: 2, Content: "hi", CreatedAt: "2024-05-01T10:00:00"}
	for _, c := range []*realtimetest.Conn{a, b} {
		assert.Equal(t, []envelope.Envelope{{Kind: envelope.KindNewMessage, Payload: want}}, c.Envelopes(t))
	}
	assert.Empty(t, sender.Frames(), "sender is not echoed")
}

func TestRouteChatToOfflineUserIsNotAnError(t *testing.T) {
	_, rt := newRouter(t)
	rep, err := rt.RouteChat(context.Background(), 1, 42, envelope.ChatMessage{Content: "later"})
	require.NoError(t, err)
	assert.Zero(t, rep)
}

func TestRouteTyping(t *testing.T) {
	reg, rt := newRouter(t)
	c := realtimetest.NewConn(4)
	reg.Register(4, c)

	_, err := rt.RouteTyping(context.Background(), 3, 4, true)
	require.NoError(t, err)
	_, err = rt.RouteTyping(context.Background(), 3, 4, false)
	require.NoError(t, err)

	assert.Equal(t, []envelope.Envelope{
		{Kind: envelope.KindTypingStart, Payload: envelope.Typing{UserID: 3}},
		{Kind: envelope.KindTypingStop, Payload: envelope.Typing{UserID: 3}},
	}, c.Envelopes(t))
}

func TestTypingToOfflineUserProducesNothing(t *testing.T) {
	reg, rt := newRouter(t)
	self := realtimetest.NewConn(3)
	reg.Register(3, self)

	rep, err := rt.RouteTyping(context.Background(), 3, 9, true)
	require.NoError(t, err)
	assert.Zero(t, rep.Attempted)
	assert.Empty(t, self.Frames())
}

func TestReadReceiptsGoToEveryConnectionOfOriginalSender(t *testing.T) {
	reg, rt := newRouter(t)
	tabs := []*realtimetest.Conn{realtimetest.NewConn(2), realtimetest.NewConn(2), realtimetest.NewConn(2)}
	for _, c := range tabs {
		reg.Register(2, c)
	}
	reader := realtimetest.NewConn(5)
	reg.Register(5, reader)

	rep, err := rt.RouteReadReceipts(context.Background(), 5, 2, 10, 11)
	require.NoError(t, err)
	assert.Equal(t, registry.DeliveryReport{Attempted: 6, Sent: 6}, rep)

	want := []envelope.Envelope{
		{Kind: envelope.KindMessageRead, Payload: envelope.MessageRead{MessageID: 10, ReaderID: 5}},
		{Kind: envelope.KindMessageRead, Payload: envelope.MessageRead{MessageID: 11, ReaderID: 5}},
	}
	for _, c := range tabs {
		assert.Equal(t, want, c.Envelopes(t))
	}
	assert.Empty(t, reader.Frames())
}

func TestRouteIsolatesFailingConnection(t *testing.T) {
	reg, rt := newRouter(t)
	ok1, bad, ok2 := realtimetest.NewConn(2), realtimetest.NewConn(2), realtimetest.NewConn(2)
	reg.Register(2, ok1)
	reg.Register(2, bad)
	reg.Register(2, ok2)
	bad.FailWith(errors.New("broken pipe"))

	rep, err := rt.RouteChat(context.Background(), 1, 2, envelope.ChatMessage{ID: 1, Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, registry.DeliveryReport{Attempted: 3, Sent: 2, Pruned: 1}, rep)
	assert.Len(t, ok1.Frames(), 1)
	assert.Len(t, ok2.Frames(), 1)
	assert.Equal(t, 2, reg.Count(2))
}

func TestRejectsInvalidIDs(t *testing.T) {
	_, rt := newRouter(t)
	ctx := context.Background()

	_, err := rt.RouteChat(ctx, 0, 2, envelope.ChatMessage{})
	assert.ErrorIs(t, err, router.ErrInvalidUser)
	_, err = rt.RouteTyping(ctx, 1, -1, true)
	assert.ErrorIs(t, err, router.ErrInvalidUser)
	_, err = rt.RouteReadReceipts(ctx, 5, 0, 1, 2)
	assert.ErrorIs(t, err, router.ErrInvalidUser)
}
