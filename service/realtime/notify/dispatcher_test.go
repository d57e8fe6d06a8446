package notify_test

import (
	"context"
	"errors"
	"testing"

	"PPRealtime/service/realtime/envelope"
	"PPRealtime/service/realtime/notify"
	"PPRealtime/service/realtime/realtimetest"
	"PPRealtime/service/realtime/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDispatchSendsToAllConnections(t *testing.T) {
	reg := registry.New(registry.Options{})
	defer reg.Close()
	d := notify.New(reg, nil)

	conns := []*realtimetest.Conn{realtimetest.NewConn(7), realtimetest.NewConn(7)}
	for _, c := range conns {
		reg.Register(7, c)
	}

	n := envelope.Notification{"type": "new_follower", "follower_id": "8", "nested": map[string]any{"a": []any{"x"}}}
	rep, err := d.Dispatch(context.Background(), 7, n)
	require.NoError(t, err)
	assert.Equal(t, registry.DeliveryReport{Attempted: 2, Sent: 2}, rep)

	for _, c := range conns {
		frames := c.Frames()
		require.Len(t, frames, 1)
		assert.JSONEq(t,
			`{"type":"notification","data":{"type":"new_follower","follower_id":"8","nested":{"a":["x"]}}}`,
			string(frames[0]))
	}
}

func TestDispatchIsolatesFailure(t *testing.T) {
	reg := registry.New(registry.Options{})
	defer reg.Close()
	d := notify.New(reg, nil)

	a, b, c := realtimetest.NewConn(7), realtimetest.NewConn(7), realtimetest.NewConn(7)
	for _, conn := range []*realtimetest.Conn{a, b, c} {
		reg.Register(7, conn)
	}
	b.FailWith(errors.New("gone"))

	rep, err := d.Dispatch(context.Background(), 7, envelope.Notification{"type": "like"})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Sent)
	assert.Len(t, a.Frames(), 1)
	assert.Len(t, c.Frames(), 1)
}

func TestDispatchOfflineAndEmpty(t *testing.T) {
	reg := registry.New(registry.Options{})
	defer reg.Close()
	d := notify.New(reg, nil)

	rep, err := d.Dispatch(context.Background(), 1, envelope.Notification{"type": "x"})
	require.NoError(t, err)
	assert.Zero(t, rep)

	_, err = d.Dispatch(context.Background(), 1, nil)
	assert.ErrorIs(t, err, notify.ErrEmpty)
}
