// Package realtimetest provides in-memory connections and presence recorders
// for tests of the realtime packages.
package realtimetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"PPRealtime/service/realtime/envelope"
	"PPRealtime/service/realtime/registry"
	"PPRealtime/tools/ids"

	"github.com/stretchr/testify/require"
)

// Conn is a registry.Conn that records every frame it is sent.
type Conn struct {
	id      string
	user    int64
	created time.Time

	mu        sync.Mutex
	frames    [][]byte
	sendErr   error
	closed    bool
	closeCode int
}

func NewConn(userID int64) *Conn {
	return &Conn{id: ids.ConnID(), user: userID, created: time.Now()}
}

func (c *Conn) ID() string           { return c.id }
func (c *Conn) UserID() int64        { return c.user }
func (c *Conn) CreatedAt() time.Time { return c.created }

// FailWith makes every later Send return err.
func (c *Conn) FailWith(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *Conn) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return registry.ErrConnClosed
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *Conn) Close(code int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeCode = code
	}
	return nil
}

func (c *Conn) Closed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

func (c *Conn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Envelopes decodes every recorded frame.
func (c *Conn) Envelopes(t testing.TB) []envelope.Envelope {
	t.Helper()
	var out []envelope.Envelope
	for _, f := range c.Frames() {
		env, err := envelope.Decode(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

// Recorder is a registry.PresenceListener that remembers every event.
type Recorder struct {
	mu     sync.Mutex
	events []registry.PresenceEvent
}

func (r *Recorder) OnPresenceChange(ev registry.PresenceEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []registry.PresenceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]registry.PresenceEvent, len(r.events))
	copy(out, r.events)
	return out
}
