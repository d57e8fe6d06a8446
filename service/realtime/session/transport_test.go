package session_test

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"PPRealtime/service/realtime/envelope"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type inbound struct {
	typ  int
	data []byte
}

// fakeTransport plays the client side of a websocket.Conn.
type fakeTransport struct {
	in     chan inbound
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	out       [][]byte
	pings     int
	closeCode int
	writeErr  error
	block     chan struct{} // when set, WriteMessage waits on it
	writing   bool
	pong      func(string) error
	readLimit int64
}

func newTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan inbound, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case m, ok := <-f.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return m.typ, m.data, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	block, err := f.block, f.writeErr
	f.writing = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.writing = false
		f.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-f.closed:
		}
	}
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.out = append(f.out, append([]byte(nil), data...))
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) WriteControl(typ int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch typ {
	case websocket.PingMessage:
		f.pings++
	case websocket.CloseMessage:
		if f.closeCode == 0 && len(data) >= 2 {
			f.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		}
	}
	return nil
}

func (f *fakeTransport) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) SetReadLimit(n int64) {
	f.mu.Lock()
	f.readLimit = n
	f.mu.Unlock()
}

func (f *fakeTransport) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	f.pong = h
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// client side helpers

func (f *fakeTransport) push(t *testing.T, kind envelope.Kind, payload any) {
	t.Helper()
	frame, err := envelope.Frame(kind, payload)
	require.NoError(t, err)
	f.pushRaw(websocket.TextMessage, frame)
}

func (f *fakeTransport) pushRaw(typ int, data []byte) {
	f.in <- inbound{typ: typ, data: data}
}

func (f *fakeTransport) hangup() { close(f.in) }

func (f *fakeTransport) envelopes(t *testing.T) []envelope.Envelope {
	t.Helper()
	f.mu.Lock()
	frames := append([][]byte(nil), f.out...)
	f.mu.Unlock()
	var out []envelope.Envelope
	for _, fr := range frames {
		env, err := envelope.Decode(fr)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (f *fakeTransport) code() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) isWriting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writing
}
