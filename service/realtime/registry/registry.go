package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPRealtime/logger"
	"PPRealtime/tools/errs"
	"PPRealtime/tools/safe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrConnClosed means the destination is gone; Deliver prunes it.
	ErrConnClosed = errors.New("connection closed")
	// ErrQueueFull means the destination is alive but behind; the frame is
	// dropped for that destination only.
	ErrQueueFull = errors.New("send queue full")
)

// Conn is one live bidirectional session. UserID must return the id the
// connection was registered under.
type Conn interface {
	ID() string
	UserID() int64
	CreatedAt() time.Time
	Send(ctx context.Context, frame []byte) error
	Close(code int, reason string) error
}

type State int

const (
	Online State = iota + 1
	Offline
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

type PresenceEvent struct {
	UserID int64
	State  State
}

type PresenceListener interface {
	OnPresenceChange(PresenceEvent)
}

type ListenerFunc func(PresenceEvent)

func (f ListenerFunc) OnPresenceChange(ev PresenceEvent) { f(ev) }

type Options struct {
	MaxPerUser int // 每用户最大连接数（<=0 不限制），超限淘汰最老连接
	Logger     *zap.Logger
}

type Stats struct {
	Users       int
	Connections int
}

// Registry owns the user -> connections mapping. Every mutation holds mu, so
// Register and Deregister are linearizable per user. Presence events are
// queued under mu in mutation order and handed to the listener by a single
// pump goroutine, which lets the listener call back into the registry.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64][]Conn // registration order

	conf Options
	log  *zap.Logger

	evMu     sync.Mutex
	queue    []PresenceEvent
	listener PresenceListener
	closed   bool

	wake     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func New(conf Options) *Registry {
	r := &Registry{
		byUser: make(map[int64][]Conn),
		conf:   conf,
		log:    logger.Named(conf.Logger, "registry"),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.pump()
	return r
}

// SetListener installs the presence listener. Events queued before a
// listener is set are delivered to it once it is.
func (r *Registry) SetListener(l PresenceListener) {
	r.evMu.Lock()
	r.listener = l
	r.evMu.Unlock()
	r.signal()
}

// Close delivers every queued presence event and stops the pump. Events
// produced afterwards are discarded. Connections are left alone; see KickAll.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}

// Register adds conn to the user's set. The first connection of a user
// emits Online. Registering the same connection twice is a no-op.
func (r *Registry) Register(userID int64, conn Conn) {
	if conn == nil {
		return
	}

	var evicted Conn
	r.mu.Lock()
	set := r.byUser[userID]
	for _, c := range set {
		if c.ID() == conn.ID() {
			r.mu.Unlock()
			return
		}
	}
	if r.conf.MaxPerUser > 0 && len(set) >= r.conf.MaxPerUser {
		evicted = set[0]
		set = append(set[:0:0], set[1:]...)
	}
	first := len(set) == 0 && evicted == nil
	r.byUser[userID] = append(set, conn)
	if first {
		r.enqueue(PresenceEvent{UserID: userID, State: Online})
	}
	r.mu.Unlock()

	r.log.Debug("connection registered",
		zap.Int64("user_id", userID), zap.String("conn_id", conn.ID()))

	if evicted != nil {
		r.log.Info("evicting oldest connection",
			zap.Int64("user_id", userID), zap.String("conn_id", evicted.ID()))
		_ = evicted.Close(errs.ErrEvicted.Code, errs.ErrEvicted.Msg)
	}
}

// Deregister removes conn if present and reports whether it was. Removing
// the last connection deletes the user and emits Offline.
func (r *Registry) Deregister(userID int64, conn Conn) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	set := r.byUser[userID]
	idx := -1
	for i, c := range set {
		if c.ID() == conn.ID() {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	if len(set) == 1 {
		delete(r.byUser, userID)
		r.enqueue(PresenceEvent{UserID: userID, State: Offline})
	} else {
		rest := make([]Conn, 0, len(set)-1)
		rest = append(rest, set[:idx]...)
		rest = append(rest, set[idx+1:]...)
		r.byUser[userID] = rest
	}
	r.mu.Unlock()

	r.log.Debug("connection deregistered",
		zap.Int64("user_id", userID), zap.String("conn_id", conn.ID()))
	return true
}

// ConnectionsFor returns a snapshot of the user's connections in
// registration order. The slice is never shared with the registry.
func (r *Registry) ConnectionsFor(userID int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, len(set))
	copy(out, set)
	return out
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) Count(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// OnlineUsers returns the ids of every user with at least one connection,
// ascending.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	out := make([]int64, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{Users: len(r.byUser)}
	for _, set := range r.byUser {
		st.Connections += len(set)
	}
	return st
}

// Kick force-disconnects every connection of one user and returns how many
// there were.
func (r *Registry) Kick(userID int64, code int, reason string) int {
	conns := r.ConnectionsFor(userID)
	for _, c := range conns {
		r.Deregister(userID, c)
		_ = c.Close(code, reason)
	}
	if len(conns) > 0 {
		r.log.Info("user kicked", zap.Int64("user_id", userID), zap.Int("connections", len(conns)))
	}
	return len(conns)
}

// KickAll force-disconnects everyone, e.g. on shutdown.
func (r *Registry) KickAll(code int, reason string) int {
	n := 0
	for _, id := range r.OnlineUsers() {
		n += r.Kick(id, code, reason)
	}
	return n
}

// ===== presence event pump =====

// enqueue must be called with mu held so queue order matches mutation order.
func (r *Registry) enqueue(ev PresenceEvent) {
	r.evMu.Lock()
	if !r.closed {
		r.queue = append(r.queue, ev)
	}
	r.evMu.Unlock()
	r.signal()
}

func (r *Registry) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Registry) pump() {
	defer close(r.done)
	for {
		select {
		case <-r.wake:
			r.drain()
		case <-r.stopCh:
			r.drain()
			r.evMu.Lock()
			r.closed = true
			r.queue = nil
			r.evMu.Unlock()
			return
		}
	}
}

// drain keeps going until the queue is empty, so events the listener causes
// (pruning during a presence broadcast) are delivered in the same pass.
func (r *Registry) drain() {
	for {
		r.evMu.Lock()
		l := r.listener
		if l == nil || len(r.queue) == 0 {
			r.evMu.Unlock()
			return
		}
		batch := r.queue
		r.queue = nil
		r.evMu.Unlock()

		for _, ev := range batch {
			safe.Run("presence-listener", func() { l.OnPresenceChange(ev) })
		}
	}
}
