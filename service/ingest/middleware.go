package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"PPRealtime/tools/errs"

	"go.uber.org/zap"
)

// Recover turns a panicking handler into an error.
func Recover(l *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					l.Error("ingest handler panic",
						zap.String("source", msg.Source), zap.Any("panic", r), zap.Stack("stack"))
					err = errs.ErrPanic(r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// ----- 幂等 -----

type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// MemIdem is a single-process IdemStore. Expired keys are removed by Sweep.
type MemIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expiry
	ttl time.Duration
	now func() time.Time
}

func NewMemIdem(defaultTTL time.Duration) *MemIdem {
	return &MemIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
}

func (mi *MemIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

// Sweep drops expired keys and returns how many are left.
func (mi *MemIdem) Sweep() int {
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
		}
	}
	return len(mi.m)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (mi *MemIdem) RunSweeper(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			mi.Sweep()
		}
	}
}

// msgID 从消息头提取；没有则用 broker 投递 ID。Kafka key 只是分区键，不参与去重
func msgID(msg Message) string {
	for _, k := range []string{"Nats-Msg-Id", "X-Msg-Id"} {
		for hk, v := range msg.Header {
			if v != "" && strings.EqualFold(hk, k) {
				return v
			}
		}
	}
	return msg.ID
}

// Dedup skips messages whose id was already handled within ttl. Messages
// without an id always pass.
func Dedup(store IdemStore, ttl time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg Message) error {
			id := msgID(msg)
			if id == "" {
				return next(ctx, msg)
			}
			seen, err := store.SeenOnce(string(msg.Kind)+"|"+id, ttl)
			if err == nil && seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
