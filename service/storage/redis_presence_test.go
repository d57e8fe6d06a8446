package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	val string
	ttl time.Duration
}

// memRedis understands SET, GET and the owner-checked delete script.
type memRedis struct {
	redis.Scripter // unused methods panic

	mu   sync.Mutex
	data map[string]entry
	fail error
}

func newMemRedis() *memRedis { return &memRedis{data: map[string]entry{}} }

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return redis.NewStatusResult("", m.fail)
	}
	m.data[key] = entry{val: value.(string), ttl: ttl}
	return redis.NewStatusResult("OK", nil)
}

func (m *memRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return redis.NewStringResult("", m.fail)
	}
	e, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(e.val, nil)
}

func (m *memRedis) EvalSha(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return m.Eval(ctx, "", keys, args...)
}

func (m *memRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return redis.NewCmdResult(nil, m.fail)
	}
	if e, ok := m.data[keys[0]]; ok && e.val == args[0] {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestPresenceKey(t *testing.T) {
	assert.Equal(t, "im:presence:42", PresenceKey(42))
}

func TestPresenceOnlineLookupOffline(t *testing.T) {
	rdb := newMemRedis()
	s := NewPresenceStore(rdb, "node-a", time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Online(ctx, 7))
	assert.Equal(t, entry{val: "node-a", ttl: time.Minute}, rdb.data["im:presence:7"])

	node, online, err := s.Lookup(ctx, 7)
	require.NoError(t, err)
	assert.True(t, online)
	assert.Equal(t, "node-a", node)

	require.NoError(t, s.Offline(ctx, 7))
	_, online, err = s.Lookup(ctx, 7)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestOfflineLeavesOtherNodesKey(t *testing.T) {
	rdb := newMemRedis()
	a := NewPresenceStore(rdb, "node-a", time.Minute)
	b := NewPresenceStore(rdb, "node-b", time.Minute)
	ctx := context.Background()

	require.NoError(t, a.Online(ctx, 7))
	require.NoError(t, b.Online(ctx, 7)) // user moved to node-b
	require.NoError(t, a.Offline(ctx, 7))

	node, online, err := b.Lookup(ctx, 7)
	require.NoError(t, err)
	assert.True(t, online)
	assert.Equal(t, "node-b", node)
}

func TestDefaultTTL(t *testing.T) {
	rdb := newMemRedis()
	s := NewPresenceStore(rdb, "n", 0)
	require.NoError(t, s.Online(context.Background(), 1))
	assert.Equal(t, 2*time.Minute, rdb.data["im:presence:1"].ttl)
}

func TestErrorsAreWrapped(t *testing.T) {
	down := errors.New("dial tcp: connection refused")
	rdb := newMemRedis()
	rdb.fail = down
	s := NewPresenceStore(rdb, "n", time.Minute)
	ctx := context.Background()

	err := s.Online(ctx, 3)
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "presence online 3")
	assert.ErrorIs(t, s.Offline(ctx, 3), down)
	_, _, err = s.Lookup(ctx, 3)
	assert.ErrorIs(t, err, down)
}
