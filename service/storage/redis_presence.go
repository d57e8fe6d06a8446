package storage

import (
	"context"
	"strconv"
	"time"

	"PPRealtime/global/config"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Client is the part of redis.Cmdable the presence store needs.
type Client interface {
	redis.Scripter
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Dial opens a client and pings it.
func Dial(ctx context.Context, c config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", c.Addr)
	}
	return rdb, nil
}

// presence key: im:presence:<user>
// Value: node id of the gateway holding the user, TTL bounds staleness
// if the node dies without cleaning up.
func PresenceKey(userID int64) string { return "im:presence:" + strconv.FormatInt(userID, 10) }

// Only delete the key if this node still owns it; the user may have
// reconnected to another node in the meantime.
// KEYS[1] = presence key, ARGV[1] = node id
// 返回：1 删除；0 不属于本节点或不存在
var luaOfflineIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// PresenceStore mirrors local presence into Redis. It satisfies
// presence.Mirror.
type PresenceStore struct {
	rdb    Client
	nodeID string
	ttl    time.Duration
}

func NewPresenceStore(rdb Client, nodeID string, ttl time.Duration) *PresenceStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &PresenceStore{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

// Online sets the user as online on this node and renews the TTL.
func (s *PresenceStore) Online(ctx context.Context, userID int64) error {
	err := s.rdb.Set(ctx, PresenceKey(userID), s.nodeID, s.ttl).Err()
	return errors.Wrapf(err, "presence online %d", userID)
}

// Offline removes the user's key when this node owns it.
func (s *PresenceStore) Offline(ctx context.Context, userID int64) error {
	err := luaOfflineIfOwner.Run(ctx, s.rdb, []string{PresenceKey(userID)}, s.nodeID).Err()
	return errors.Wrapf(err, "presence offline %d", userID)
}

// Lookup reports whether the user is online anywhere and on which node.
func (s *PresenceStore) Lookup(ctx context.Context, userID int64) (nodeID string, online bool, err error) {
	val, err := s.rdb.Get(ctx, PresenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "presence lookup %d", userID)
	}
	return val, true, nil
}
