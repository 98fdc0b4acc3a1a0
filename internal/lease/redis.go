package lease

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "saga:lease:"

// releaseScript deletes the lease key only when it still belongs to the
// releasing owner, so an expired-and-reacquired lease is never removed by
// the previous holder.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLeaseClient is the minimal client surface used by RedisManager.
type RedisLeaseClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// NewRedisManager constructs a Redis-backed lease manager.
func NewRedisManager(client RedisLeaseClient) *RedisManager {
	return &RedisManager{client: client, newToken: uuid.NewString}
}

// RedisManager takes per-saga leases with SET NX and a TTL, making "one
// active engine run per saga id" hold across orchestrator processes. The TTL
// backstops a crashed holder; versioned state updates catch the rare case of
// a run outliving its lease.
type RedisManager struct {
	client   RedisLeaseClient
	newToken func() string
}

func (m *RedisManager) Acquire(ctx context.Context, sagaID string, ttl time.Duration) (Lease, bool, error) {
	token := m.newToken()
	ok, err := m.client.SetNX(ctx, keyPrefix+sagaID, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: m.client, key: keyPrefix + sagaID, token: token}, true, nil
}

type redisLease struct {
	client RedisLeaseClient
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	return l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
}
