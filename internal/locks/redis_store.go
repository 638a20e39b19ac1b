package locks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript installs or refreshes a lock hash.
// KEYS[1] = lock key
// ARGV[1] = holder id, ARGV[2] = holder name
// ARGV[3] = acquired at (unix ms), ARGV[4] = expires at (unix ms)
// ARGV[5] = ttl (ms), ARGV[6] = now (unix ms)
// Returns {1} when granted, otherwise {0, holder_id, holder_name, acquired_at, expires_at}.
var acquireScript = redis.NewScript(`
local cur = redis.call("HMGET", KEYS[1], "holder_id", "holder_name", "acquired_at", "expires_at")
if cur[1] and cur[1] ~= ARGV[1] and tonumber(cur[4]) > tonumber(ARGV[6]) then
    return {0, cur[1], cur[2], cur[3], cur[4]}
end
redis.call("HSET", KEYS[1], "holder_id", ARGV[1], "holder_name", ARGV[2], "acquired_at", ARGV[3], "expires_at", ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {1}
`)

// releaseScript deletes the lock only for its holder.
var releaseScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "holder_id") == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps one hash per locked record and lets Redis expire it.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "edit_lock"}
}

func (s *RedisStore) key(table string, recordID int64) string {
	return fmt.Sprintf("%s:%s:%d", s.prefix, table, recordID)
}

// TryAcquire runs the check-and-set script.
func (s *RedisStore) TryAcquire(ctx context.Context, lock EditLock, now time.Time) (EditLock, bool, error) {
	ttl := lock.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return EditLock{}, false, fmt.Errorf("locks: lock already expired")
	}
	res, err := acquireScript.Run(ctx, s.client, []string{s.key(lock.Table, lock.RecordID)},
		lock.HolderID, lock.HolderName, lock.AcquiredAt.UnixMilli(), lock.ExpiresAt.UnixMilli(),
		ttl.Milliseconds(), now.UnixMilli()).Slice()
	if err != nil {
		return EditLock{}, false, fmt.Errorf("locks: redis acquire: %w", err)
	}
	if len(res) == 0 {
		return EditLock{}, false, errors.New("locks: empty reply from acquire script")
	}
	if granted, _ := res[0].(int64); granted == 1 {
		return lock, true, nil
	}
	if len(res) != 5 {
		return EditLock{}, false, fmt.Errorf("locks: unexpected acquire reply of %d values", len(res))
	}
	fields := make([]string, 4)
	for i := range fields {
		fields[i], _ = res[i+1].(string)
	}
	holder, err := decodeLock(lock.Table, lock.RecordID, fields)
	if err != nil {
		return EditLock{}, false, err
	}
	return holder, false, nil
}

// Release deletes the lock when holderID owns it.
func (s *RedisStore) Release(ctx context.Context, table string, recordID, holderID int64) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(table, recordID)}, holderID).Err(); err != nil {
		return fmt.Errorf("locks: redis release: %w", err)
	}
	return nil
}

// Get loads the lock hash.
func (s *RedisStore) Get(ctx context.Context, table string, recordID int64, now time.Time) (EditLock, bool, error) {
	vals, err := s.client.HMGet(ctx, s.key(table, recordID), "holder_id", "holder_name", "acquired_at", "expires_at").Result()
	if err != nil {
		return EditLock{}, false, fmt.Errorf("locks: redis get: %w", err)
	}
	fields := make([]string, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return EditLock{}, false, nil
		}
		fields[i] = str
	}
	lock, err := decodeLock(table, recordID, fields)
	if err != nil {
		return EditLock{}, false, err
	}
	if !lock.Active(now) {
		return EditLock{}, false, nil
	}
	return lock, true, nil
}

// Sweep is a no-op; keys carry their own TTL.
func (s *RedisStore) Sweep(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func decodeLock(table string, recordID int64, fields []string) (EditLock, error) {
	if len(fields) != 4 {
		return EditLock{}, fmt.Errorf("locks: malformed lock hash")
	}
	holderID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return EditLock{}, fmt.Errorf("locks: holder id: %w", err)
	}
	acquired, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return EditLock{}, fmt.Errorf("locks: acquired at: %w", err)
	}
	expires, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return EditLock{}, fmt.Errorf("locks: expires at: %w", err)
	}
	return EditLock{
		Table:      table,
		RecordID:   recordID,
		HolderID:   holderID,
		HolderName: fields[1],
		AcquiredAt: time.UnixMilli(acquired).UTC(),
		ExpiresAt:  time.UnixMilli(expires).UTC(),
	}, nil
}
