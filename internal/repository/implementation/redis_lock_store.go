package implementation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/internal/repository/contract"
	"section-collab-be/pkg/collaberr"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisLockPrefix    = "collab:lock:"
	redisDocLocksKey   = "collab:locks:"
	redisExpiryZSetKey = "collab:locks:expiry"
)

// Every script returns {status, owner, acquired_at_ms, expires_at_ms, seq}.
var acquireScript = redis.NewScript(`
local h = redis.call('HMGET', KEYS[1], 'owner', 'acquired_at', 'expires_at', 'seq')
if h[1] then
	if h[1] == ARGV[1] then
		return {2, h[1], h[2], h[3], h[4]}
	end
	return {0, h[1], h[2], h[3], h[4]}
end
local exp = tonumber(ARGV[2]) + tonumber(ARGV[3])
redis.call('HSET', KEYS[1], 'owner', ARGV[1], 'acquired_at', ARGV[2], 'expires_at', exp, 'seq', 0)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
redis.call('ZADD', KEYS[3], exp, ARGV[5])
return {1, ARGV[1], ARGV[2], tostring(exp), '0'}
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
redis.call('ZREM', KEYS[3], ARGV[3])
return 1
`)

// status -1: free, -2: held by someone else, -3: stale seq.
var touchScript = redis.NewScript(`
local h = redis.call('HMGET', KEYS[1], 'owner', 'acquired_at', 'expires_at', 'seq')
if not h[1] then
	return {-1}
end
if h[1] ~= ARGV[1] then
	return {-2, h[1], h[2], h[3], h[4]}
end
local seq = tonumber(ARGV[2])
if seq > 0 then
	if seq < tonumber(h[4]) then
		return {-3}
	end
	redis.call('HSET', KEYS[1], 'seq', ARGV[2])
	h[4] = ARGV[2]
end
local exp = tonumber(ARGV[3]) + tonumber(ARGV[4])
redis.call('HSET', KEYS[1], 'expires_at', exp)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('ZADD', KEYS[2], exp, ARGV[5])
return {1, h[1], h[2], tostring(exp), h[4]}
`)

// Only the instance whose ZREM wins reports the expiry. 1: expired, 0: already
// reaped, 2: the section was re-acquired by someone else in the meantime.
var reapScript = redis.NewScript(`
if redis.call('ZREM', KEYS[3], ARGV[1]) == 0 then
	return 0
end
local h = redis.call('HMGET', KEYS[1], 'owner', 'expires_at')
if h[1] and h[1] ~= ARGV[2] then
	return 2
end
if h[1] and tonumber(h[2]) > tonumber(ARGV[4]) then
	redis.call('ZADD', KEYS[3], h[2], ARGV[1])
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[3])
return 1
`)

// RedisLockStore keeps leases in Redis so every instance sees the same lock table.
// A lease is a hash with a PEXPIRE; a sorted set scored by expiry feeds the reaper.
type RedisLockStore struct {
	rdb          *redis.Client
	logger       logger.ILogger
	reapInterval time.Duration

	handlerMu sync.RWMutex
	onExpire  contract.ExpiryHandler

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

var _ contract.LockStore = (*RedisLockStore)(nil)

func NewRedisLockStore(rdb *redis.Client, reapInterval time.Duration, log logger.ILogger) *RedisLockStore {
	s := &RedisLockStore{
		rdb:          rdb,
		logger:       log,
		reapInterval: reapInterval,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

func leaseKey(key entity.LockKey) string {
	return redisLockPrefix + key.DocumentId.String() + ":" + key.SectionId
}

func docLocksKey(documentId uuid.UUID) string {
	return redisDocLocksKey + documentId.String()
}

func expiryMember(key entity.LockKey, ownerId uuid.UUID) string {
	return key.DocumentId.String() + "|" + key.SectionId + "|" + ownerId.String()
}

func parseExpiryMember(member string) (entity.LockKey, uuid.UUID, error) {
	first := strings.Index(member, "|")
	last := strings.LastIndex(member, "|")
	if first < 0 || first == last {
		return entity.LockKey{}, uuid.Nil, fmt.Errorf("malformed expiry member %q", member)
	}
	docId, err := uuid.Parse(member[:first])
	if err != nil {
		return entity.LockKey{}, uuid.Nil, err
	}
	ownerId, err := uuid.Parse(member[last+1:])
	if err != nil {
		return entity.LockKey{}, uuid.Nil, err
	}
	return entity.LockKey{DocumentId: docId, SectionId: member[first+1 : last]}, ownerId, nil
}

func (s *RedisLockStore) TryAcquire(ctx context.Context, key entity.LockKey, ownerId uuid.UUID, ttl time.Duration) (*entity.Lock, entity.AcquireOutcome, error) {
	now := time.Now().UnixMilli()
	res, err := acquireScript.Run(ctx, s.rdb,
		[]string{leaseKey(key), docLocksKey(key.DocumentId), redisExpiryZSetKey},
		ownerId.String(), now, ttl.Milliseconds(), key.SectionId, expiryMember(key, ownerId),
	).Slice()
	if err != nil {
		return nil, entity.AcquireDenied, fmt.Errorf("acquire %s: %w", key, err)
	}

	status, lock, err := decodeLeaseReply(key, res)
	if err != nil {
		return nil, entity.AcquireDenied, err
	}
	switch status {
	case 1:
		return lock, entity.AcquireGranted, nil
	case 2:
		return lock, entity.AcquireAlreadyHeld, nil
	}
	return lock, entity.AcquireDenied, nil
}

func (s *RedisLockStore) Release(ctx context.Context, key entity.LockKey, ownerId uuid.UUID) (bool, error) {
	n, err := releaseScript.Run(ctx, s.rdb,
		[]string{leaseKey(key), docLocksKey(key.DocumentId), redisExpiryZSetKey},
		ownerId.String(), key.SectionId, expiryMember(key, ownerId),
	).Int()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisLockStore) Touch(ctx context.Context, key entity.LockKey, ownerId uuid.UUID, seq uint64, ttl time.Duration) (*entity.Lock, error) {
	now := time.Now().UnixMilli()
	res, err := touchScript.Run(ctx, s.rdb,
		[]string{leaseKey(key), redisExpiryZSetKey},
		ownerId.String(), seq, now, ttl.Milliseconds(), expiryMember(key, ownerId),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("touch %s: %w", key, err)
	}

	status, lock, err := decodeLeaseReply(key, res)
	if err != nil {
		return nil, err
	}
	switch status {
	case -1:
		return nil, collaberr.ErrLockDenied
	case -2:
		return nil, &collaberr.LockDeniedError{
			DocumentId: key.DocumentId,
			SectionId:  key.SectionId,
			Holder:     collaberr.Holder{UserId: lock.OwnerId, AcquiredAt: lock.AcquiredAt, ExpiresAt: lock.ExpiresAt},
		}
	case -3:
		return nil, collaberr.ErrStaleCommit
	}
	return lock, nil
}

func (s *RedisLockStore) Get(ctx context.Context, key entity.LockKey) (*entity.Lock, error) {
	vals, err := s.rdb.HMGet(ctx, leaseKey(key), "owner", "acquired_at", "expires_at", "seq").Result()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if vals[0] == nil {
		return nil, nil
	}
	lock, err := decodeLease(key, vals)
	if err != nil {
		return nil, err
	}
	if lock.IsExpired(time.Now()) {
		return nil, nil
	}
	return lock, nil
}

func (s *RedisLockStore) ListActive(ctx context.Context, documentId uuid.UUID) ([]*entity.Lock, error) {
	sections, err := s.rdb.SMembers(ctx, docLocksKey(documentId)).Result()
	if err != nil {
		return nil, fmt.Errorf("list locks of %s: %w", documentId, err)
	}

	var out []*entity.Lock
	for _, sectionId := range sections {
		l, err := s.Get(ctx, entity.LockKey{DocumentId: documentId, SectionId: sectionId})
		if err != nil {
			return nil, err
		}
		if l != nil {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectionId < out[j].SectionId })
	return out, nil
}

func (s *RedisLockStore) OnExpire(handler contract.ExpiryHandler) {
	s.handlerMu.Lock()
	s.onExpire = handler
	s.handlerMu.Unlock()
}

// Close stops the reaper. The Redis client belongs to the caller.
func (s *RedisLockStore) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

func (s *RedisLockStore) reapLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reap(context.Background())
		}
	}
}

func (s *RedisLockStore) reap(ctx context.Context) {
	now := time.Now().UnixMilli()
	members, err := s.rdb.ZRangeByScore(ctx, redisExpiryZSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		s.logger.Warn("LockStore", "Failed to scan expired leases", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, member := range members {
		key, ownerId, err := parseExpiryMember(member)
		if err != nil {
			s.logger.Warn("LockStore", "Dropping malformed expiry entry", map[string]interface{}{"member": member, "error": err.Error()})
			if err := s.rdb.ZRem(ctx, redisExpiryZSetKey, member).Err(); err != nil {
				s.logger.Warn("LockStore", "Failed to drop malformed expiry entry", map[string]interface{}{"member": member, "error": err.Error()})
			}
			continue
		}

		n, err := reapScript.Run(ctx, s.rdb,
			[]string{leaseKey(key), docLocksKey(key.DocumentId), redisExpiryZSetKey},
			member, ownerId.String(), key.SectionId, now,
		).Int()
		if err != nil {
			s.logger.Warn("LockStore", "Failed to reap lease", map[string]interface{}{"lock": key.String(), "error": err.Error()})
			continue
		}
		if n != 1 {
			continue
		}

		s.handlerMu.RLock()
		handler := s.onExpire
		s.handlerMu.RUnlock()
		if handler != nil {
			handler(entity.Lock{
				DocumentId: key.DocumentId,
				SectionId:  key.SectionId,
				OwnerId:    ownerId,
				ExpiresAt:  time.UnixMilli(now),
			})
		}
	}
}

func decodeLeaseReply(key entity.LockKey, res []interface{}) (int64, *entity.Lock, error) {
	if len(res) == 0 {
		return 0, nil, fmt.Errorf("empty reply for %s", key)
	}
	status, ok := res[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected status %v for %s", res[0], key)
	}
	if len(res) < 5 {
		return status, nil, nil
	}
	lock, err := decodeLease(key, res[1:5])
	return status, lock, err
}

func decodeLease(key entity.LockKey, vals []interface{}) (*entity.Lock, error) {
	str := func(v interface{}) string {
		switch t := v.(type) {
		case string:
			return t
		case int64:
			return strconv.FormatInt(t, 10)
		}
		return ""
	}

	ownerId, err := uuid.Parse(str(vals[0]))
	if err != nil {
		return nil, fmt.Errorf("lease %s: bad owner: %w", key, err)
	}
	acquired, _ := strconv.ParseInt(str(vals[1]), 10, 64)
	expires, _ := strconv.ParseInt(str(vals[2]), 10, 64)
	seq, _ := strconv.ParseUint(str(vals[3]), 10, 64)

	return &entity.Lock{
		DocumentId: key.DocumentId,
		SectionId:  key.SectionId,
		OwnerId:    ownerId,
		AcquiredAt: time.UnixMilli(acquired),
		ExpiresAt:  time.UnixMilli(expires),
		LastSeq:    seq,
	}, nil
}
