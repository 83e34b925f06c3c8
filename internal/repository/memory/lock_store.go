package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/repository/contract"
	"section-collab-be/pkg/collaberr"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// LockStore is a single-process lease table. go-cache drops expired leases from
// reads immediately and its janitor evicts them every reap interval, which is
// when the expiry handler fires.
type LockStore struct {
	// serializes check-then-set sequences; go-cache only makes single calls atomic
	mu    sync.Mutex
	cache *cache.Cache

	handlerMu sync.RWMutex
	onExpire  contract.ExpiryHandler
}

var _ contract.LockStore = (*LockStore)(nil)

func NewLockStore(reapInterval time.Duration) *LockStore {
	s := &LockStore{
		cache: cache.New(cache.NoExpiration, reapInterval),
	}
	s.cache.OnEvicted(s.evicted)
	return s
}

func (s *LockStore) TryAcquire(ctx context.Context, key entity.LockKey, ownerId uuid.UUID, ttl time.Duration) (*entity.Lock, entity.AcquireOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, entity.AcquireDenied, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	if x, found := s.cache.Get(k); found {
		held := x.(entity.Lock)
		if held.OwnerId == ownerId {
			return &held, entity.AcquireAlreadyHeld, nil
		}
		return &held, entity.AcquireDenied, nil
	}

	now := time.Now()
	l := entity.Lock{
		DocumentId: key.DocumentId,
		SectionId:  key.SectionId,
		OwnerId:    ownerId,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	s.cache.Set(k, l, ttl)
	return &l, entity.AcquireGranted, nil
}

func (s *LockStore) Release(ctx context.Context, key entity.LockKey, ownerId uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	x, found := s.cache.Get(k)
	if !found || x.(entity.Lock).OwnerId != ownerId {
		return false, nil
	}
	s.cache.Delete(k)
	return true, nil
}

func (s *LockStore) Touch(ctx context.Context, key entity.LockKey, ownerId uuid.UUID, seq uint64, ttl time.Duration) (*entity.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	x, found := s.cache.Get(k)
	if !found {
		return nil, collaberr.ErrLockDenied
	}
	l := x.(entity.Lock)
	if l.OwnerId != ownerId {
		return nil, &collaberr.LockDeniedError{
			DocumentId: key.DocumentId,
			SectionId:  key.SectionId,
			Holder:     collaberr.Holder{UserId: l.OwnerId, AcquiredAt: l.AcquiredAt, ExpiresAt: l.ExpiresAt},
		}
	}
	if seq > 0 {
		if seq < l.LastSeq {
			return nil, collaberr.ErrStaleCommit
		}
		l.LastSeq = seq
	}
	l.ExpiresAt = time.Now().Add(ttl)
	s.cache.Set(k, l, ttl)
	return &l, nil
}

func (s *LockStore) Get(ctx context.Context, key entity.LockKey) (*entity.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x, found := s.cache.Get(key.String())
	if !found {
		return nil, nil
	}
	l := x.(entity.Lock)
	return &l, nil
}

func (s *LockStore) ListActive(ctx context.Context, documentId uuid.UUID) ([]*entity.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*entity.Lock
	for _, item := range s.cache.Items() {
		l := item.Object.(entity.Lock)
		if l.DocumentId == documentId {
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectionId < out[j].SectionId })
	return out, nil
}

func (s *LockStore) OnExpire(handler contract.ExpiryHandler) {
	s.handlerMu.Lock()
	s.onExpire = handler
	s.handlerMu.Unlock()
}

func (s *LockStore) Close() error {
	s.cache.Flush()
	return nil
}

// evicted runs for explicit deletes too; only leases past their expiry count as reaped.
func (s *LockStore) evicted(_ string, value interface{}) {
	l, ok := value.(entity.Lock)
	if !ok || !l.IsExpired(time.Now()) {
		return
	}

	s.handlerMu.RLock()
	handler := s.onExpire
	s.handlerMu.RUnlock()

	if handler != nil {
		handler(l)
	}
}
