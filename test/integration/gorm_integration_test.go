package integration

import (
	"context"
	"log"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"section-collab-be/internal/entity"
	"section-collab-be/internal/model"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/internal/repository/implementation"
	"section-collab-be/internal/service"
	"section-collab-be/pkg/collaberr"
	"section-collab-be/pkg/database"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	// Load .env from root
	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found, using system env")
	}
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("Skipping integration test: DB_CONNECTION_STRING not set")
	}

	db, err := database.NewGormDBFromDSN(dsn, true)
	require.NoError(t, err, "Failed to connect to DB")
	require.NoError(t, db.AutoMigrate(&model.Document{}, &model.Version{}))
	return db
}

func openRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestGormVersionStore(t *testing.T) {
	db := openDB(t)
	versions := service.NewVersionService(
		implementation.NewDocumentRepository(db),
		implementation.NewVersionRepository(db),
	)
	ctx := context.Background()
	author := uuid.New()

	doc, first, err := versions.CreateDocument(ctx, entity.NewSession(author), &entity.Document{
		ProjectId: uuid.New(),
		Name:      "Integration proposal",
	}, []entity.Section{
		{Id: "intro", Title: "Introduction", Editable: true},
		{Id: "legal", Title: "Legal", Content: "boilerplate", Editable: false},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.VersionNumber)

	t.Run("Concurrent commits get distinct numbers", func(t *testing.T) {
		const writers = 8
		var wg sync.WaitGroup
		numbers := make(chan int, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := versions.CommitSection(ctx, doc.Id, "intro", uuid.NewString(), author)
				assert.NoError(t, err)
				if v != nil {
					numbers <- v.VersionNumber
				}
			}()
		}
		wg.Wait()
		close(numbers)

		seen := map[int]bool{}
		for n := range numbers {
			assert.False(t, seen[n], "version %d assigned twice", n)
			seen[n] = true
		}
		assert.Len(t, seen, writers)

		current, err := versions.GetCurrentVersion(ctx, doc.Id)
		require.NoError(t, err)
		assert.Equal(t, 1+writers, current.VersionNumber)
	})

	t.Run("History is immutable and ordered", func(t *testing.T) {
		all, err := versions.ListVersions(ctx, doc.Id)
		require.NoError(t, err)
		for i := 1; i < len(all); i++ {
			assert.Greater(t, all[i-1].VersionNumber, all[i].VersionNumber)
		}

		v1, err := versions.GetVersion(ctx, doc.Id, 1)
		require.NoError(t, err)
		intro, ok := v1.Section("intro")
		require.True(t, ok)
		assert.Empty(t, intro.Content)
	})

	t.Run("Non-editable section cannot be committed", func(t *testing.T) {
		_, err := versions.CommitSection(ctx, doc.Id, "legal", "changed", author)
		assert.ErrorIs(t, err, collaberr.ErrNotEditable)
	})

	t.Run("Unknown document", func(t *testing.T) {
		_, err := versions.GetCurrentVersion(ctx, uuid.New())
		assert.ErrorIs(t, err, collaberr.ErrNotFound)
	})
}

func TestRedisLockStore(t *testing.T) {
	rdb := openRedis(t)
	store := implementation.NewRedisLockStore(rdb, 20*time.Millisecond, logger.NewNopLogger())
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	key := entity.LockKey{DocumentId: uuid.New(), SectionId: "intro"}
	alice, bob := uuid.New(), uuid.New()

	t.Run("Exclusive lease", func(t *testing.T) {
		_, outcome, err := store.TryAcquire(ctx, key, alice, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, entity.AcquireGranted, outcome)

		holder, outcome, err := store.TryAcquire(ctx, key, bob, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, entity.AcquireDenied, outcome)
		assert.Equal(t, alice, holder.OwnerId)
	})

	t.Run("Sequence numbers", func(t *testing.T) {
		_, err := store.Touch(ctx, key, alice, 2, time.Minute)
		require.NoError(t, err)
		_, err = store.Touch(ctx, key, alice, 2, time.Minute)
		assert.NoError(t, err, "a retry of the same commit is accepted")
		_, err = store.Touch(ctx, key, alice, 1, time.Minute)
		assert.ErrorIs(t, err, collaberr.ErrStaleCommit)
		_, err = store.Touch(ctx, key, bob, 3, time.Minute)
		assert.ErrorIs(t, err, collaberr.ErrLockDenied)
	})

	t.Run("Release by holder only", func(t *testing.T) {
		changed, err := store.Release(ctx, key, bob)
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = store.Release(ctx, key, alice)
		require.NoError(t, err)
		assert.True(t, changed)

		active, err := store.ListActive(ctx, key.DocumentId)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("Expired lease is reaped", func(t *testing.T) {
		expired := make(chan entity.Lock, 1)
		store.OnExpire(func(l entity.Lock) {
			if l.Key() == key {
				expired <- l
			}
		})

		_, _, err := store.TryAcquire(ctx, key, bob, 50*time.Millisecond)
		require.NoError(t, err)

		select {
		case l := <-expired:
			assert.Equal(t, bob, l.OwnerId)
		case <-time.After(2 * time.Second):
			t.Fatal("lease was not reaped")
		}
	})
}

type warnRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *warnRecorder) Debug(module, message string, details map[string]interface{}) {}
func (r *warnRecorder) Info(module, message string, details map[string]interface{})  {}
func (r *warnRecorder) Error(module, message string, details map[string]interface{}) {}
func (r *warnRecorder) Sync() error                                                   { return nil }

func (r *warnRecorder) Warn(module, message string, details map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *warnRecorder) has(message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m == message {
			return true
		}
	}
	return false
}

func TestRedisReaperDropsMalformedEntries(t *testing.T) {
	rdb := openRedis(t)
	rec := &warnRecorder{}
	store := implementation.NewRedisLockStore(rdb, 20*time.Millisecond, rec)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	member := "not-a-lease-" + uuid.NewString()
	require.NoError(t, rdb.ZAdd(ctx, "collab:locks:expiry", redis.Z{Score: 0, Member: member}).Err())

	assert.Eventually(t, func() bool {
		err := rdb.ZScore(ctx, "collab:locks:expiry", member).Err()
		return errors.Is(err, redis.Nil)
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, rec.has("Dropping malformed expiry entry"))
}
