package bootstrap

import (
	"context"
	"fmt"

	"section-collab-be/internal/config"
	"section-collab-be/internal/controller"
	"section-collab-be/internal/handler"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/internal/pkg/serverutils"
	"section-collab-be/internal/repository/contract"
	"section-collab-be/internal/repository/implementation"
	"section-collab-be/internal/repository/memory"
	"section-collab-be/internal/service"
	"section-collab-be/internal/websocket"
	pktNats "section-collab-be/pkg/nats"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	DocumentController controller.IDocumentController
	SectionController  controller.ISectionController

	// Realtime
	RealtimeHandler *handler.RealtimeHandler
	WebSocketHub    *websocket.Hub

	CollaborationService service.ICollaborationService
	Logger               logger.ILogger

	closers []func() error
}

// NewContainer wires the application. db may be nil, in which case documents
// live in process memory.
func NewContainer(db *gorm.DB, cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	realtimeLogger := logger.NewIsolatedLogger(cfg.App.RealtimeLogPath)
	c := &Container{Logger: sysLogger}

	// 2. Storage
	var documents contract.DocumentRepository
	var versions contract.VersionRepository
	if db != nil {
		documents = implementation.NewDocumentRepository(db)
		versions = implementation.NewVersionRepository(db)
		sysLogger.Info("Bootstrap", "Using Postgres document store", nil)
	} else {
		store := memory.NewDocumentStore()
		documents, versions = store, store
		sysLogger.Warn("Bootstrap", "DB_CONNECTION_STRING not set, documents are kept in memory", nil)
	}

	lockStore, err := newLockStore(cfg, sysLogger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, lockStore.Close)

	// 3. Event Bus
	broadcaster := service.NewBroadcastService(service.NewBroadcastPubSub(sysLogger), cfg.App.InstanceId, sysLogger)
	c.closers = append(c.closers, broadcaster.Close)

	if cfg.App.NatsURL != "" {
		nc, err := pktNats.Connect(cfg.App.NatsURL, "section-collab-"+cfg.App.InstanceId)
		if err != nil {
			c.Close()
			return nil, err
		}
		relay := service.NewRelayService(broadcaster, pktNats.NewPublisher(nc), pktNats.NewSubscriber(nc), sysLogger)
		if err := relay.Start(); err != nil {
			nc.Close()
			c.Close()
			return nil, fmt.Errorf("start relay: %w", err)
		}
		c.closers = append([]func() error{relay.Close, drain(nc)}, c.closers...)
	} else {
		sysLogger.Info("Bootstrap", "NATS_URL not set, running as a single instance", nil)
	}

	// 4. Services
	versionService := service.NewVersionService(documents, versions)
	lockService := service.NewLockService(lockStore, versionService, broadcaster, cfg.Lock.TTL, sysLogger)
	collabService := service.NewCollaborationService(versionService, lockService, broadcaster, sysLogger)
	c.CollaborationService = collabService

	// 5. Realtime
	wsHub := websocket.NewHub(collabService, cfg.App.InstanceId, cfg.Lock.ReleaseOnDisconnect, realtimeLogger)
	go wsHub.Run()
	c.WebSocketHub = wsHub
	c.closers = append([]func() error{func() error { wsHub.Stop(); return nil }}, c.closers...)

	// 6. Controllers
	jwt := serverutils.NewJwtMiddleware(cfg.Auth.JwtSecret)
	c.DocumentController = controller.NewDocumentController(collabService, jwt)
	c.SectionController = controller.NewSectionController(collabService, jwt)
	c.RealtimeHandler = handler.NewRealtimeHandler(wsHub, jwt, realtimeLogger)

	return c, nil
}

func newLockStore(cfg *config.Config, log logger.ILogger) (contract.LockStore, error) {
	switch cfg.Lock.Backend {
	case "memory", "":
		return memory.NewLockStore(cfg.Lock.ReapInterval), nil
	case "redis":
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Warn("Bootstrap", "Failed to parse Redis URL, using it as an address", map[string]interface{}{"error": err.Error()})
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info("Bootstrap", "Using Redis lock store", nil)
		store := implementation.NewRedisLockStore(rdb, cfg.Lock.ReapInterval, log)
		return &redisBacked{RedisLockStore: store, rdb: rdb}, nil
	}
	return nil, fmt.Errorf("unknown LOCK_BACKEND %q", cfg.Lock.Backend)
}

// redisBacked closes the client it owns after the store's reaper has stopped.
type redisBacked struct {
	*implementation.RedisLockStore
	rdb *redis.Client
}

func (r *redisBacked) Close() error {
	if err := r.RedisLockStore.Close(); err != nil {
		return err
	}
	return r.rdb.Close()
}

func drain(nc *nats.Conn) func() error {
	return func() error { return nc.Drain() }
}

// Close releases everything in reverse dependency order.
func (c *Container) Close() {
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			c.Logger.Warn("Bootstrap", "Shutdown step failed", map[string]interface{}{"error": err.Error()})
		}
	}
	_ = c.Logger.Sync()
}
