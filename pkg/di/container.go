package di

import (
	"context"
	"fmt"

	"actionit/backend/conversation/models"
	"actionit/backend/conversation/repository"
	"actionit/backend/conversation/service"
	"actionit/backend/conversation/ws"
	"actionit/backend/pkg/cache"
	"actionit/backend/pkg/config"
	"actionit/backend/pkg/health"
	"actionit/backend/pkg/jwt"
	"actionit/backend/pkg/logger"
	"actionit/backend/pkg/secrets"
	"actionit/backend/shared/redis"

	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config         *config.Config
	DB             *gorm.DB
	Logger         *logger.Logger
	Secrets        secrets.Manager
	JWTService     *jwt.Service
	Repository     *repository.GormMessageRepository
	ListCache      service.ListCache
	MessageService *service.MessageService
	Hub            *ws.Hub
	Health         *health.Checker

	memCache *cache.Cache[[]models.Message]
	redis    *redis.RedisClient
}

// New wires the backend services on top of an open database
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger, sm secrets.Manager) (*Container, error) {
	if cfg == nil {
		cfg = config.Get()
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	jwtSecret := cfg.JWT.Secret
	if sm != nil {
		jwtSecret = sm.GetSecretWithDefault(ctx, "jwt-secret", jwtSecret)
	}
	jwtService := jwt.NewService(jwtSecret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	repo := repository.NewGormMessageRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate message tables: %w", err)
	}

	c := &Container{
		Config:     cfg,
		DB:         db,
		Logger:     log,
		Secrets:    sm,
		JWTService: jwtService,
		Repository: repo,
		Hub:        ws.NewHub(log),
		Health:     health.NewChecker(log, cfg.Server.Timeout),
	}

	c.ListCache = c.buildListCache(ctx)
	c.MessageService = service.NewMessageService(repo, c.ListCache, c.Hub, log)

	c.Health.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if c.redis != nil {
		c.Health.RegisterCacheCheck("redis", c.redis.Ping)
	}

	return c, nil
}

// buildListCache prefers redis and falls back to the in-process cache
func (c *Container) buildListCache(ctx context.Context) service.ListCache {
	cfg := c.Config
	if !cfg.Cache.Enabled {
		return service.NoopListCache{}
	}

	if cfg.Redis.Enabled {
		password := cfg.Redis.Password
		if c.Secrets != nil {
			password = c.Secrets.GetSecretWithDefault(ctx, "redis-password", password)
		}
		client := redis.NewRedisClient(redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err := client.Ping(ctx); err != nil {
			c.Logger.Warn("Redis unreachable, list cache falls back to memory", "addr", cfg.Redis.Addr, "error", err)
			_ = client.Close()
		} else {
			c.redis = client
			return service.NewRedisListCache(client, cfg.Cache.TTL, c.Logger)
		}
	}

	c.memCache = cache.New[[]models.Message](cache.Options{
		DefaultExpiration: cfg.Cache.TTL,
		CleanupInterval:   cfg.Cache.PurgeWindow,
		MaxItems:          cfg.Cache.MaxSize,
	})
	return service.NewMemoryListCache(c.memCache)
}

// Close releases cache connections
func (c *Container) Close() error {
	if c.memCache != nil {
		c.memCache.Close()
	}
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// ListCacheInfo names the list cache backend and, for the in-process
// backend, its counters.
func (c *Container) ListCacheInfo() (string, *cache.Stats) {
	switch {
	case c.redis != nil:
		return "redis", nil
	case c.memCache != nil:
		stats := c.memCache.Stats()
		return "memory", &stats
	default:
		return "disabled", nil
	}
}
