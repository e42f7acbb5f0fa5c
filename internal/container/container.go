package container

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/ratelimit-go/internal/audit"
	auditstore "github.com/serroba/ratelimit-go/internal/audit/store"
	"github.com/serroba/ratelimit-go/internal/handlers"
	"github.com/serroba/ratelimit-go/internal/health"
	"github.com/serroba/ratelimit-go/internal/middleware"
	"github.com/serroba/ratelimit-go/internal/ratelimit"
	"github.com/serroba/ratelimit-go/internal/store"
	"go.uber.org/zap"
)

// Options holds the runtime configuration shared by the server and the
// audit consumer.
type Options struct {
	Port          int     `default:"8888"             help:"Port to listen on"                                          short:"p"`
	RedisAddr     string  `default:"localhost:6379"   help:"Redis server address"                                       short:"r"`
	PostgresDSN   string  `default:""                 help:"PostgreSQL DSN for audit persistence; logs events if empty" name:"postgres-dsn"`
	LogFormat     string  `default:"console"          help:"Log output format (console or json)"`
	Backend       string  `default:"redis"            help:"Rate limit state backend (redis or memory)"                 short:"b"`
	Algorithm     string  `default:"token_bucket"     help:"Rate limiting algorithm"                                    short:"a"`
	Capacity      int64   `default:"100"              help:"Maximum request units per key"`
	Window        string  `default:"1m"               help:"Window length for window-based algorithms"`
	RefillRate    float64 `default:"10"               help:"Refill or leak rate in units per second"`
	FailurePolicy string  `default:"fail_closed"      help:"Decision when the backend is unreachable (fail_open or fail_closed)"`
	KeyLength     int     `default:"21"               help:"Length of minted API keys"                                  short:"k"`
	ConsumerGroup string  `default:"audit"            help:"Redis stream consumer group for audit events"`
}

// LimiterConfig translates CLI options into a limiter configuration.
func (o *Options) LimiterConfig() (ratelimit.Config, error) {
	window, err := time.ParseDuration(o.Window)
	if err != nil {
		return ratelimit.Config{}, fmt.Errorf("parse window: %w", err)
	}

	return ratelimit.Config{
		Algorithm:     ratelimit.Algorithm(o.Algorithm),
		Capacity:      o.Capacity,
		Window:        window,
		RefillRate:    o.RefillRate,
		FailurePolicy: ratelimit.FailurePolicy(o.FailurePolicy),
	}, nil
}

// LoggerPackage provides the zap logger.
func LoggerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*zap.Logger, error) {
		options := do.MustInvoke[*Options](i)

		if options.LogFormat == "json" {
			return zap.NewProduction()
		}

		return zap.NewDevelopment()
	})
}

// RedisPackage provides the shared Redis client.
func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*redis.Client, error) {
		options := do.MustInvoke[*Options](i)

		return redis.NewClient(&redis.Options{
			Addr: options.RedisAddr,
		}), nil
	})
}

// PostgresPackage provides the pgx pool for audit persistence. Only invoked
// when a DSN is configured.
func PostgresPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*pgxpool.Pool, error) {
		options := do.MustInvoke[*Options](i)

		return pgxpool.New(context.Background(), options.PostgresDSN)
	})
}

// StorePackage provides the per-key state store backing the limiter.
func StorePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (ratelimit.Store, error) {
		options := do.MustInvoke[*Options](i)

		switch options.Backend {
		case "memory":
			return store.NewMemoryStore(nil), nil
		case "redis":
			return store.NewRedisStore(do.MustInvoke[*redis.Client](i)), nil
		default:
			return nil, fmt.Errorf("unknown backend %q", options.Backend)
		}
	})
}

// RateLimitPackage provides the limiter configuration and the limiter itself.
func RateLimitPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (ratelimit.Config, error) {
		options := do.MustInvoke[*Options](i)

		return options.LimiterConfig()
	})

	do.Provide(injector, func(i *do.Injector) (ratelimit.Limiter, error) {
		cfg := do.MustInvoke[ratelimit.Config](i)
		limiterStore := do.MustInvoke[ratelimit.Store](i)
		logger := do.MustInvoke[*zap.Logger](i)

		return ratelimit.New(cfg, limiterStore, nil, logger)
	})
}

// PublisherPackage provides the audit event publisher over Redis streams.
func PublisherPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*audit.Publisher, error) {
		redisClient := do.MustInvoke[*redis.Client](i)

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client: redisClient,
		}, watermill.NopLogger{})
		if err != nil {
			return nil, err
		}

		return audit.NewPublisher(publisher), nil
	})
}

// AuditStorePackage provides the audit event store: PostgreSQL when a DSN
// is configured, a logging no-op otherwise.
func AuditStorePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (audit.Store, error) {
		options := do.MustInvoke[*Options](i)

		if options.PostgresDSN == "" {
			return auditstore.NewNoop(do.MustInvoke[*zap.Logger](i)), nil
		}

		return auditstore.NewPostgres(do.MustInvoke[*pgxpool.Pool](i)), nil
	})
}

// ConsumerPackage provides the audit consumer reading from Redis streams.
func ConsumerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (message.Subscriber, error) {
		options := do.MustInvoke[*Options](i)
		redisClient := do.MustInvoke[*redis.Client](i)

		return redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        redisClient,
			ConsumerGroup: options.ConsumerGroup,
		}, watermill.NopLogger{})
	})

	do.Provide(injector, func(i *do.Injector) (*audit.Consumer, error) {
		subscriber := do.MustInvoke[message.Subscriber](i)
		eventStore := do.MustInvoke[audit.Store](i)
		logger := do.MustInvoke[*zap.Logger](i)

		return audit.NewConsumer(subscriber, eventStore, logger), nil
	})
}

// HTTPPackage provides the router and the API with middleware and routes
// registered.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		options := do.MustInvoke[*Options](i)
		router := do.MustInvoke[*chi.Mux](i)
		logger := do.MustInvoke[*zap.Logger](i)
		cfg := do.MustInvoke[ratelimit.Config](i)
		limiter := do.MustInvoke[ratelimit.Limiter](i)
		limiterStore := do.MustInvoke[ratelimit.Store](i)
		publisher := do.MustInvoke[*audit.Publisher](i)

		api := humachi.New(router, huma.DefaultConfig("Rate Limiter", "1.0.0"))
		api.UseMiddleware(middleware.RequestMeta(api))
		api.UseMiddleware(middleware.RateLimiter(api, limiter, cfg, publisher, logger))

		keyGenerator, err := nanoid.Standard(options.KeyLength)
		if err != nil {
			return nil, fmt.Errorf("build key generator: %w", err)
		}

		keysHandler := handlers.NewKeysHandler(keyGenerator, logger)
		pingHandler := handlers.NewPingHandler(nil)
		handlers.RegisterRoutes(api, keysHandler, pingHandler)

		health.RegisterRoutes(api, health.NewHandler(health.NewStoreChecker(limiterStore)))

		return api, nil
	})
}
