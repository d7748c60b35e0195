package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/AlibekovAA/oauth-token-core/internal/common/clock"
	"github.com/AlibekovAA/oauth-token-core/internal/common/config"
	"github.com/AlibekovAA/oauth-token-core/internal/common/constants"
	commoncrypto "github.com/AlibekovAA/oauth-token-core/internal/common/crypto"
	"github.com/AlibekovAA/oauth-token-core/internal/common/db"
	commonhttp "github.com/AlibekovAA/oauth-token-core/internal/common/http"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	srv "github.com/AlibekovAA/oauth-token-core/internal/common/server"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/cleanup"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/directory"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
	oauthhttp "github.com/AlibekovAA/oauth-token-core/internal/oauth/http"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/locking"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/repository"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/service"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/store"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/ticket"
)

const serviceName = "tokenserver"

type App struct {
	Log        *logger.Logger
	Config     config.TokenConfig
	Pool       *pgxpool.Pool
	Redis      redis.UniversalClient
	Directory  *directory.PgDirectory
	Repository *repository.Repository
	Tokens     *service.TokenService
	Clock      clock.Clock
}

// NewTokenApp loads configuration and wires every collaborator of the
// token endpoint. Close releases the connections it opened.
func NewTokenApp(ctx context.Context, migrate bool) (*App, error) {
	log, err := InitializeLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.LoadTokenConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := db.NewPool(ctx, log, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	app := &App{
		Log:    log,
		Config: cfg,
		Pool:   pool,
		Clock:  clock.NewRealClock(),
	}

	if migrate {
		if err := db.Migrate(ctx, log, pool); err != nil {
			app.Close()
			return nil, err
		}
	}

	if cfg.RedisURL != "" {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Redis = client
	}

	if err := app.wire(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire() error {
	idGenerator := commoncrypto.NewUUIDGenerator()
	hasher := commoncrypto.NewSHA256TokenHasher()

	pgDirectory, err := directory.NewPgDirectory(a.Pool, &commoncrypto.BcryptHasher{}, idGenerator, a.Clock)
	if err != nil {
		return err
	}
	a.Directory = pgDirectory
	resolver := directory.StaticResolver{directory.ManagerPostgres: pgDirectory}

	tokenStore, err := a.newStore(idGenerator)
	if err != nil {
		return err
	}
	locker, err := a.newLocker()
	if err != nil {
		return err
	}

	breaker := repository.NewStoreCircuitBreaker(
		"refresh_token_store",
		a.Config.CircuitBreaker.Threshold,
		a.Config.CircuitBreaker.Timeout,
		a.Config.CircuitBreaker.ResetAfter,
		a.Log,
	)
	a.Repository = repository.NewRepository(tokenStore, hasher, breaker, a.Log)

	a.Tokens = service.NewTokenService(service.TokenServiceDeps{
		Validator:     service.NewClientAuthenticationValidator(service.NewStaticClientRegistry(clientsFromConfig(a.Config.Clients)), a.Log),
		PasswordGrant: service.NewPasswordGrantHandler(resolver, a.Config.IdentityManager, a.Log),
		RefreshGrant:  service.NewRefreshGrantHandler(a.Log),
		RefreshTokenIssuer: service.NewRefreshTokenIssuer(
			a.Repository,
			hasher,
			commoncrypto.NewRandomSecretGenerator(),
			ticket.NewJWTSerializer(a.Config.TicketSecret),
			locker,
			a.Clock,
			a.Config.RefreshTokenLifetime,
			a.Log,
		),
		AccessTokenIssuer: service.NewAccessTokenIssuer(a.Config.AccessTokenSecret, idGenerator, a.Config.AccessTokenTTL, a.Clock),
		Finalizer:         service.NewTokenEndpointFinalizer(),
		Repository:        a.Repository,
		Clock:             a.Clock,
		Logger:            a.Log,
	})
	return nil
}

func (a *App) newStore(idGenerator commoncrypto.IDGenerator) (store.RefreshTokenStore, error) {
	switch a.Config.RefreshTokenStore {
	case store.BackendPostgres:
		return store.NewPgStore(a.Pool, idGenerator, a.Log), nil
	case store.BackendRedis:
		if a.Redis == nil {
			return nil, fmt.Errorf("redis refresh token store requires REDIS_URL")
		}
		return store.NewRedisStore(a.Redis, store.DefaultRedisPrefix, idGenerator), nil
	case store.BackendMemory:
		a.Log.Warn("using in-memory refresh token store; tokens are lost on restart")
		return store.NewMemoryStore(idGenerator), nil
	default:
		return nil, fmt.Errorf("unknown refresh token store %q", a.Config.RefreshTokenStore)
	}
}

func (a *App) newLocker() (locking.KeyedLocker, error) {
	switch a.Config.LockBackend {
	case locking.BackendLocal:
		return locking.NewLocalLocker(), nil
	case locking.BackendRedis:
		if a.Redis == nil {
			return nil, fmt.Errorf("redis lock backend requires REDIS_URL")
		}
		return locking.NewRedisLocker(a.Redis, locking.RedisLockerConfig{
			TTL:   a.Config.LockTTL,
			Retry: constants.DefaultTokenLockRetry,
		}, a.Log), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", a.Config.LockBackend)
	}
}

func (a *App) healthChecks() map[string]commonhttp.HealthCheck {
	checks := make(map[string]commonhttp.HealthCheck, 2)
	if a.Pool != nil {
		checks["postgres"] = a.Pool.Ping
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Serve runs the HTTP server until ctx is cancelled or SIGINT/SIGTERM arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db.StartPoolMetrics(ctx, a.Pool, constants.DBPoolMetricsInterval)
	go cleanup.StartRefreshTokenCleanup(ctx, a.Repository, a.Clock, a.Config.CleanupInterval, a.Log)

	mux := http.NewServeMux()
	mux.Handle("/", oauthhttp.NewHandler(a.Tokens, a.Config, a.healthChecks(), a.Log))
	mux.Handle("/metrics", promhttp.Handler())

	rateLimiter := commonhttp.NewStrictRateLimiter()
	handler := commonhttp.BuildBaseHandler(a.Log, rateLimiter.Middleware(mux))

	server := srv.NewServer(srv.DefaultConfig(a.Config.HTTPPort), handler)

	shutdownHooks := []srv.ShutdownHook{
		func(ctx context.Context) error {
			a.Log.Infof("%s: stopping cleanup and rate limiters", serviceName)
			cancel()
			rateLimiter.Stop()
			return nil
		},
	}

	return srv.Run(ctx, server, a.Log, serviceName, shutdownHooks)
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warnf("failed to close redis client: %v", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

func clientsFromConfig(clients []config.ClientConfig) []domain.Client {
	out := make([]domain.Client, 0, len(clients))
	for _, c := range clients {
		out = append(out, domain.Client{
			ID:              c.ID,
			AllowedOrigin:   c.AllowedOrigin,
			RefreshLifetime: c.RefreshLifetime,
		})
	}
	return out
}

func newRedisClient(ctx context.Context, redisURL string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func InitializeLogger() (*logger.Logger, error) {
	return logger.New(os.Getenv("LOG_DIR"), serviceName, os.Getenv("LOG_LEVEL"))
}

// NewDatabase opens a pool from DATABASE_URL only, for commands that do not
// serve tokens.
func NewDatabase(ctx context.Context) (*logger.Logger, *pgxpool.Pool, error) {
	log, err := InitializeLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.LoadDatabaseConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := db.NewPool(ctx, log, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return log, pool, nil
}
