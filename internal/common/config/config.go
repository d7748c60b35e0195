package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/AlibekovAA/oauth-token-core/internal/common/constants"
	commonerrors "github.com/AlibekovAA/oauth-token-core/internal/common/errors"
)

type ClientConfig struct {
	ID              string        `mapstructure:"id" validate:"required,max=50"`
	AllowedOrigin   string        `mapstructure:"allowed_origin" validate:"required"`
	RefreshLifetime time.Duration `mapstructure:"refresh_lifetime" validate:"gte=0"`
}

type CircuitBreakerConfig struct {
	Threshold  int32         `validate:"gte=0"`
	Timeout    time.Duration `validate:"gte=0"`
	ResetAfter time.Duration `validate:"gte=0"`
}

type TokenConfig struct {
	HTTPPort             string        `validate:"required,numeric"`
	DatabaseURL          string        `validate:"required"`
	RedisURL             string        `validate:"required_if=RefreshTokenStore redis"`
	RefreshTokenStore    string        `validate:"oneof=postgres redis memory"`
	LockBackend          string        `validate:"oneof=local redis"`
	IdentityManager      string        `validate:"required"`
	TicketSecret         string        `validate:"min=32"`
	AccessTokenSecret    string        `validate:"min=32"`
	AccessTokenTTL       time.Duration `validate:"gt=0"`
	RefreshTokenLifetime time.Duration `validate:"gt=0"`
	LockTTL              time.Duration `validate:"gt=0"`
	CleanupInterval      time.Duration `validate:"gte=0"`
	RequestTimeout       time.Duration `validate:"gt=0"`
	CircuitBreaker       CircuitBreakerConfig
	Clients              []ClientConfig `validate:"required,min=1,dive"`
}

type DatabaseConfig struct {
	DatabaseURL string `validate:"required"`
}

var validate = validator.New()

func LoadTokenConfig() (TokenConfig, error) {
	ticketSecret, err := mustEnv("TICKET_SECRET")
	if err != nil {
		return TokenConfig{}, err
	}

	accessSecret, err := mustEnv("ACCESS_TOKEN_SECRET")
	if err != nil {
		return TokenConfig{}, err
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return TokenConfig{}, err
	}

	clients, err := loadClients()
	if err != nil {
		return TokenConfig{}, err
	}

	cfg := TokenConfig{
		HTTPPort:             getEnv("TOKEN_HTTP_PORT", constants.DefaultTokenHTTPPort),
		DatabaseURL:          databaseURL,
		RedisURL:             getEnv("REDIS_URL", ""),
		RefreshTokenStore:    strings.ToLower(getEnv("REFRESH_TOKEN_STORE", constants.DefaultRefreshTokenStoreBackend)),
		LockBackend:          strings.ToLower(getEnv("TOKEN_LOCK_BACKEND", constants.DefaultTokenLockBackend)),
		IdentityManager:      strings.ToLower(getEnv("IDENTITY_MANAGER", constants.DefaultIdentityManager)),
		TicketSecret:         ticketSecret,
		AccessTokenSecret:    accessSecret,
		AccessTokenTTL:       getDurationEnv("ACCESS_TOKEN_TTL", constants.DefaultAccessTokenTTL),
		RefreshTokenLifetime: getDurationEnv("REFRESH_TOKEN_LIFETIME", constants.DefaultRefreshTokenLifetime),
		LockTTL:              getDurationEnv("TOKEN_LOCK_TTL", constants.DefaultTokenLockTTL),
		CleanupInterval:      getDurationEnv("REFRESH_TOKEN_CLEANUP_INTERVAL", constants.DefaultRefreshTokenCleanup),
		RequestTimeout:       getDurationEnv("TOKEN_REQUEST_TIMEOUT", constants.DefaultTokenRequestTimeout),
		CircuitBreaker: CircuitBreakerConfig{
			Threshold:  int32(getIntEnv("CIRCUIT_BREAKER_THRESHOLD", constants.DefaultCircuitBreakerThreshold)),
			Timeout:    getDurationEnv("CIRCUIT_BREAKER_TIMEOUT", constants.DefaultCircuitBreakerTimeout),
			ResetAfter: getDurationEnv("CIRCUIT_BREAKER_RESET", constants.DefaultCircuitBreakerReset),
		},
		Clients: clients,
	}

	if err := validateTokenConfig(cfg); err != nil {
		return TokenConfig{}, err
	}

	return cfg, nil
}

func LoadDatabaseConfig() (DatabaseConfig, error) {
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return DatabaseConfig{}, err
	}
	return DatabaseConfig{DatabaseURL: databaseURL}, nil
}

func validateTokenConfig(cfg TokenConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", commonerrors.ErrInvalidConfig, err)
	}
	if cfg.LockBackend == "redis" && cfg.RedisURL == "" {
		return fmt.Errorf("%w: REDIS_URL is required for the redis lock backend", commonerrors.ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(cfg.Clients))
	for _, c := range cfg.Clients {
		key := strings.ToLower(c.ID)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate client id %q", commonerrors.ErrInvalidConfig, c.ID)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// loadClients reads registered clients from CLIENTS_FILE (any format viper
// understands) and falls back to OAUTH_CLIENTS ("id=origin,id2=*").
func loadClients() ([]ClientConfig, error) {
	if path := getEnv("CLIENTS_FILE", ""); path != "" {
		return LoadClientsFile(path)
	}

	raw := getEnv("OAUTH_CLIENTS", "")
	if raw == "" {
		return nil, fmt.Errorf("%w: CLIENTS_FILE or OAUTH_CLIENTS", commonerrors.ErrMissingRequiredEnv)
	}
	return ParseClients(raw)
}

func LoadClientsFile(path string) ([]ClientConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read clients file %s: %w", path, err)
	}

	var clients []ClientConfig
	if err := v.UnmarshalKey("clients", &clients); err != nil {
		return nil, fmt.Errorf("failed to decode clients file %s: %w", path, err)
	}
	return clients, nil
}

func ParseClients(raw string) ([]ClientConfig, error) {
	var clients []ClientConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, origin, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		origin = strings.TrimSpace(origin)
		if !ok || id == "" || origin == "" {
			return nil, fmt.Errorf("%w: malformed client entry %q", commonerrors.ErrInvalidConfig, entry)
		}
		clients = append(clients, ClientConfig{ID: id, AllowedOrigin: origin})
	}
	return clients, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func mustEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", commonerrors.ErrMissingRequiredEnv, key)
	}
	return v, nil
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getIntEnv(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
