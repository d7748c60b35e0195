package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/AlibekovAA/oauth-token-core/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/oauth-token-core/internal/common/crypto"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/directory"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/locking"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/repository"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/store"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/ticket"
)

const (
	testTicketSecret = "ticket-secret-ticket-secret-0123456789"
	testAccessSecret = "access-secret-access-secret-0123456789"
	testLifetime     = 14 * 24 * time.Hour
	testManager      = "test"
)

var errDirectoryDown = errors.New("directory down")

type mockDirectory struct {
	findUserFunc      func(ctx context.Context, username, password string) (*domain.User, error)
	buildIdentityFunc func(ctx context.Context, user domain.User, authType string) (domain.Identity, error)
}

func (m *mockDirectory) FindUser(ctx context.Context, username, password string) (*domain.User, error) {
	if m.findUserFunc != nil {
		return m.findUserFunc(ctx, username, password)
	}
	return nil, nil
}

func (m *mockDirectory) BuildIdentity(ctx context.Context, user domain.User, authType string) (domain.Identity, error) {
	if m.buildIdentityFunc != nil {
		return m.buildIdentityFunc(ctx, user, authType)
	}
	return directory.BuildIdentity(user, authType), nil
}

type mockLockoutDirectory struct {
	mockDirectory
	isLockedOutFunc func(ctx context.Context, user domain.User) (bool, error)
}

func (m *mockLockoutDirectory) IsLockedOut(ctx context.Context, user domain.User) (bool, error) {
	if m.isLockedOutFunc != nil {
		return m.isLockedOutFunc(ctx, user)
	}
	return false, nil
}

type mockLocker struct {
	lockFunc func(ctx context.Context, key string) (func(), error)
}

func (m *mockLocker) Lock(ctx context.Context, key string) (func(), error) {
	return m.lockFunc(ctx, key)
}

// credentialDirectory accepts any user whose password is "<username>-pw".
func credentialDirectory() *mockDirectory {
	return &mockDirectory{
		findUserFunc: func(ctx context.Context, username, password string) (*domain.User, error) {
			if password != username+"-pw" {
				return nil, nil
			}
			return &domain.User{
				ID:       "id-" + username,
				Username: username,
				Roles:    []string{"user"},
			}, nil
		},
	}
}

type testEnv struct {
	svc      *TokenService
	issuer   *RefreshTokenIssuer
	repo     *repository.Repository
	store    *store.MemoryStore
	clock    *clock.MockClock
	hasher   commoncrypto.TokenHasher
	resolver directory.StaticResolver
	locker   locking.KeyedLocker
}

type envOption func(*testEnv)

func withDirectory(d directory.UserDirectory) envOption {
	return func(e *testEnv) { e.resolver = directory.StaticResolver{testManager: d} }
}

func withLocker(l locking.KeyedLocker) envOption {
	return func(e *testEnv) { e.locker = l }
}

func testClients() []domain.Client {
	return []domain.Client{
		{ID: "c1", AllowedOrigin: "http://good.example"},
		{ID: "c2", AllowedOrigin: domain.AnyOrigin},
		{ID: "short", AllowedOrigin: domain.AnyOrigin, RefreshLifetime: time.Hour},
	}
}

func setupTokenService(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	log := logger.NewNop()
	env := &testEnv{
		store:    store.NewMemoryStore(commoncrypto.NewUUIDGenerator()),
		clock:    clock.NewMockClock(time.Now().UTC().Truncate(time.Second)),
		hasher:   commoncrypto.NewSHA256TokenHasher(),
		resolver: directory.StaticResolver{testManager: credentialDirectory()},
		locker:   locking.NewLocalLocker(),
	}
	for _, opt := range opts {
		opt(env)
	}

	env.repo = repository.NewRepository(env.store, env.hasher, nil, log)
	env.issuer = NewRefreshTokenIssuer(
		env.repo,
		env.hasher,
		commoncrypto.NewRandomSecretGenerator(),
		ticket.NewJWTSerializer(testTicketSecret),
		env.locker,
		env.clock,
		testLifetime,
		log,
	)

	env.svc = NewTokenService(TokenServiceDeps{
		Validator:          NewClientAuthenticationValidator(NewStaticClientRegistry(testClients()), log),
		PasswordGrant:      NewPasswordGrantHandler(env.resolver, testManager, log),
		RefreshGrant:       NewRefreshGrantHandler(log),
		RefreshTokenIssuer: env.issuer,
		AccessTokenIssuer:  NewAccessTokenIssuer(testAccessSecret, commoncrypto.NewUUIDGenerator(), 30*time.Minute, env.clock),
		Repository:         env.repo,
		Clock:              env.clock,
		Logger:             log,
	})
	return env
}

func (e *testEnv) passwordGrant(t *testing.T, clientID, username string) TokenResponse {
	t.Helper()
	resp, err := e.svc.Token(context.Background(), TokenRequest{
		GrantType: domain.GrantTypePassword,
		ClientID:  clientID,
		Username:  username,
		Password:  username + "-pw",
	}, http.Header{})
	if err != nil {
		t.Fatalf("password grant: expected no error, got %v", err)
	}
	return resp
}

func (e *testEnv) refreshGrant(clientID, refreshToken string) (TokenResponse, error) {
	return e.svc.Token(context.Background(), TokenRequest{
		GrantType:    domain.GrantTypeRefreshToken,
		ClientID:     clientID,
		RefreshToken: refreshToken,
	}, http.Header{})
}

func (e *testEnv) recordFor(t *testing.T, subject, clientID string) domain.RefreshTokenRecord {
	t.Helper()
	rec, ok := e.repo.FindBySubjectAndClient(context.Background(), subject, clientID)
	if !ok {
		t.Fatalf("expected a record for (%s, %s)", subject, clientID)
	}
	return rec
}
