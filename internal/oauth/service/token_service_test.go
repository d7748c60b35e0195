package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AlibekovAA/oauth-token-core/internal/common/jwtverify"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
	"github.com/AlibekovAA/oauth-token-core/internal/observability/metrics"
)

func TestTokenService_PasswordGrantResponse(t *testing.T) {
	env := setupTokenService(t)

	resp := env.passwordGrant(t, "c1", "alice")

	if resp.TokenType != TokenTypeBearer {
		t.Errorf("expected bearer token type, got %s", resp.TokenType)
	}
	if resp.ExpiresIn != int64((30 * time.Minute).Seconds()) {
		t.Errorf("unexpected expires_in %d", resp.ExpiresIn)
	}
	if resp.RefreshToken == "" {
		t.Fatal("expected refresh token")
	}

	claims, err := jwtverify.ParseToken(resp.AccessToken, []byte(testAccessSecret))
	if err != nil {
		t.Fatalf("expected valid access token, got %v", err)
	}
	if claims.Subject != "id-alice" || claims.Username != "alice" || claims.ClientID != "c1" {
		t.Errorf("unexpected claims %+v", claims)
	}

	rec := env.recordFor(t, "alice", "c1")
	want := map[string]string{
		domain.PropertyClientID:  "c1",
		domain.PropertyUsername:  "alice",
		domain.PropertyIssuedAt:  rec.IssuedAt.Format(time.RFC3339),
		domain.PropertyExpiresAt: rec.ExpiresAt.Format(time.RFC3339),
	}
	for k, v := range want {
		if resp.Additional[k] != v {
			t.Errorf("expected %s=%s, got %q", k, v, resp.Additional[k])
		}
	}
}

func TestTokenService_AllowOriginHeader(t *testing.T) {
	env := setupTokenService(t)
	headers := http.Header{}

	_, err := env.svc.Token(context.Background(), TokenRequest{
		GrantType: domain.GrantTypePassword,
		ClientID:  "c1",
		Username:  "alice",
		Password:  "alice-pw",
		Origin:    "http://good.example",
	}, headers)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if values := headers.Values("Access-Control-Allow-Origin"); len(values) != 1 || values[0] != "http://good.example" {
		t.Errorf("expected exactly one allow-origin value, got %v", values)
	}
}

// Password grant, refresh with T1, then replay T1.
func TestTokenService_RotationScenario(t *testing.T) {
	env := setupTokenService(t)

	first := env.passwordGrant(t, "c1", "alice")
	t1 := first.RefreshToken
	e1 := env.recordFor(t, "alice", "c1").ExpiresAt

	env.clock.Advance(time.Hour)

	second, err := env.refreshGrant("c1", t1)
	if err != nil {
		t.Fatalf("refresh with T1: expected no error, got %v", err)
	}
	t2 := second.RefreshToken
	if t2 == "" || t2 == t1 {
		t.Fatalf("expected a new refresh token, got %q", t2)
	}

	rec := env.recordFor(t, "alice", "c1")
	if !rec.ExpiresAt.Equal(e1) {
		t.Errorf("expected rotation to keep expiry %s, got %s", e1, rec.ExpiresAt)
	}
	if rec.TokenDigest != env.hasher.Hash(t2) {
		t.Error("expected stored digest to be the digest of T2")
	}
	if _, ok := env.repo.FindByValue(context.Background(), env.hasher.Hash(t1)); ok {
		t.Error("expected T1 record to be gone")
	}
	if second.Additional[domain.PropertyExpiresAt] != e1.Format(time.RFC3339) {
		t.Errorf("expected response expiry %s, got %s", e1.Format(time.RFC3339), second.Additional[domain.PropertyExpiresAt])
	}

	_, err = env.refreshGrant("c1", t1)
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("replay of T1: expected ErrInvalidGrant, got %v", err)
	}
	if env.store.Len() != 1 {
		t.Errorf("expected T2 record to survive the replay, got %d records", env.store.Len())
	}

	if _, err := env.refreshGrant("c1", t2); err != nil {
		t.Errorf("refresh with T2: expected no error, got %v", err)
	}
}

func TestTokenService_PasswordGrantResetsExpiry(t *testing.T) {
	env := setupTokenService(t)

	env.passwordGrant(t, "c1", "alice")
	e1 := env.recordFor(t, "alice", "c1").ExpiresAt

	env.clock.Advance(2 * time.Hour)
	env.passwordGrant(t, "c1", "alice")
	e2 := env.recordFor(t, "alice", "c1").ExpiresAt

	if !e2.After(e1) {
		t.Fatalf("expected expiry to move forward, got %s then %s", e1, e2)
	}
	if !e2.Equal(env.clock.Now().Add(testLifetime)) {
		t.Errorf("expected expiry now+lifetime, got %s", e2)
	}
	if env.store.Len() != 1 {
		t.Errorf("expected single record, got %d", env.store.Len())
	}
}

func TestTokenService_RefreshClientMismatchDoesNotMutate(t *testing.T) {
	env := setupTokenService(t)

	resp := env.passwordGrant(t, "c1", "alice")
	before := env.store.Snapshot()

	_, err := env.refreshGrant("c2", resp.RefreshToken)
	if !errors.Is(err, ErrInvalidClientID) {
		t.Fatalf("expected ErrInvalidClientID, got %v", err)
	}

	after := env.store.Snapshot()
	if len(after) != len(before) || after[0] != before[0] {
		t.Errorf("expected store unchanged, before %+v after %+v", before, after)
	}
}

func TestTokenService_ConcurrentRefreshHasSingleWinner(t *testing.T) {
	env := setupTokenService(t)
	raw := env.passwordGrant(t, "c1", "alice").RefreshToken

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := env.refreshGrant("c1", raw)
			if err == nil && resp.RefreshToken != "" {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one successful refresh, got %d", winners)
	}
	if env.store.Len() != 1 {
		t.Errorf("expected single record, got %d", env.store.Len())
	}
}

func TestTokenService_ConcurrentPasswordGrants(t *testing.T) {
	env := setupTokenService(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.Token(context.Background(), TokenRequest{
				GrantType: domain.GrantTypePassword,
				ClientID:  "c1",
				Username:  "alice",
				Password:  "alice-pw",
			}, http.Header{})
		}()
	}
	wg.Wait()

	if env.store.Len() != 1 {
		t.Errorf("expected exactly one record, got %d", env.store.Len())
	}
}

func TestTokenService_Rejections(t *testing.T) {
	env := setupTokenService(t)

	tests := []struct {
		name string
		req  TokenRequest
		want error
	}{
		{"unsupported grant", TokenRequest{GrantType: "client_credentials", ClientID: "c1"}, ErrUnsupportedGrantType},
		{"bad password", TokenRequest{GrantType: domain.GrantTypePassword, ClientID: "c1", Username: "alice", Password: "nope"}, ErrInvalidCredentials},
		{"unknown refresh token", TokenRequest{GrantType: domain.GrantTypeRefreshToken, ClientID: "c1", RefreshToken: "missing"}, ErrInvalidGrant},
		{"evil origin", TokenRequest{GrantType: domain.GrantTypePassword, ClientID: "c1", Origin: "http://evil.example"}, ErrInvalidOrigin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Token(context.Background(), tt.req, http.Header{})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if env.store.Len() != 0 {
		t.Error("expected no records after rejected requests")
	}
}

func TestTokenService_DirectoryErrorIsServerError(t *testing.T) {
	env := setupTokenService(t, withDirectory(&mockDirectory{
		findUserFunc: func(ctx context.Context, username, password string) (*domain.User, error) {
			return nil, errDirectoryDown
		},
	}))

	_, err := env.svc.Token(context.Background(), TokenRequest{
		GrantType: domain.GrantTypePassword,
		ClientID:  "c1",
		Username:  "alice",
		Password:  "alice-pw",
	}, http.Header{})
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}
	if !errors.Is(err, errDirectoryDown) {
		t.Error("expected directory error as cause")
	}
}

func TestTokenService_Revoke(t *testing.T) {
	env := setupTokenService(t)
	raw := env.passwordGrant(t, "c1", "alice").RefreshToken

	if err := env.svc.Revoke(context.Background(), RevokeRequest{ClientID: "c2", Token: raw}, http.Header{}); err != nil {
		t.Fatalf("expected no error for foreign token, got %v", err)
	}
	if env.store.Len() != 1 {
		t.Fatal("expected foreign revoke to leave the record")
	}

	if err := env.svc.Revoke(context.Background(), RevokeRequest{ClientID: "c1", Token: raw}, http.Header{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if env.store.Len() != 0 {
		t.Error("expected record to be revoked")
	}

	err := env.svc.Revoke(context.Background(), RevokeRequest{ClientID: "ghost", Token: raw}, http.Header{})
	if !errors.Is(err, ErrInvalidClientID) {
		t.Errorf("expected ErrInvalidClientID, got %v", err)
	}
}

func TestTokenService_Sessions(t *testing.T) {
	env := setupTokenService(t)
	env.passwordGrant(t, "c1", "alice")
	env.passwordGrant(t, "c2", "alice")
	env.passwordGrant(t, "c1", "bob")

	sessions := env.svc.ListSessions(context.Background(), "ALICE")
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	var target Session
	for _, s := range sessions {
		if s.ClientID == "c2" {
			target = s
		}
	}
	if target.ID == "" {
		t.Fatal("expected a c2 session")
	}

	if err := env.svc.RevokeSession(context.Background(), "bob", target.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for another subject, got %v", err)
	}
	if err := env.svc.RevokeSession(context.Background(), "alice", target.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := len(env.svc.ListSessions(context.Background(), "alice")); got != 1 {
		t.Errorf("expected 1 session left, got %d", got)
	}
	if err := env.svc.RevokeSession(context.Background(), "alice", target.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on second revoke, got %v", err)
	}
}

func TestTokenService_SessionsSkipExpired(t *testing.T) {
	env := setupTokenService(t)
	env.passwordGrant(t, "short", "alice")
	env.passwordGrant(t, "c1", "alice")

	env.clock.Advance(2 * time.Hour)

	sessions := env.svc.ListSessions(context.Background(), "alice")
	if len(sessions) != 1 || sessions[0].ClientID != "c1" {
		t.Errorf("expected only the c1 session, got %+v", sessions)
	}
}

func TestTokenService_UnknownGrantTypesShareOneLabel(t *testing.T) {
	env := setupTokenService(t)
	rejected := metrics.TokenRequestsTotal.WithLabelValues("other", "rejected")
	unsupported := metrics.TokenRequestsTotal.WithLabelValues("other", ErrUnsupportedGrantType.Code())
	rejectedBefore := testutil.ToFloat64(rejected)
	unsupportedBefore := testutil.ToFloat64(unsupported)
	seriesBefore := testutil.CollectAndCount(metrics.TokenRequestsTotal)

	for i := 0; i < 50; i++ {
		_, _ = env.svc.Token(context.Background(), TokenRequest{GrantType: fmt.Sprintf("junk-%d", i), ClientID: "unknown"}, http.Header{})
		_, _ = env.svc.Token(context.Background(), TokenRequest{GrantType: fmt.Sprintf("nope-%d", i), ClientID: "c1"}, http.Header{})
	}

	if got := testutil.CollectAndCount(metrics.TokenRequestsTotal); got != seriesBefore {
		t.Errorf("expected series count to stay at %d, got %d", seriesBefore, got)
	}
	if got := testutil.ToFloat64(rejected) - rejectedBefore; got != 50 {
		t.Errorf("expected 50 rejected requests labelled other, got %v", got)
	}
	if got := testutil.ToFloat64(unsupported) - unsupportedBefore; got != 50 {
		t.Errorf("expected 50 unsupported requests labelled other, got %v", got)
	}
}

func TestGrantLabel(t *testing.T) {
	tests := map[string]string{
		"password":      "password",
		"refresh_token": "refresh_token",
		"":              "none",
		"Password":      "other",
		"urn:ietf:x":    "other",
	}
	for in, want := range tests {
		if got := grantLabel(in); got != want {
			t.Errorf("grantLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
