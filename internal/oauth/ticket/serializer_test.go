package ticket

import (
	"errors"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func sampleTicket() domain.Ticket {
	return domain.NewTicket(
		domain.Identity{
			Name:               "alice",
			AuthenticationType: "Bearer",
			Claims:             []domain.Claim{{Type: domain.ClaimRole, Value: "admin"}},
		},
		map[string]string{
			domain.PropertyClientID: "web",
			domain.PropertyUsername: "alice",
		},
	)
}

func TestJWTSerializer_RoundTrip(t *testing.T) {
	s := NewJWTSerializer(testSecret)

	protected, err := s.Serialize(sampleTicket())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, err := s.Deserialize(protected)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Identity.Name != "alice" || got.Property(domain.PropertyClientID) != "web" {
		t.Errorf("unexpected ticket %+v", got)
	}
	if role, ok := got.Identity.FindClaim(domain.ClaimRole); !ok || role != "admin" {
		t.Errorf("expected role claim, got %q %v", role, ok)
	}
}

func TestJWTSerializer_RejectsTampering(t *testing.T) {
	s := NewJWTSerializer(testSecret)
	protected, err := s.Serialize(sampleTicket())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	parts := strings.Split(protected, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	if _, err := s.Deserialize(strings.Join(parts, ".")); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("expected ErrInvalidTicket, got %v", err)
	}

	other := NewJWTSerializer("ffffffffffffffffffffffffffffffff")
	if _, err := other.Deserialize(protected); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("expected ErrInvalidTicket for wrong secret, got %v", err)
	}
}

func TestJWTSerializer_RejectsOtherAlgorithms(t *testing.T) {
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"iss": issuer,
		"idn": map[string]any{"name": "alice"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}

	if _, err := NewJWTSerializer(testSecret).Deserialize(unsigned); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("expected ErrInvalidTicket, got %v", err)
	}
}
