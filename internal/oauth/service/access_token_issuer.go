package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AlibekovAA/oauth-token-core/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/oauth-token-core/internal/common/crypto"
	"github.com/AlibekovAA/oauth-token-core/internal/common/jwtverify"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

type AccessTokenIssuer struct {
	jwtSecret      []byte
	idGenerator    commoncrypto.IDGenerator
	clock          clock.Clock
	accessTokenTTL time.Duration
}

func NewAccessTokenIssuer(
	jwtSecret string,
	idGenerator commoncrypto.IDGenerator,
	accessTokenTTL time.Duration,
	clock clock.Clock,
) *AccessTokenIssuer {
	return &AccessTokenIssuer{
		jwtSecret:      []byte(jwtSecret),
		idGenerator:    idGenerator,
		clock:          clock,
		accessTokenTTL: accessTokenTTL,
	}
}

// Issue signs a bearer token for the ticket's identity.
func (ti *AccessTokenIssuer) Issue(t domain.Ticket) (string, error) {
	jti, err := ti.idGenerator.NewID()
	if err != nil {
		return "", err
	}

	sub, ok := t.Identity.FindClaim(domain.ClaimSub)
	if !ok || sub == "" {
		sub = t.Identity.Name
	}

	now := ti.clock.Now()
	expiresAt := now.Add(ti.accessTokenTTL)
	claims := jwt.MapClaims{
		"sub": sub,
		"usr": t.Identity.Name,
		"cid": t.Property(domain.PropertyClientID),
		"jti": jti,
		"exp": expiresAt.Unix(),
		"iat": now.Unix(),
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.jwtSecret)
	if err != nil {
		return "", err
	}

	incrementAccessTokensIssued()
	return tokenString, nil
}

func (ti *AccessTokenIssuer) ExpiresIn() int64 {
	return int64(ti.accessTokenTTL / time.Second)
}

func (ti *AccessTokenIssuer) ParseToken(tokenString string) (jwtverify.Claims, error) {
	return jwtverify.ParseToken(tokenString, ti.jwtSecret)
}
