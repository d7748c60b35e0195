package ticket

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

const issuer = "oauth-token-core"

var ErrInvalidTicket = errors.New("protected ticket is not valid")

// Serializer turns a ticket into the opaque protected form stored alongside
// a refresh token, and back.
type Serializer interface {
	Serialize(t domain.Ticket) (string, error)
	Deserialize(protected string) (domain.Ticket, error)
}

type ticketClaims struct {
	Identity   domain.Identity   `json:"idn"`
	Properties map[string]string `json:"props,omitempty"`
	jwt.RegisteredClaims
}

// JWTSerializer signs tickets as HS256 JWTs. Tickets carry no exp claim:
// the refresh token record decides how long a ticket may be redeemed.
type JWTSerializer struct {
	secret []byte
}

func NewJWTSerializer(secret string) *JWTSerializer {
	return &JWTSerializer{secret: []byte(secret)}
}

func (s *JWTSerializer) Serialize(t domain.Ticket) (string, error) {
	claims := ticketClaims{
		Identity:   t.Identity,
		Properties: t.Properties,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  issuer,
			Subject: t.Identity.Name,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign ticket: %w", err)
	}
	return signed, nil
}

func (s *JWTSerializer) Deserialize(protected string) (domain.Ticket, error) {
	var claims ticketClaims
	_, err := jwt.ParseWithClaims(
		protected,
		&claims,
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if claims.Identity.Name == "" {
		return domain.Ticket{}, fmt.Errorf("%w: missing identity", ErrInvalidTicket)
	}

	return domain.NewTicket(claims.Identity, claims.Properties), nil
}
