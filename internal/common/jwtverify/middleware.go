package jwtverify

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	commonerrors "github.com/AlibekovAA/oauth-token-core/internal/common/errors"
	commonhttp "github.com/AlibekovAA/oauth-token-core/internal/common/http"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
)

// Claims are the fields of an access token issued by the token endpoint.
type Claims struct {
	Subject  string
	Username string
	ClientID string
	JTI      string
}

type contextKey string

const claimsKey contextKey = "jwt_claims"

func Middleware(secret string, log *logger.Logger) func(next http.Handler) http.Handler {
	secretBytes := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := commonhttp.BearerToken(r)
			if !ok {
				log.WithFields(r.Context(), logger.Fields{
					"action": "jwt_auth_failed",
					"path":   r.URL.Path,
				}).Warn("missing or invalid authorization header")
				w.Header().Set("WWW-Authenticate", `Bearer realm="oauth"`)
				commonhttp.WriteError(w, http.StatusUnauthorized, commonhttp.CodeInvalidRequest, "Bearer access token required")
				return
			}

			claims, err := ParseToken(tokenString, secretBytes)
			if err != nil {
				log.WithFields(r.Context(), logger.Fields{
					"action": "jwt_auth_failed",
					"path":   r.URL.Path,
				}).Warnf("invalid access token: %v", err)
				w.Header().Set("WWW-Authenticate", `Bearer realm="oauth", error="invalid_token"`)
				commonhttp.WriteError(w, http.StatusUnauthorized, commonhttp.CodeInvalidToken, "Access token is invalid or expired")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func FromContext(ctx context.Context) (Claims, bool) {
	val := ctx.Value(claimsKey)
	claims, ok := val.(Claims)
	return claims, ok
}

// WithClaims stores claims in ctx the way Middleware does.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func ParseToken(tokenString string, secret []byte) (Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, commonerrors.ErrInvalidTokenSigningMethod
		}
		return secret, nil
	})
	if err != nil {
		return Claims{}, commonerrors.ErrInvalidToken.WithCause(err)
	}
	if !parsed.Valid {
		return Claims{}, commonerrors.ErrInvalidToken
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, commonerrors.ErrMissingTokenClaims
	}

	sub, _ := mapClaims["sub"].(string)
	username, _ := mapClaims["usr"].(string)
	if sub == "" || username == "" {
		return Claims{}, commonerrors.ErrMissingTokenClaims
	}
	clientID, _ := mapClaims["cid"].(string)
	jti, _ := mapClaims["jti"].(string)

	return Claims{
		Subject:  sub,
		Username: username,
		ClientID: clientID,
		JTI:      jti,
	}, nil
}
