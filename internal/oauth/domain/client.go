package domain

import (
	"context"
	"time"
)

const (
	GrantTypePassword     = "password"
	GrantTypeRefreshToken = "refresh_token"
)

const AnyOrigin = "*"

type Client struct {
	ID              string
	AllowedOrigin   string
	RefreshLifetime time.Duration
}

// AllowsOrigin reports whether a request Origin header is acceptable. An
// absent header is always accepted.
func (c Client) AllowsOrigin(origin string) bool {
	return origin == "" || c.AllowedOrigin == AnyOrigin || origin == c.AllowedOrigin
}

// RequestContext is what client validation establishes for the rest of the
// pipeline.
type RequestContext struct {
	GrantType       string
	ClientID        string
	AllowedOrigin   string
	RefreshLifetime time.Duration
}

type requestContextKey struct{}

func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(RequestContext)
	return rc, ok
}
