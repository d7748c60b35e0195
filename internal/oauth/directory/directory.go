package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

const (
	ManagerPostgres = "postgres"

	AuthenticationTypeBearer = "Bearer"
)

var ErrUnknownIdentityManager = errors.New("unknown identity manager")

// UserDirectory authenticates resource owners. FindUser returns a nil user
// and a nil error when the credentials do not match; errors are reserved for
// directory failures.
type UserDirectory interface {
	FindUser(ctx context.Context, username, password string) (*domain.User, error)
	BuildIdentity(ctx context.Context, user domain.User, authenticationType string) (domain.Identity, error)
}

// LockoutAware is implemented by directories that can lock accounts.
type LockoutAware interface {
	IsLockedOut(ctx context.Context, user domain.User) (bool, error)
}

type Resolver interface {
	Resolve(identityManager string) (UserDirectory, error)
}

// StaticResolver maps identity manager names (case-insensitive) to
// directories.
type StaticResolver map[string]UserDirectory

func (r StaticResolver) Resolve(identityManager string) (UserDirectory, error) {
	d, ok := r[strings.ToLower(identityManager)]
	if !ok || d == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIdentityManager, identityManager)
	}
	return d, nil
}

// BuildIdentity is the default identity shape: the username is the subject,
// with the stable user id and roles as claims.
func BuildIdentity(user domain.User, authenticationType string) domain.Identity {
	claims := []domain.Claim{
		{Type: domain.ClaimSub, Value: user.ID},
		{Type: domain.ClaimName, Value: displayName(user)},
	}
	for _, role := range user.Roles {
		claims = append(claims, domain.Claim{Type: domain.ClaimRole, Value: role})
	}

	return domain.Identity{
		Name:               user.Username,
		AuthenticationType: authenticationType,
		Claims:             claims,
	}
}

func displayName(user domain.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.Username
}
