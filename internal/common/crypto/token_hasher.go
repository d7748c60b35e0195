package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/AlibekovAA/oauth-token-core/internal/common/constants"
)

// TokenHasher turns a raw refresh-token secret into the digest that is
// persisted and looked up. Implementations must be deterministic.
type TokenHasher interface {
	Hash(raw string) string
}

// SHA256TokenHasher produces a 64-char lowercase hex digest.
type SHA256TokenHasher struct{}

func NewSHA256TokenHasher() *SHA256TokenHasher {
	return &SHA256TokenHasher{}
}

func (h *SHA256TokenHasher) Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NormalizeDigest lowercases a hex digest so lookups are case-insensitive.
func NormalizeDigest(digest string) string {
	return strings.ToLower(strings.TrimSpace(digest))
}

type SecretGenerator interface {
	NewSecret() (string, error)
}

type RandomSecretGenerator struct {
	Size int
}

func NewRandomSecretGenerator() *RandomSecretGenerator {
	return &RandomSecretGenerator{Size: constants.RefreshTokenSize}
}

func (g *RandomSecretGenerator) NewSecret() (string, error) {
	size := g.Size
	if size <= 0 {
		size = constants.RefreshTokenSize
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
