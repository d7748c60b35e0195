package service

import "github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"

type TokenEndpointFinalizer struct{}

func NewTokenEndpointFinalizer() *TokenEndpointFinalizer {
	return &TokenEndpointFinalizer{}
}

// Finalize copies every ticket property into the response parameters.
func (f *TokenEndpointFinalizer) Finalize(t domain.Ticket, additional map[string]string) {
	for k, v := range t.Properties {
		additional[k] = v
	}
}
