package domain

import "maps"

const (
	PropertyClientID  = "client_id"
	PropertyUsername  = "username"
	PropertyIssuedAt  = "issued_at"
	PropertyExpiresAt = "expires_at"
)

const (
	ClaimName = "name"
	ClaimRole = "role"
	ClaimSub  = "sub"
)

type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Identity is the authenticated principal carried by a ticket. Name is the
// subject the refresh token is bound to.
type Identity struct {
	Name               string  `json:"name"`
	AuthenticationType string  `json:"authentication_type"`
	Claims             []Claim `json:"claims,omitempty"`
}

func (i Identity) FindClaim(claimType string) (string, bool) {
	for _, c := range i.Claims {
		if c.Type == claimType {
			return c.Value, true
		}
	}
	return "", false
}

type Ticket struct {
	Identity   Identity
	Properties map[string]string
}

func NewTicket(identity Identity, properties map[string]string) Ticket {
	t := Ticket{Identity: identity, Properties: make(map[string]string, len(properties))}
	maps.Copy(t.Properties, properties)
	return t
}

func (t Ticket) Property(key string) string {
	return t.Properties[key]
}

func (t *Ticket) SetProperty(key, value string) {
	if t.Properties == nil {
		t.Properties = make(map[string]string)
	}
	t.Properties[key] = value
}

// Clone returns a deep copy so callers can mutate it without touching the
// ticket it was recovered from.
func (t Ticket) Clone() Ticket {
	identity := t.Identity
	identity.Claims = append([]Claim(nil), t.Identity.Claims...)
	return NewTicket(identity, t.Properties)
}
