package auth

import (
	"context"

	"github.com/platinummonkey/rolesync/pkg/contextkeys"
)

// Well-known claim types
const (
	ClaimTypeSubject = "sub"
	ClaimTypeRole    = "role"
	ClaimTypeName    = "name"
	ClaimTypeEmail   = "email"
	ClaimTypeIssuer  = "iss"
	ClaimTypeExpiry  = "exp"
)

// Claim is a single typed assertion about an identity
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Principal is a validated identity and its claims. Values are never mutated
// after construction; every With* method returns a new Principal so a value
// can be shared freely across goroutines.
type Principal struct {
	subject string
	claims  []Claim
}

// NewPrincipal creates a principal. The claims slice is copied.
func NewPrincipal(subject string, claims ...Claim) Principal {
	p := Principal{subject: subject}
	if len(claims) > 0 {
		p.claims = make([]Claim, len(claims))
		copy(p.claims, claims)
	}
	return p
}

// Subject returns the subject identifier, empty for anonymous principals
func (p Principal) Subject() string {
	return p.subject
}

// IsAuthenticated reports whether the principal carries a subject
func (p Principal) IsAuthenticated() bool {
	return p.subject != ""
}

// Claims returns a copy of all claims in order
func (p Principal) Claims() []Claim {
	if len(p.claims) == 0 {
		return nil
	}
	out := make([]Claim, len(p.claims))
	copy(out, p.claims)
	return out
}

// NonRoleClaims returns every claim whose type is not ClaimTypeRole, in order
func (p Principal) NonRoleClaims() []Claim {
	var out []Claim
	for _, c := range p.claims {
		if c.Type != ClaimTypeRole {
			out = append(out, c)
		}
	}
	return out
}

// Roles returns the values of the role claims in order
func (p Principal) Roles() []string {
	var out []string
	for _, c := range p.claims {
		if c.Type == ClaimTypeRole {
			out = append(out, c.Value)
		}
	}
	return out
}

// HasRole reports whether the principal has a role claim with the given value
func (p Principal) HasRole(role string) bool {
	for _, c := range p.claims {
		if c.Type == ClaimTypeRole && c.Value == role {
			return true
		}
	}
	return false
}

// FindFirst returns the value of the first claim of the given type
func (p Principal) FindFirst(claimType string) (string, bool) {
	for _, c := range p.claims {
		if c.Type == claimType {
			return c.Value, true
		}
	}
	return "", false
}

// WithRoles returns a copy of the principal whose role claims are exactly the
// given names, one claim each, appended after the non-role claims. Non-role
// claims keep their original order and values. A nil or empty list yields a
// principal without role claims.
func (p Principal) WithRoles(roles []string) Principal {
	claims := make([]Claim, 0, len(p.claims)+len(roles))
	for _, c := range p.claims {
		if c.Type != ClaimTypeRole {
			claims = append(claims, c)
		}
	}
	for _, r := range roles {
		claims = append(claims, Claim{Type: ClaimTypeRole, Value: r})
	}
	return Principal{subject: p.subject, claims: claims}
}

// WithPrincipal stores the principal in the context
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = contextkeys.WithPrincipal(ctx, p)
	if p.subject != "" {
		ctx = contextkeys.WithUserID(ctx, p.subject)
	}
	return ctx
}

// PrincipalFromContext returns the principal stored in the context
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(Principal)
	return p, ok
}
