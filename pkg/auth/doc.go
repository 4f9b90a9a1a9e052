// Package auth provides the authenticated identity model and bearer token
// validation for the rolesync service.
//
// # Overview
//
// A Principal is an immutable subject plus an ordered list of typed claims.
// Role membership is carried as claims of type ClaimTypeRole. Request-time
// reconciliation swaps those role claims for the authorization store's
// current view without touching any other claim:
//
//	p := auth.NewPrincipal("u1",
//		auth.Claim{Type: auth.ClaimTypeSubject, Value: "u1"},
//		auth.Claim{Type: auth.ClaimTypeRole, Value: "editor"},
//	)
//	fresh := p.WithRoles([]string{"viewer"})
//	// p still has "editor"; fresh has only "viewer"
//
// # Token Validation
//
// JWTValidator accepts HS256 tokens signed with a shared secret. Expiry is
// required and enforced without clock skew. Issuer and audience are not
// checked. The "role", "roles" and WS-Federation role URI claims all map to
// ClaimTypeRole; every other scalar claim keeps its own name as its type.
//
//	validator, err := auth.NewJWTValidator([]byte(secret))
//	principal, err := validator.Validate(tokenString)
//
// # Context
//
// WithPrincipal and PrincipalFromContext move a Principal through a request
// context using the keys in pkg/contextkeys.
package auth
