package auth

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

// Role claim keys accepted on incoming tokens. All map to ClaimTypeRole.
const (
	tokenRoleKey    = "role"
	tokenRolesKey   = "roles"
	tokenRoleURIKey = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
)

var (
	// ErrInvalidToken is returned for tokens that fail parsing, signature or lifetime checks
	ErrInvalidToken = errors.New("invalid token")

	// ErrEmptySecret is returned when a validator is built without a signing key
	ErrEmptySecret = errors.New("jwt secret is empty")
)

// JWTValidator validates HS256 bearer tokens signed with a shared secret.
// Lifetime is enforced with zero clock skew; issuer and audience are not
// checked.
type JWTValidator struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTValidator creates a validator using the real clock
func NewJWTValidator(secret []byte) (*JWTValidator, error) {
	return NewJWTValidatorWithClock(secret, clock.New())
}

// NewJWTValidatorWithClock creates a validator that evaluates exp/nbf against clk
func NewJWTValidatorWithClock(secret []byte, clk clock.Clock) (*JWTValidator, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(0),
		jwt.WithTimeFunc(clk.Now),
	)

	return &JWTValidator{secret: secret, parser: parser}, nil
}

// Validate parses the token and converts its claims into a Principal
func (v *JWTValidator) Validate(tokenString string) (Principal, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	return principalFromClaims(claims), nil
}

// principalFromClaims flattens JWT claims into ordered Claim values. Keys are
// visited in sorted order so the same token always yields the same Principal.
func principalFromClaims(claims jwt.MapClaims) Principal {
	keys := make([]string, 0, len(claims))
	for k := range claims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var subject string
	var out []Claim
	for _, k := range keys {
		claimType := k
		switch k {
		case tokenRoleKey, tokenRolesKey, tokenRoleURIKey:
			claimType = ClaimTypeRole
		case ClaimTypeSubject:
			if s, ok := claims[k].(string); ok {
				subject = s
			}
		}

		for _, value := range claimValues(claims[k]) {
			out = append(out, Claim{Type: claimType, Value: value})
		}
	}

	return NewPrincipal(subject, out...)
}

func claimValues(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}
	case bool:
		return []string{strconv.FormatBool(v)}
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, claimValues(item)...)
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

// TokenClaims describes a token minted by SignToken
type TokenClaims struct {
	Subject   string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]any
}

// SignToken mints an HS256 token. It exists for tests and local tooling;
// issuing tokens is not part of the service.
func SignToken(secret []byte, tc TokenClaims) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}

	claims := jwt.MapClaims{}
	for k, v := range tc.Extra {
		claims[k] = v
	}
	if tc.Subject != "" {
		claims[ClaimTypeSubject] = tc.Subject
	}
	if len(tc.Roles) > 0 {
		claims[tokenRolesKey] = tc.Roles
	}
	if !tc.IssuedAt.IsZero() {
		claims["iat"] = jwt.NewNumericDate(tc.IssuedAt)
	}
	if !tc.ExpiresAt.IsZero() {
		claims[ClaimTypeExpiry] = jwt.NewNumericDate(tc.ExpiresAt)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
