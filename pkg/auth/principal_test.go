package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePrincipal() Principal {
	return NewPrincipal("u1",
		Claim{Type: ClaimTypeSubject, Value: "u1"},
		Claim{Type: ClaimTypeRole, Value: "editor"},
		Claim{Type: ClaimTypeEmail, Value: "u1@example.com"},
		Claim{Type: ClaimTypeRole, Value: "viewer"},
		Claim{Type: ClaimTypeIssuer, Value: "rolesync"},
	)
}

func TestPrincipal_WithRoles(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  []Claim
	}{
		{
			name:  "replaces token roles",
			roles: []string{"admin"},
			want: []Claim{
				{Type: ClaimTypeSubject, Value: "u1"},
				{Type: ClaimTypeEmail, Value: "u1@example.com"},
				{Type: ClaimTypeIssuer, Value: "rolesync"},
				{Type: ClaimTypeRole, Value: "admin"},
			},
		},
		{
			name:  "nil clears roles",
			roles: nil,
			want: []Claim{
				{Type: ClaimTypeSubject, Value: "u1"},
				{Type: ClaimTypeEmail, Value: "u1@example.com"},
				{Type: ClaimTypeIssuer, Value: "rolesync"},
			},
		},
		{
			name:  "keeps given role order",
			roles: []string{"b", "a"},
			want: []Claim{
				{Type: ClaimTypeSubject, Value: "u1"},
				{Type: ClaimTypeEmail, Value: "u1@example.com"},
				{Type: ClaimTypeIssuer, Value: "rolesync"},
				{Type: ClaimTypeRole, Value: "b"},
				{Type: ClaimTypeRole, Value: "a"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := samplePrincipal()
			got := original.WithRoles(tt.roles)

			assert.Equal(t, tt.want, got.Claims())
			assert.Equal(t, "u1", got.Subject())
			assert.Equal(t, original.NonRoleClaims(), got.NonRoleClaims())

			// source value untouched
			assert.Equal(t, []string{"editor", "viewer"}, original.Roles())
		})
	}
}

func TestPrincipal_Immutability(t *testing.T) {
	claims := []Claim{{Type: ClaimTypeRole, Value: "editor"}}
	p := NewPrincipal("u1", claims...)

	claims[0].Value = "admin"
	assert.Equal(t, []string{"editor"}, p.Roles())

	out := p.Claims()
	out[0].Value = "admin"
	assert.True(t, p.HasRole("editor"))
	assert.False(t, p.HasRole("admin"))
}

func TestPrincipal_Accessors(t *testing.T) {
	p := samplePrincipal()

	assert.True(t, p.IsAuthenticated())
	assert.False(t, Principal{}.IsAuthenticated())

	email, ok := p.FindFirst(ClaimTypeEmail)
	assert.True(t, ok)
	assert.Equal(t, "u1@example.com", email)

	_, ok = p.FindFirst("missing")
	assert.False(t, ok)

	assert.Nil(t, Principal{}.Claims())
	assert.Nil(t, Principal{}.Roles())
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), samplePrincipal())
	got, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", got.Subject())
}
