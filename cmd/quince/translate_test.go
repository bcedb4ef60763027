package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pthm/quince/pkg/authn"
)

func TestSetClaim(t *testing.T) {
	claims := authn.Claims{"sub": "u1"}
	setClaim(claims, "roles", []any{"admin"})
	setClaim(claims, "realm_access.roles", []any{"editor"})

	assert.Equal(t, authn.Claims{
		"sub":          "u1",
		"roles":        []any{"admin"},
		"realm_access": map[string]any{"roles": []any{"editor"}},
	}, claims)

	v, ok := claims.Get("realm_access.roles")
	assert.True(t, ok)
	assert.Equal(t, []any{"editor"}, v)
}

func TestResolveString(t *testing.T) {
	assert.Equal(t, "flag", resolveString("flag", "config"))
	assert.Equal(t, "config", resolveString("", "config"))
	assert.Empty(t, resolveString("", ""))
}
