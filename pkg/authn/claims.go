// Package authn turns request credentials into a claim set.
//
// A Decoder reads the bearer token of a RequestContext and returns its
// Claims, verifying the signature with a shared secret or a remote JSON Web
// Key Set when configured to. Decoding happens once per request, before any
// query is compiled; it is the only step of translation that may block on
// the network.
//
// A nil Claims means the request is unauthenticated. That is not an error
// here: whether a missing claim set is acceptable is decided by the
// authorization rules of the schema.
package authn

import (
	"errors"
	"strings"
)

// ErrUnauthenticated is returned when credentials are present but cannot be
// decoded or verified, and by the authorization layer when a rule requires a
// claim set the request does not have.
var ErrUnauthenticated = errors.New("quince/authn: unauthenticated")

// Claims is a decoded, read-only claim set.
type Claims map[string]any

// Authenticated reports whether a claim set is present.
func (c Claims) Authenticated() bool {
	return c != nil
}

// Get returns the claim at path. A key containing dots is matched whole
// before the path is split, so namespaced claims such as
// "https://example.com/roles" resolve too.
func (c Claims) Get(path string) (any, bool) {
	if c == nil {
		return nil, false
	}
	if v, ok := c[path]; ok {
		return v, true
	}
	var cur any = map[string]any(c)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Session carries database session settings for the request.
type Session struct {
	Database         string
	ImpersonatedUser string
}

// RequestContext is the per-request input to decoding.
type RequestContext struct {
	// Token is the raw bearer token, with or without the "Bearer " prefix.
	Token string
	// Passthrough is a claim set the caller already verified. When set it is
	// used as is and Token is ignored.
	Passthrough Claims
	Session     Session
}
