package authn_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/quince/pkg/authn"
)

func hmacToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestClaimsGet(t *testing.T) {
	c := authn.Claims{
		"sub":                       "user1",
		"app":                       map[string]any{"orgs": []any{"a", "b"}},
		"https://example.com/roles": []any{"admin"},
	}

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"sub", "user1", true},
		{"app.orgs", []any{"a", "b"}, true},
		{"https://example.com/roles", []any{"admin"}, true},
		{"app.missing", nil, false},
		{"sub.deeper", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := c.Get(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	var none authn.Claims
	assert.False(t, none.Authenticated())
	_, ok := none.Get("sub")
	assert.False(t, ok)
}

func TestDecodeWithoutCredentials(t *testing.T) {
	d, err := authn.NewDecoder()
	require.NoError(t, err)

	claims, err := d.Decode(context.Background(), authn.RequestContext{})
	require.NoError(t, err)
	assert.Nil(t, claims)

	pass := authn.Claims{"sub": "svc"}
	claims, err = d.Decode(context.Background(), authn.RequestContext{Token: "garbage", Passthrough: pass})
	require.NoError(t, err)
	assert.Equal(t, pass, claims)
}

func TestDecodeWithoutVerifierRejectsTokens(t *testing.T) {
	d, err := authn.NewDecoder()
	require.NoError(t, err)
	assert.Equal(t, authn.ModeNone, d.Mode())

	forged := hmacToken(t, "attacker-key", jwt.MapClaims{"sub": "admin"})
	claims, err := d.Decode(context.Background(), authn.RequestContext{Token: "Bearer " + forged})
	assert.ErrorIs(t, err, authn.ErrUnauthenticated)
	assert.Nil(t, claims)
}

func TestDecodeUnverified(t *testing.T) {
	d, err := authn.NewDecoder(authn.WithoutVerification())
	require.NoError(t, err)
	assert.Equal(t, authn.ModeDecode, d.Mode())

	token := hmacToken(t, "any-secret", jwt.MapClaims{"sub": "user1"})
	claims, err := d.Decode(context.Background(), authn.RequestContext{Token: "Bearer " + token})
	require.NoError(t, err)
	assert.Equal(t, "user1", claims["sub"])

	_, err = d.Decode(context.Background(), authn.RequestContext{Token: "not.a.token"})
	assert.ErrorIs(t, err, authn.ErrUnauthenticated)
}

func TestDecodeSecret(t *testing.T) {
	d, err := authn.NewDecoder(authn.WithSecret([]byte("s3cret")))
	require.NoError(t, err)

	good := hmacToken(t, "s3cret", jwt.MapClaims{"sub": "user1", "exp": time.Now().Add(time.Hour).Unix()})
	claims, err := d.Decode(context.Background(), authn.RequestContext{Token: good})
	require.NoError(t, err)
	assert.Equal(t, "user1", claims["sub"])

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", hmacToken(t, "other", jwt.MapClaims{"sub": "user1"})},
		{"expired", hmacToken(t, "s3cret", jwt.MapClaims{"sub": "user1", "exp": time.Now().Add(-time.Hour).Unix()})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(context.Background(), authn.RequestContext{Token: tt.token})
			assert.ErrorIs(t, err, authn.ErrUnauthenticated)
		})
	}

	_, err = authn.NewDecoder(authn.WithSecret(nil))
	assert.Error(t, err)
}

func TestDecodeCanceledContext(t *testing.T) {
	d, err := authn.NewDecoder(authn.WithSecret([]byte("s3cret")))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = d.Decode(ctx, authn.RequestContext{Token: hmacToken(t, "s3cret", jwt.MapClaims{})})
	assert.ErrorIs(t, err, context.Canceled)
}

func jwksServer(t *testing.T, kid string, key *rsa.PublicKey) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDecodeJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := jwksServer(t, "k1", &key.PublicKey)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "user1"})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	t.Run("static url", func(t *testing.T) {
		d, err := authn.NewDecoder(authn.WithJWKSURL(srv.URL))
		require.NoError(t, err)
		defer d.Close()

		claims, err := d.Decode(context.Background(), authn.RequestContext{Token: signed})
		require.NoError(t, err)
		assert.Equal(t, "user1", claims["sub"])
	})

	t.Run("resolver", func(t *testing.T) {
		calls := 0
		d, err := authn.NewDecoder(authn.WithJWKSResolver(func(context.Context) (string, error) {
			calls++
			return srv.URL, nil
		}))
		require.NoError(t, err)
		defer d.Close()

		for i := 0; i < 2; i++ {
			_, err := d.Decode(context.Background(), authn.RequestContext{Token: signed})
			require.NoError(t, err)
		}
		assert.Equal(t, 2, calls)
	})

	t.Run("foreign key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		forged := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "mallory"})
		forged.Header["kid"] = "k1"
		s, err := forged.SignedString(other)
		require.NoError(t, err)

		d, err := authn.NewDecoder(authn.WithJWKSURL(srv.URL))
		require.NoError(t, err)
		defer d.Close()
		_, err = d.Decode(context.Background(), authn.RequestContext{Token: s})
		assert.ErrorIs(t, err, authn.ErrUnauthenticated)
	})
}

func TestDecodeJWKSFetchHonoursContext(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := jwksServer(t, "k1", &key.PublicKey)

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		http.Redirect(w, r, keys.URL, http.StatusTemporaryRedirect)
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "user1"})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	d, err := authn.NewDecoder(authn.WithJWKSURL(slow.URL))
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = d.Decode(ctx, authn.RequestContext{Token: signed})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	close(release)
	claims, err := d.Decode(context.Background(), authn.RequestContext{Token: signed})
	require.NoError(t, err)
	assert.Equal(t, "user1", claims["sub"])
}
