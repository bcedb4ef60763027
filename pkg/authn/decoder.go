package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// Mode says how a Decoder treats token signatures.
type Mode int

const (
	// ModeNone has no way to verify tokens and rejects every one of them.
	// Requests without a token and passthrough claims are unaffected.
	ModeNone Mode = iota
	// ModeDecode reads claims without checking the signature. Use it only
	// behind a gateway that has already verified the token.
	ModeDecode
	// ModeSecret verifies HMAC signatures with a shared secret.
	ModeSecret
	// ModeJWKS verifies signatures with keys from a remote key set.
	ModeJWKS
)

func (m Mode) String() string {
	switch m {
	case ModeDecode:
		return "decode"
	case ModeSecret:
		return "secret"
	case ModeJWKS:
		return "jwks"
	default:
		return "none"
	}
}

// URLResolver picks the key set URL for a request, e.g. per tenant.
type URLResolver func(ctx context.Context) (string, error)

// Decoder decodes bearer tokens into Claims. It is safe for concurrent use.
type Decoder struct {
	mode     Mode
	secret   []byte
	url      string
	resolver URLResolver
	keyfunc  jwt.Keyfunc
	refresh  time.Duration
	methods  []string
	leeway   time.Duration

	mu    sync.Mutex
	sets  map[string]*keyfunc.JWKS
	fetch singleflight.Group
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithoutVerification reads claims without checking signatures.
func WithoutVerification() Option {
	return func(d *Decoder) { d.mode = ModeDecode }
}

// WithSecret verifies tokens with an HMAC shared secret.
func WithSecret(secret []byte) Option {
	return func(d *Decoder) {
		d.mode = ModeSecret
		d.secret = secret
	}
}

// WithJWKSURL verifies tokens with the key set published at url.
func WithJWKSURL(url string) Option {
	return func(d *Decoder) {
		d.mode = ModeJWKS
		d.url = url
	}
}

// WithJWKSResolver verifies tokens with a key set whose URL is chosen per
// request. Key sets are fetched once per distinct URL.
func WithJWKSResolver(r URLResolver) Option {
	return func(d *Decoder) {
		d.mode = ModeJWKS
		d.resolver = r
	}
}

// WithKeyfunc verifies tokens with a caller-supplied key lookup.
func WithKeyfunc(kf jwt.Keyfunc) Option {
	return func(d *Decoder) {
		d.mode = ModeJWKS
		d.keyfunc = kf
	}
}

// WithRefreshInterval sets how often remote key sets are refetched in the
// background. Zero disables periodic refresh.
func WithRefreshInterval(interval time.Duration) Option {
	return func(d *Decoder) { d.refresh = interval }
}

// WithValidMethods restricts accepted signing algorithms.
func WithValidMethods(methods ...string) Option {
	return func(d *Decoder) { d.methods = methods }
}

// WithLeeway allows for clock skew when checking exp and nbf.
func WithLeeway(leeway time.Duration) Option {
	return func(d *Decoder) { d.leeway = leeway }
}

// NewDecoder returns a Decoder. Without a verification option it rejects
// every token; WithoutVerification must be passed to decode unverified.
func NewDecoder(opts ...Option) (*Decoder, error) {
	d := &Decoder{sets: make(map[string]*keyfunc.JWKS)}
	for _, opt := range opts {
		opt(d)
	}
	switch d.mode {
	case ModeSecret:
		if len(d.secret) == 0 {
			return nil, errors.New("authn: empty secret")
		}
		if d.methods == nil {
			d.methods = []string{"HS256", "HS384", "HS512"}
		}
	case ModeJWKS:
		if d.url == "" && d.resolver == nil && d.keyfunc == nil {
			return nil, errors.New("authn: key set mode needs a URL, resolver or keyfunc")
		}
	}
	return d, nil
}

// Mode returns the verification mode.
func (d *Decoder) Mode() Mode {
	return d.mode
}

// Decode returns the claims of rc. A request without credentials yields nil
// claims and no error. Credentials that fail to decode or verify yield
// ErrUnauthenticated.
func (d *Decoder) Decode(ctx context.Context, rc RequestContext) (Claims, error) {
	if rc.Passthrough != nil {
		return rc.Passthrough, nil
	}
	token := bearer(rc.Token)
	if token == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	var err error
	switch d.mode {
	case ModeNone:
		err = errors.New("token verification is not configured")
	case ModeDecode:
		_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	case ModeSecret:
		_, err = d.parser().ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return d.secret, nil
		})
	case ModeJWKS:
		var kf jwt.Keyfunc
		if kf, err = d.keys(ctx); err == nil {
			_, err = d.parser().ParseWithClaims(token, claims, kf)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return Claims(claims), nil
}

func (d *Decoder) parser() *jwt.Parser {
	var opts []jwt.ParserOption
	if len(d.methods) > 0 {
		opts = append(opts, jwt.WithValidMethods(d.methods))
	}
	if d.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(d.leeway))
	}
	return jwt.NewParser(opts...)
}

func (d *Decoder) keys(ctx context.Context) (jwt.Keyfunc, error) {
	if d.keyfunc != nil {
		return d.keyfunc, nil
	}
	url := d.url
	if d.resolver != nil {
		var err error
		if url, err = d.resolver(ctx); err != nil {
			return nil, fmt.Errorf("resolving key set URL: %w", err)
		}
	}

	d.mu.Lock()
	set, ok := d.sets[url]
	d.mu.Unlock()
	if ok {
		return set.Keyfunc, nil
	}

	// Concurrent first requests for a URL share one fetch; each waits only
	// as long as its own context allows.
	ch := d.fetch.DoChan(url, func() (any, error) {
		return d.load(url)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*keyfunc.JWKS).Keyfunc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load fetches the key set at url and caches it. The fetch outlives the
// request that triggered it, bounded by the refresh timeout.
func (d *Decoder) load(url string) (*keyfunc.JWKS, error) {
	d.mu.Lock()
	if set, ok := d.sets[url]; ok {
		d.mu.Unlock()
		return set, nil
	}
	d.mu.Unlock()

	set, err := keyfunc.Get(url, keyfunc.Options{
		Ctx:               context.Background(),
		RefreshInterval:   d.refresh,
		RefreshUnknownKID: true,
		RefreshTimeout:    10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching key set %s: %w", url, err)
	}
	d.mu.Lock()
	d.sets[url] = set
	d.mu.Unlock()
	return set, nil
}

// Close stops background refresh of remote key sets.
func (d *Decoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for url, set := range d.sets {
		set.EndBackground()
		delete(d.sets, url)
	}
}

func bearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
