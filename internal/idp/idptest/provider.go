// Package idptest runs an in-process OpenID Connect provider for tests.
//
// It serves discovery, JWKS, authorization, token and end-session endpoints.
// ID tokens are RS256 signed with a key generated per provider. The
// authorization endpoint approves every request immediately and redirects
// back with a code, so a test can drive a full code flow without a browser.
package idptest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
	Subject      = "user-123"

	keyID = "test-key-1"
)

// Provider is a mock OpenID Connect provider.
type Provider struct {
	*httptest.Server

	key    *rsa.PrivateKey
	signer jose.Signer

	mu              sync.Mutex
	claims          map[string]any
	accessTokenTTL  time.Duration
	endSession      bool
	authorizeError  string
	refreshFailure  bool
	codes           map[string]grant
	refreshTokens   map[string]bool
	discoveryHits   int
	tokenRequests   int
	lastAuthorize   url.Values
	lastTokenForm   url.Values
	lastLogoutQuery url.Values
}

type grant struct {
	challenge   string
	redirectURI string
	nonce       string
}

// Option configures a Provider.
type Option func(*Provider)

// WithClaims adds claims to every ID token
func WithClaims(claims map[string]any) Option {
	return func(p *Provider) {
		maps.Copy(p.claims, claims)
	}
}

// WithAccessTokenTTL sets expires_in of issued access tokens
func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		p.accessTokenTTL = ttl
	}
}

// WithoutEndSession omits end_session_endpoint from the discovery document
func WithoutEndSession() Option {
	return func(p *Provider) {
		p.endSession = false
	}
}

// New starts a provider that is shut down when the test ends.
func New(t testing.TB, opts ...Option) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: jose.RS256,
			Key:       jose.JSONWebKey{Key: key, KeyID: keyID, Algorithm: string(jose.RS256)},
		},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	p := &Provider{
		key:            key,
		signer:         signer,
		claims:         map[string]any{"email": "user@example.com", "name": "Test User"},
		accessTokenTTL: time.Hour,
		endSession:     true,
		codes:          make(map[string]grant),
		refreshTokens:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /jwks", p.handleJWKS)
	mux.HandleFunc("GET /authorize", p.handleAuthorize)
	mux.HandleFunc("POST /token", p.handleToken)
	mux.HandleFunc("GET /logout", p.handleLogout)

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

// Issuer returns the issuer URL
func (p *Provider) Issuer() string {
	return p.URL
}

// SetAuthorizeError makes the authorization endpoint redirect back with the
// given OAuth error code. An empty code restores normal behavior.
func (p *Provider) SetAuthorizeError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authorizeError = code
}

// SetRefreshFailure makes refresh_token grants fail with invalid_grant
func (p *Provider) SetRefreshFailure(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshFailure = fail
}

// DiscoveryHits returns how many times the discovery document was served
func (p *Provider) DiscoveryHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryHits
}

// TokenRequests returns how many requests reached the token endpoint
func (p *Provider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// LastAuthorize returns the query of the most recent authorization request
func (p *Provider) LastAuthorize() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAuthorize
}

// LastTokenForm returns the form of the most recent token request
func (p *Provider) LastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenForm
}

// LastLogout returns the query of the most recent end-session request
func (p *Provider) LastLogout() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLogoutQuery
}

// Authorize performs the browser leg of the code flow: it requests
// authURL without following redirects and returns the callback URL the
// provider redirected to.
func (p *Provider) Authorize(t testing.TB, authURL string) *url.URL {
	t.Helper()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := resp.Location()
	require.NoError(t, err)
	return location
}

// IDToken signs an ID token for the given audience with extra claims merged
// over the defaults. Useful to build tokens the provider never issued.
func (p *Provider) IDToken(t testing.TB, audience string, extra map[string]any) string {
	t.Helper()
	raw, err := p.signIDToken(audience, "", extra)
	require.NoError(t, err)
	return raw
}

func (p *Provider) signIDToken(audience, nonce string, extra map[string]any) (string, error) {
	now := time.Now()
	registered := jwt.Claims{
		Issuer:   p.URL,
		Subject:  Subject,
		Audience: jwt.Audience{audience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
	}

	private := make(map[string]any, len(p.claims)+len(extra)+1)
	maps.Copy(private, p.claims)
	maps.Copy(private, extra)
	if nonce != "" {
		private["nonce"] = nonce
	}

	return jwt.Signed(p.signer).Claims(registered).Claims(private).Serialize()
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	p.discoveryHits++
	endSession := p.endSession
	p.mu.Unlock()

	doc := map[string]any{
		"issuer":                                p.URL,
		"authorization_endpoint":                p.URL + "/authorize",
		"token_endpoint":                        p.URL + "/token",
		"jwks_uri":                              p.URL + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	}
	if endSession {
		doc["end_session_endpoint"] = p.URL + "/logout"
	}
	writeJSON(w, http.StatusOK, doc)
}

func (p *Provider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &p.key.PublicKey,
			KeyID:     keyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	})
}

func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	p.mu.Lock()
	p.lastAuthorize = q
	authorizeError := p.authorizeError
	p.mu.Unlock()

	redirectURI := q.Get("redirect_uri")
	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	if q.Get("client_id") != ClientID {
		http.Error(w, "unknown client", http.StatusBadRequest)
		return
	}

	back := target.Query()
	back.Set("state", q.Get("state"))

	switch {
	case authorizeError != "":
		back.Set("error", authorizeError)
		back.Set("error_description", "request rejected by test provider")
	case q.Get("response_type") != "code":
		back.Set("error", "unsupported_response_type")
	case q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256":
		back.Set("error", "invalid_request")
		back.Set("error_description", "PKCE S256 required")
	default:
		code := randomString()
		p.mu.Lock()
		p.codes[code] = grant{
			challenge:   q.Get("code_challenge"),
			redirectURI: redirectURI,
			nonce:       q.Get("nonce"),
		}
		p.mu.Unlock()
		back.Set("code", code)
	}

	target.RawQuery = back.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	p.mu.Lock()
	p.tokenRequests++
	p.lastTokenForm = r.PostForm
	p.mu.Unlock()

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID, clientSecret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if clientID != ClientID || clientSecret != ClientSecret {
		tokenError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.exchangeCode(w, r)
	case "refresh_token":
		p.refresh(w, r)
	default:
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func (p *Provider) exchangeCode(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")

	p.mu.Lock()
	g, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()

	if !ok {
		tokenError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	if r.PostForm.Get("redirect_uri") != g.redirectURI {
		tokenError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != g.challenge {
		tokenError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	p.issueTokens(w, g.nonce)
}

func (p *Provider) refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.PostForm.Get("refresh_token")

	p.mu.Lock()
	known := p.refreshTokens[refreshToken]
	fail := p.refreshFailure
	if known && !fail {
		delete(p.refreshTokens, refreshToken)
	}
	p.mu.Unlock()

	if !known || fail {
		tokenError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	p.issueTokens(w, "")
}

func (p *Provider) issueTokens(w http.ResponseWriter, nonce string) {
	p.mu.Lock()
	ttl := p.accessTokenTTL
	p.mu.Unlock()

	idToken, err := p.signIDToken(ClientID, nonce, nil)
	if err != nil {
		tokenError(w, http.StatusInternalServerError, "server_error")
		return
	}

	refreshToken := randomString()
	p.mu.Lock()
	p.refreshTokens[refreshToken] = true
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  randomString(),
		"token_type":    "Bearer",
		"expires_in":    int(ttl.Seconds()),
		"refresh_token": refreshToken,
		"id_token":      idToken,
	})
}

func (p *Provider) handleLogout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	p.mu.Lock()
	p.lastLogoutQuery = q
	p.mu.Unlock()

	if target := q.Get("post_logout_redirect_uri"); target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func tokenError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomString() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("idptest: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
