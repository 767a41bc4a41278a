package idp

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/dgellow/auth-front/internal/idp/idptest"
)

const testRedirectURI = "http://localhost:3000/api/callback"

func newTestClient(t *testing.T, p *idptest.Provider) *OIDCClient {
	t.Helper()
	c, err := NewOIDCClient(OIDCConfig{
		Issuer:       p.Issuer(),
		ClientID:     idptest.ClientID,
		ClientSecret: idptest.ClientSecret,
		RedirectURI:  testRedirectURI,
		Scopes:       []string{"openid", "profile", "email", "offline_access"},
	})
	require.NoError(t, err)
	return c
}

// login runs a full authorization code flow and returns the token set
func login(t *testing.T, p *idptest.Provider, c *OIDCClient) *TokenSet {
	t.Helper()
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	authURL, err := c.AuthorizationURL(ctx, AuthorizationParams{State: "xyz", Verifier: verifier})
	require.NoError(t, err)

	callback := p.Authorize(t, authURL)
	require.Equal(t, "xyz", callback.Query().Get("state"))
	code := callback.Query().Get("code")
	require.NotEmpty(t, code)

	set, err := c.ExchangeCode(ctx, code, verifier)
	require.NoError(t, err)
	return set
}

func TestNewOIDCClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     OIDCConfig
		wantErr string
	}{
		{"missing issuer", OIDCConfig{ClientID: "c", RedirectURI: testRedirectURI}, "issuer is required"},
		{"invalid issuer", OIDCConfig{Issuer: "not a url", ClientID: "c", RedirectURI: testRedirectURI}, "invalid issuer URL"},
		{"missing client id", OIDCConfig{Issuer: "https://idp.example.com", RedirectURI: testRedirectURI}, "client id is required"},
		{"missing redirect", OIDCConfig{Issuer: "https://idp.example.com", ClientID: "c"}, "redirect URI is required"},
		{"no openid scope", OIDCConfig{
			Issuer:      "https://idp.example.com",
			ClientID:    "c",
			RedirectURI: testRedirectURI,
			Scopes:      []string{"profile"},
		}, "openid scope is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOIDCClient(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewOIDCClient_Defaults(t *testing.T) {
	c, err := NewOIDCClient(OIDCConfig{
		Issuer:      "https://idp.example.com",
		ClientID:    "c",
		RedirectURI: testRedirectURI,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "profile", "email"}, c.cfg.Scopes)
	assert.Equal(t, DefaultHTTPTimeout, c.httpClient.Timeout)
	assert.Equal(t, "c", c.ClientID())
}

func TestOIDCClient_AuthorizationURL(t *testing.T) {
	p := idptest.New(t)
	c := newTestClient(t, p)
	c.cfg.Audience = "https://api.example.com"

	verifier := oauth2.GenerateVerifier()
	raw, err := c.AuthorizationURL(context.Background(), AuthorizationParams{
		State:    "state-value",
		Verifier: verifier,
		Extra: map[string]string{
			"prompt":        "login",
			"login_hint":    "user@example.com",
			"state":         "overridden",
			"redirect_uri":  "https://evil.example.com",
			"response_type": "token",
		},
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, p.Issuer()+"/authorize", u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, "state-value", q.Get("state"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, testRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, idptest.ClientID, q.Get("client_id"))
	assert.Equal(t, "openid profile email offline_access", q.Get("scope"))
	assert.Equal(t, "https://api.example.com", q.Get("audience"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), q.Get("code_challenge"))
	assert.Equal(t, "login", q.Get("prompt"))
	assert.Equal(t, "user@example.com", q.Get("login_hint"))
	assert.Empty(t, q.Get("code_verifier"))

	t.Run("scope and audience overrides", func(t *testing.T) {
		raw, err := c.AuthorizationURL(context.Background(), AuthorizationParams{
			State:    "s",
			Verifier: verifier,
			Scope:    "openid read:reports",
			Audience: "reports-api",
		})
		require.NoError(t, err)
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "openid read:reports", u.Query().Get("scope"))
		assert.Equal(t, "reports-api", u.Query().Get("audience"))
	})

	t.Run("requires state and verifier", func(t *testing.T) {
		_, err := c.AuthorizationURL(context.Background(), AuthorizationParams{Verifier: verifier})
		assert.Error(t, err)
		_, err = c.AuthorizationURL(context.Background(), AuthorizationParams{State: "s"})
		assert.Error(t, err)
	})
}

func TestOIDCClient_ExchangeCode(t *testing.T) {
	p := idptest.New(t, idptest.WithClaims(map[string]any{"org": "acme"}))
	c := newTestClient(t, p)

	set := login(t, p, c)
	assert.NotEmpty(t, set.IDToken)
	assert.NotEmpty(t, set.AccessToken)
	assert.NotEmpty(t, set.RefreshToken)
	assert.Equal(t, "Bearer", set.TokenType)
	assert.WithinDuration(t, time.Now().Add(time.Hour), set.ExpiresAt, time.Minute)
	assert.Equal(t, idptest.Subject, set.Claims["sub"])
	assert.Equal(t, "user@example.com", set.Claims["email"])
	assert.Equal(t, "acme", set.Claims["org"])

	form := p.LastTokenForm()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.NotEmpty(t, form.Get("code_verifier"))
}

func TestOIDCClient_ExchangeCode_WrongVerifier(t *testing.T) {
	p := idptest.New(t)
	c := newTestClient(t, p)
	ctx := context.Background()

	authURL, err := c.AuthorizationURL(ctx, AuthorizationParams{State: "s", Verifier: oauth2.GenerateVerifier()})
	require.NoError(t, err)
	code := p.Authorize(t, authURL).Query().Get("code")

	_, err = c.ExchangeCode(ctx, code, oauth2.GenerateVerifier())
	require.ErrorIs(t, err, ErrExchange)

	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, "invalid_grant", retrieveErr.ErrorCode)
}

func TestOIDCClient_Refresh(t *testing.T) {
	p := idptest.New(t)
	c := newTestClient(t, p)
	ctx := context.Background()

	first := login(t, p, c)

	refreshed, err := c.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, refreshed.AccessToken)
	assert.NotEmpty(t, refreshed.RefreshToken)
	assert.NotEqual(t, first.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, idptest.Subject, refreshed.Claims["sub"])
	assert.Equal(t, "refresh_token", p.LastTokenForm().Get("grant_type"))

	t.Run("rotated token is rejected", func(t *testing.T) {
		_, err := c.Refresh(ctx, first.RefreshToken)
		assert.ErrorIs(t, err, ErrRefresh)
	})

	t.Run("provider failure", func(t *testing.T) {
		p.SetRefreshFailure(true)
		t.Cleanup(func() { p.SetRefreshFailure(false) })

		_, err := c.Refresh(ctx, refreshed.RefreshToken)
		assert.ErrorIs(t, err, ErrRefresh)
	})

	t.Run("empty token", func(t *testing.T) {
		requests := p.TokenRequests()
		_, err := c.Refresh(ctx, "")
		assert.ErrorIs(t, err, ErrRefresh)
		assert.Equal(t, requests, p.TokenRequests())
	})
}

func TestOIDCClient_RejectsForeignIDToken(t *testing.T) {
	p := idptest.New(t)
	c := newTestClient(t, p)
	ctx := context.Background()

	disc, err := c.discover(ctx)
	require.NoError(t, err)

	token := (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]any{
		"id_token": p.IDToken(t, "some-other-client", nil),
	})
	_, err = c.tokenSet(c.httpContext(ctx), disc, token)
	assert.ErrorIs(t, err, ErrInvalidIDToken)

	token = (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]any{
		"id_token": p.IDToken(t, idptest.ClientID, nil),
	})
	set, err := c.tokenSet(c.httpContext(ctx), disc, token)
	require.NoError(t, err)
	assert.Equal(t, idptest.Subject, set.Claims["sub"])
}

func TestOIDCClient_LazySharedDiscovery(t *testing.T) {
	p := idptest.New(t)
	c := newTestClient(t, p)
	assert.Equal(t, 0, p.DiscoveryHits())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.AuthorizationURL(context.Background(), AuthorizationParams{
				State:    "s",
				Verifier: oauth2.GenerateVerifier(),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, p.DiscoveryHits())
}

type flakyTransport struct {
	failures atomic.Int32
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection refused")
	}
	return http.DefaultTransport.RoundTrip(r)
}

func TestOIDCClient_FailedDiscoveryNotCached(t *testing.T) {
	p := idptest.New(t)
	transport := &flakyTransport{}
	transport.failures.Store(1)

	c, err := NewOIDCClient(OIDCConfig{
		Issuer:       p.Issuer(),
		ClientID:     idptest.ClientID,
		ClientSecret: idptest.ClientSecret,
		RedirectURI:  testRedirectURI,
		HTTPClient:   &http.Client{Transport: transport, Timeout: 5 * time.Second},
	})
	require.NoError(t, err)

	_, err = c.EndSessionURL(context.Background(), "", "")
	require.ErrorIs(t, err, ErrDiscovery)

	endSession, err := c.EndSessionURL(context.Background(), "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, endSession)
	assert.Equal(t, 1, p.DiscoveryHits())
}

func TestOIDCClient_EndSessionURL(t *testing.T) {
	t.Run("advertised", func(t *testing.T) {
		p := idptest.New(t)
		c := newTestClient(t, p)

		raw, err := c.EndSessionURL(context.Background(), "raw-id-token", "http://localhost:3000/")
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "/logout", u.Path)
		assert.Equal(t, "raw-id-token", u.Query().Get("id_token_hint"))
		assert.Equal(t, idptest.ClientID, u.Query().Get("client_id"))
		assert.Equal(t, "http://localhost:3000/", u.Query().Get("post_logout_redirect_uri"))
	})

	t.Run("omits empty values", func(t *testing.T) {
		p := idptest.New(t)
		c := newTestClient(t, p)

		raw, err := c.EndSessionURL(context.Background(), "", "")
		require.NoError(t, err)
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.False(t, u.Query().Has("id_token_hint"))
		assert.False(t, u.Query().Has("post_logout_redirect_uri"))
	})

	t.Run("not advertised", func(t *testing.T) {
		p := idptest.New(t, idptest.WithoutEndSession())
		c := newTestClient(t, p)

		raw, err := c.EndSessionURL(context.Background(), "raw-id-token", "http://localhost:3000/")
		require.NoError(t, err)
		assert.Empty(t, raw)
	})
}

func TestIsReservedParam(t *testing.T) {
	for _, name := range []string{"state", "redirect_uri", "response_type", "code_challenge", "code_challenge_method", "client_id"} {
		assert.True(t, IsReservedParam(name), name)
	}
	for _, name := range []string{"prompt", "login_hint", "max_age", "ui_locales", "acr_values", "display"} {
		assert.False(t, IsReservedParam(name), name)
	}
}
