package idp

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/dgellow/auth-front/internal/log"
)

// DefaultHTTPTimeout bounds every call made to the provider
const DefaultHTTPTimeout = 10 * time.Second

// OIDCConfig configures an OpenID Connect provider.
type OIDCConfig struct {
	// Issuer is the provider URL; endpoints are read from
	// {Issuer}/.well-known/openid-configuration.
	Issuer string

	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	Audience     string

	// HTTPTimeout defaults to DefaultHTTPTimeout
	HTTPTimeout time.Duration

	// HTTPClient replaces the pooled client built from HTTPTimeout
	HTTPClient *http.Client
}

// discovery holds everything learned from the provider metadata
type discovery struct {
	oauth2        oauth2.Config
	verifier      *oidc.IDTokenVerifier
	endSessionURL string
}

// OIDCClient implements Client on top of go-oidc and x/oauth2.
// Provider metadata is fetched on first use and cached; concurrent first
// calls share one fetch. A failed fetch is not cached.
type OIDCClient struct {
	cfg        OIDCConfig
	httpClient *http.Client

	group singleflight.Group
	mu    sync.RWMutex
	disc  *discovery
}

var _ Client = (*OIDCClient)(nil)

// NewOIDCClient creates a client. It performs no network calls.
func NewOIDCClient(cfg OIDCConfig) (*OIDCClient, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if _, err := url.ParseRequestURI(cfg.Issuer); err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("redirect URI is required")
	}

	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if !slices.Contains(cfg.Scopes, oidc.ScopeOpenID) {
		return nil, errors.New("openid scope is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
		httpClient.Timeout = cfg.HTTPTimeout
		if httpClient.Timeout <= 0 {
			httpClient.Timeout = DefaultHTTPTimeout
		}
	}

	return &OIDCClient{
		cfg:        cfg,
		httpClient: httpClient,
	}, nil
}

// ClientID returns the configured OAuth client id
func (c *OIDCClient) ClientID() string {
	return c.cfg.ClientID
}

func (c *OIDCClient) discover(ctx context.Context) (*discovery, error) {
	c.mu.RLock()
	disc := c.disc
	c.mu.RUnlock()
	if disc != nil {
		return disc, nil
	}

	// The fetch runs detached from any single caller so one cancelled
	// request does not fail the others waiting on it.
	ch := c.group.DoChan("discovery", func() (any, error) {
		disc, err := c.fetchDiscovery()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.disc = disc
		c.mu.Unlock()
		return disc, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*discovery), nil
	}
}

func (c *OIDCClient) fetchDiscovery() (*discovery, error) {
	ctx := oidc.ClientContext(context.Background(), c.httpClient)

	provider, err := oidc.NewProvider(ctx, c.cfg.Issuer)
	if err != nil {
		log.LogWarnWithFields("idp", "Provider discovery failed", map[string]any{
			"issuer": c.cfg.Issuer,
			"error":  err.Error(),
		})
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, fmt.Errorf("%w: failed to read provider metadata: %w", ErrDiscovery, err)
	}
	if extra.EndSessionEndpoint != "" {
		if _, err := url.ParseRequestURI(extra.EndSessionEndpoint); err != nil {
			return nil, fmt.Errorf("%w: end_session_endpoint: %w", ErrInvalidEndpoint, err)
		}
	}

	endpoint := provider.Endpoint()
	disc := &discovery{
		oauth2: oauth2.Config{
			ClientID:     c.cfg.ClientID,
			ClientSecret: c.cfg.ClientSecret,
			RedirectURL:  c.cfg.RedirectURI,
			Scopes:       c.cfg.Scopes,
			Endpoint:     endpoint,
		},
		verifier:      provider.Verifier(&oidc.Config{ClientID: c.cfg.ClientID}),
		endSessionURL: extra.EndSessionEndpoint,
	}

	log.LogInfoWithFields("idp", "Provider discovered", map[string]any{
		"issuer":           c.cfg.Issuer,
		"authorization":    endpoint.AuthURL,
		"token":            endpoint.TokenURL,
		"has_end_session":  disc.endSessionURL != "",
		"configured_scope": strings.Join(c.cfg.Scopes, " "),
	})

	return disc, nil
}

// httpContext makes x/oauth2 and go-oidc use the bounded client
func (c *OIDCClient) httpContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oidc.ClientContext(ctx, c.httpClient)
}

// AuthorizationURL builds the authorization URL with an S256 PKCE challenge.
func (c *OIDCClient) AuthorizationURL(ctx context.Context, params AuthorizationParams) (string, error) {
	if params.State == "" {
		return "", errors.New("state is required")
	}
	if params.Verifier == "" {
		return "", errors.New("code verifier is required")
	}

	disc, err := c.discover(ctx)
	if err != nil {
		return "", err
	}

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(params.Verifier)}
	if params.Scope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", params.Scope))
	}
	audience := params.Audience
	if audience == "" {
		audience = c.cfg.Audience
	}
	if audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", audience))
	}
	for _, key := range slices.Sorted(maps.Keys(params.Extra)) {
		if IsReservedParam(key) || key == "scope" || key == "audience" {
			continue
		}
		opts = append(opts, oauth2.SetAuthURLParam(key, params.Extra[key]))
	}

	return disc.oauth2.AuthCodeURL(params.State, opts...), nil
}

// ExchangeCode redeems code with the PKCE verifier. The response must carry
// an ID token that verifies against the provider keys and client id.
func (c *OIDCClient) ExchangeCode(ctx context.Context, code, verifier string) (*TokenSet, error) {
	disc, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	ctx = c.httpContext(ctx)
	token, err := disc.oauth2.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchange, err)
	}

	set, err := c.tokenSet(ctx, disc, token)
	if err != nil {
		return nil, err
	}
	if set.IDToken == "" {
		return nil, ErrMissingIDToken
	}

	log.LogDebugWithFields("idp", "Authorization code exchanged", map[string]any{
		"has_refresh_token": set.RefreshToken != "",
		"expires_at":        set.ExpiresAt,
	})
	return set, nil
}

// Refresh uses the refresh token grant. An ID token in the response is
// verified; its absence is not an error.
func (c *OIDCClient) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefresh)
	}

	disc, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	ctx = c.httpContext(ctx)
	token, err := disc.oauth2.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefresh, err)
	}

	set, err := c.tokenSet(ctx, disc, token)
	if err != nil {
		return nil, err
	}

	log.LogDebugWithFields("idp", "Tokens refreshed", map[string]any{
		"has_id_token":          set.IDToken != "",
		"has_new_refresh_token": set.RefreshToken != "" && set.RefreshToken != refreshToken,
		"expires_at":            set.ExpiresAt,
	})
	return set, nil
}

func (c *OIDCClient) tokenSet(ctx context.Context, disc *discovery, token *oauth2.Token) (*TokenSet, error) {
	set := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		ExpiresAt:    token.Expiry,
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return set, nil
	}

	idToken, err := disc.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to decode claims: %w", ErrInvalidIDToken, err)
	}

	set.IDToken = rawIDToken
	set.Claims = claims
	return set, nil
}

// EndSessionURL builds an RP-initiated logout URL.
func (c *OIDCClient) EndSessionURL(ctx context.Context, idTokenHint, postLogoutRedirect string) (string, error) {
	disc, err := c.discover(ctx)
	if err != nil {
		return "", err
	}
	if disc.endSessionURL == "" {
		return "", nil
	}

	u, err := url.Parse(disc.endSessionURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}
	q := u.Query()
	q.Set("client_id", c.cfg.ClientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
