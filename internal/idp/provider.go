package idp

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDiscovery       = errors.New("provider discovery failed")
	ErrExchange        = errors.New("authorization code exchange failed")
	ErrRefresh         = errors.New("token refresh failed")
	ErrMissingIDToken  = errors.New("provider response has no id_token")
	ErrInvalidIDToken  = errors.New("id token verification failed")
	ErrInvalidEndpoint = errors.New("invalid provider endpoint")
)

// TokenSet is the result of a code exchange or refresh. Claims come from the
// verified ID token; they are nil when a refresh response carries none.
type TokenSet struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time // zero when the provider sent no expires_in
	Claims       map[string]any
}

// AuthorizationParams describes one authorization request. Verifier is the
// PKCE code verifier; only its S256 challenge is sent.
type AuthorizationParams struct {
	State    string
	Verifier string

	// Scope and Audience override the configured values when set
	Scope    string
	Audience string

	// Extra holds additional query parameters such as prompt or login_hint.
	// Parameters that belong to the protocol itself are ignored.
	Extra map[string]string
}

// Client abstracts the OpenID Connect relying-party operations.
type Client interface {
	// AuthorizationURL builds the authorization endpoint URL for a code flow.
	AuthorizationURL(ctx context.Context, params AuthorizationParams) (string, error)

	// ExchangeCode redeems an authorization code and verifies the ID token.
	ExchangeCode(ctx context.Context, code, verifier string) (*TokenSet, error)

	// Refresh obtains new tokens with a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// EndSessionURL returns the provider logout URL, or "" when the provider
	// does not advertise an end_session_endpoint.
	EndSessionURL(ctx context.Context, idTokenHint, postLogoutRedirect string) (string, error)
}

// reservedParams may not be overridden through AuthorizationParams.Extra
var reservedParams = map[string]bool{
	"state":                 true,
	"client_id":             true,
	"redirect_uri":          true,
	"response_type":         true,
	"code_challenge":        true,
	"code_challenge_method": true,
}

// IsReservedParam reports whether name is an authorization parameter owned
// by the protocol flow.
func IsReservedParam(name string) bool {
	return reservedParams[name]
}
