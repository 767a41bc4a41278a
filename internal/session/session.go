package session

import (
	"maps"
	"time"

	"github.com/dgellow/auth-front/internal/emailutil"
	"github.com/dgellow/auth-front/internal/idp"
)

// Record is the session state kept in the browser's session cookies
type Record struct {
	IDToken              string         `json:"idToken,omitempty"`
	AccessToken          string         `json:"accessToken,omitempty"`
	AccessTokenExpiresAt time.Time      `json:"accessTokenExpiresAt,omitzero"`
	RefreshToken         string         `json:"refreshToken,omitempty"`
	TokenType            string         `json:"tokenType,omitempty"`
	Claims               map[string]any `json:"claims,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
}

// NewRecord builds a record from a verified token set
func NewRecord(tokens *idp.TokenSet, now time.Time) *Record {
	return &Record{
		IDToken:              tokens.IDToken,
		AccessToken:          tokens.AccessToken,
		AccessTokenExpiresAt: tokens.ExpiresAt,
		RefreshToken:         tokens.RefreshToken,
		TokenType:            tokens.TokenType,
		Claims:               maps.Clone(tokens.Claims),
		CreatedAt:            now,
	}
}

// ApplyRefresh replaces the token fields with a refresh result. The refresh
// token and ID token are kept when the provider did not rotate them.
func (r *Record) ApplyRefresh(tokens *idp.TokenSet) {
	r.AccessToken = tokens.AccessToken
	r.AccessTokenExpiresAt = tokens.ExpiresAt
	if tokens.TokenType != "" {
		r.TokenType = tokens.TokenType
	}
	if tokens.RefreshToken != "" {
		r.RefreshToken = tokens.RefreshToken
	}
	if tokens.IDToken != "" {
		r.IDToken = tokens.IDToken
		r.Claims = maps.Clone(tokens.Claims)
	}
}

// AccessTokenExpired reports whether a tracked expiry has passed
func (r *Record) AccessTokenExpired(now time.Time) bool {
	return !r.AccessTokenExpiresAt.IsZero() && !now.Before(r.AccessTokenExpiresAt)
}

// NeedsRefresh reports whether the access token expired and can be renewed
func (r *Record) NeedsRefresh(now time.Time) bool {
	return r.AccessTokenExpired(now) && r.RefreshToken != ""
}

// Subject returns the sub claim
func (r *Record) Subject() string {
	sub, _ := r.Claims["sub"].(string)
	return sub
}

// Email returns the normalized email claim
func (r *Record) Email() string {
	return emailutil.FromClaims(r.Claims)
}
