package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/auth-front/internal/cookie"
	"github.com/dgellow/auth-front/internal/session"
	"github.com/dgellow/auth-front/internal/state"
	"github.com/dgellow/auth-front/internal/urlutil"
)

const (
	// DefaultStateMaxAge is the lifetime of the login state cookie
	DefaultStateMaxAge = time.Hour

	// DefaultExchangeTimeout bounds each token endpoint call: the code
	// exchange at callback and every refresh
	DefaultExchangeTimeout = 30 * time.Second

	// TelemetryParam carries the client name and version to the provider
	TelemetryParam = "auth_client"
)

// Telemetry identifies this client to the provider
type Telemetry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Settings is the immutable configuration of Handlers.
type Settings struct {
	// Scope and Audience are requested on every login unless overridden
	Scope    string
	Audience string

	// LoginPath is where RequireSession sends anonymous browsers
	LoginPath string

	// LandingPath is the redirect after a callback with no other target
	LandingPath string

	// PostLogoutRedirect is sent to the provider as post_logout_redirect_uri,
	// so it must be absolute. It is also the local fallback when the provider
	// has no end-session endpoint
	PostLogoutRedirect string

	StateCookie     string
	StateMaxAge     time.Duration
	ExchangeTimeout time.Duration

	// Telemetry is sent as auth_client on login when set
	Telemetry *Telemetry
}

func (s Settings) withDefaults() Settings {
	if s.LoginPath == "" {
		s.LoginPath = "/api/login"
	}
	if s.LandingPath == "" {
		s.LandingPath = "/"
	}
	if s.StateCookie == "" {
		s.StateCookie = cookie.StateCookie
	}
	if s.StateMaxAge <= 0 {
		s.StateMaxAge = DefaultStateMaxAge
	}
	if s.ExchangeTimeout <= 0 {
		s.ExchangeTimeout = DefaultExchangeTimeout
	}
	return s
}

func (s Settings) validate() error {
	const op = "configure"
	if !urlutil.IsSafeRedirect(s.LoginPath) {
		return newError(KindConfiguration, op, "login path must be a relative path", nil)
	}
	if !urlutil.IsSafeRedirect(s.LandingPath) {
		return newError(KindConfiguration, op, "landing path must be a relative path", nil)
	}
	if s.PostLogoutRedirect != "" {
		u, err := url.Parse(s.PostLogoutRedirect)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return newError(KindConfiguration, op, "post-logout redirect must be an absolute http(s) URL", err)
		}
	}
	return nil
}

// encoded returns the telemetry value as base64url JSON
func (t *Telemetry) encoded() string {
	data, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// LoginOptions customizes one login.
type LoginOptions struct {
	// GetState returns application data to carry through the round trip
	GetState func(r *http.Request) map[string]any

	// AuthParams are extra authorization parameters: scope, audience,
	// prompt, login_hint, max_age, ui_locales, acr_values, display or any
	// provider specific key. Protocol parameters such as state are ignored.
	AuthParams map[string]string

	// RedirectTo is used when the request has no redirectTo query parameter
	RedirectTo string
}

// AfterCallbackFunc may inspect, change or replace the new session before it
// is written. Returning an error aborts the login and writes no session.
type AfterCallbackFunc func(r *http.Request, record *session.Record, token state.Token) (*session.Record, error)

// CallbackOptions customizes callback handling.
type CallbackOptions struct {
	// RedirectTo overrides the redirect carried in the state
	RedirectTo    string
	AfterCallback AfterCallbackFunc
}

// LogoutOptions customizes logout.
type LogoutOptions struct {
	// ReturnTo is the local fallback when the provider has no end-session
	// endpoint. Only relative paths are honored.
	ReturnTo string
}
