package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dgellow/auth-front/internal/envutil"
	"github.com/dgellow/auth-front/internal/log"
	"github.com/dgellow/auth-front/internal/urlutil"
)

const (
	// MinSecretLength is the minimum length of each session secret
	MinSecretLength = 32

	// HealthPath is always served and cannot be used by a route
	HealthPath = "/health"

	defaultAddr        = ":3000"
	defaultSessionName = "app_session"
	defaultMaxAge      = 24 * time.Hour
	defaultScope       = "openid profile email"
)

// ErrInvalid wraps every problem found while validating a config
var ErrInvalid = errors.New("config validation failed")

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a config document, applies defaults and validates it
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != Version {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := ApplyDefaults(&config); err != nil {
		return Config{}, fmt.Errorf("applying defaults: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return config, nil
}

// validateRawConfig checks that secrets are env references before resolution
func validateRawConfig(rawConfig map[string]any) error {
	var result *multierror.Error

	if oidc, ok := rawConfig["oidc"].(map[string]any); ok {
		if value, exists := oidc["clientSecret"]; exists {
			if err := requireEnvRef("oidc.clientSecret", value); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	if session, ok := rawConfig["session"].(map[string]any); ok {
		if secrets, ok := session["secrets"].([]any); ok {
			for i, value := range secrets {
				if err := requireEnvRef(fmt.Sprintf("session.secrets[%d]", i), value); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
	}

	return result.ErrorOrNil()
}

func requireEnvRef(path string, value any) error {
	switch v := value.(type) {
	case string:
		return fmt.Errorf("%s must use environment variable reference for security", path)
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", path)
		}
		return nil
	default:
		return fmt.Errorf("%s must be an environment variable reference, not %T", path, value)
	}
}

// ApplyDefaults fills every optional field left empty. Absolute URLs that
// are not set are derived from server.baseURL and the routes.
func ApplyDefaults(config *Config) error {
	if config.Server.Addr == "" {
		config.Server.Addr = defaultAddr
	}

	r := &config.Routes
	if r.Login == "" {
		r.Login = "/api/login"
	}
	if r.Callback == "" {
		r.Callback = "/api/callback"
	}
	if r.Logout == "" {
		r.Logout = "/api/logout"
	}
	if r.Profile == "" {
		r.Profile = "/api/me"
	}
	if r.Landing == "" {
		r.Landing = "/"
	}
	if r.Account == "" {
		r.Account = "/account"
	}

	o := &config.OIDC
	if o.Scope == "" {
		o.Scope = defaultScope
	}
	if config.Server.BaseURL != "" {
		if o.RedirectURI == "" {
			redirect, err := urlutil.AbsoluteURL(config.Server.BaseURL, r.Callback)
			if err != nil {
				return fmt.Errorf("deriving oidc.redirectUri: %w", err)
			}
			o.RedirectURI = redirect
		}
		// The provider only accepts an absolute post_logout_redirect_uri
		switch {
		case o.PostLogoutRedirectURI == "":
			postLogout, err := urlutil.AbsoluteURL(config.Server.BaseURL, "/")
			if err != nil {
				return fmt.Errorf("deriving oidc.postLogoutRedirectUri: %w", err)
			}
			o.PostLogoutRedirectURI = postLogout
		case urlutil.IsSafeRedirect(o.PostLogoutRedirectURI):
			postLogout, err := urlutil.AbsoluteURL(config.Server.BaseURL, o.PostLogoutRedirectURI)
			if err != nil {
				return fmt.Errorf("resolving oidc.postLogoutRedirectUri: %w", err)
			}
			o.PostLogoutRedirectURI = postLogout
		}
	}

	s := &config.Session
	if s.Name == "" {
		s.Name = defaultSessionName
	}
	if s.Path == "" {
		s.Path = "/"
	}
	if s.SameSite == "" {
		s.SameSite = SameSiteLax
	}
	if s.Secure == nil {
		secure := !envutil.IsDev()
		s.Secure = &secure
	}
	if s.MaxAge == 0 {
		s.MaxAge = defaultMaxAge
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
	return nil
}

// ValidateConfig validates the resolved configuration, reporting every
// problem at once.
func ValidateConfig(config *Config) error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if config.Server.Addr == "" {
		add("server.addr is required")
	}
	if config.Server.BaseURL != "" {
		if err := absoluteHTTPURL(config.Server.BaseURL); err != nil {
			add("server.baseURL: %v", err)
		}
	}

	o := config.OIDC
	if o.Issuer == "" {
		add("oidc.issuer is required")
	} else if err := absoluteHTTPURL(o.Issuer); err != nil {
		add("oidc.issuer: %v", err)
	}
	if o.ClientID == "" {
		add("oidc.clientId is required")
	}
	if o.RedirectURI == "" {
		add("oidc.redirectUri is required (or set server.baseURL)")
	} else if err := absoluteHTTPURL(o.RedirectURI); err != nil {
		add("oidc.redirectUri: %v", err)
	}
	if o.PostLogoutRedirectURI != "" {
		if err := absoluteHTTPURL(o.PostLogoutRedirectURI); err != nil {
			add("oidc.postLogoutRedirectUri: %v (relative paths need server.baseURL)", err)
		}
	}
	if !hasScope(o.Scope, "openid") {
		add("oidc.scope must include openid")
	}
	if o.HTTPTimeout < 0 {
		add("oidc.httpTimeout cannot be negative")
	}

	s := config.Session
	if len(s.Secrets) == 0 {
		add("session.secrets requires at least one secret")
	}
	for i, secret := range s.Secrets {
		if len(secret) < MinSecretLength {
			add("session.secrets[%d] must be at least %d characters (got %d). Generate with: openssl rand -base64 32", i, MinSecretLength, len(secret))
		}
	}
	switch s.SameSite {
	case SameSiteLax, SameSiteStrict:
	case SameSiteNone:
		if s.Secure != nil && !*s.Secure {
			add("session.sameSite none requires secure cookies")
		}
	default:
		add("session.sameSite must be lax, strict or none (got %q)", s.SameSite)
	}
	if s.MaxAge < 0 {
		add("session.maxAge cannot be negative")
	}
	if s.ChunkSize < 0 {
		add("session.chunkSize cannot be negative")
	}
	if s.MaxChunks < 0 {
		add("session.maxChunks cannot be negative")
	}
	if strings.ContainsAny(s.Name, "=;, \t\r\n") {
		add("session.name %q is not a valid cookie name", s.Name)
	}
	if s.Secure != nil && !*s.Secure && !envutil.IsDev() {
		log.LogWarn("Session cookies are not marked Secure outside development mode")
	}

	routes := map[string]string{
		"routes.login":    config.Routes.Login,
		"routes.callback": config.Routes.Callback,
		"routes.logout":   config.Routes.Logout,
		"routes.profile":  config.Routes.Profile,
		"routes.landing":  config.Routes.Landing,
		"routes.account":  config.Routes.Account,
	}
	owners := map[string]string{HealthPath: "the health check"}
	for _, name := range slices.Sorted(maps.Keys(routes)) {
		route := routes[name]
		if !urlutil.IsSafeRedirect(route) {
			add("%s must be a relative path (got %q)", name, route)
			continue
		}
		if other, dup := owners[route]; dup {
			add("%s and %s are both mounted on %q", other, name, route)
		}
		owners[route] = name
	}

	return result.ErrorOrNil()
}

func absoluteHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	return nil
}

func hasScope(scope, want string) bool {
	return slices.Contains(strings.Fields(scope), want)
}
