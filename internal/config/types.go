package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Version is the only config version understood by Load
const Version = "v1"

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// SameSite is the SameSite attribute of issued cookies
type SameSite string

const (
	SameSiteLax    SameSite = "lax"
	SameSiteStrict SameSite = "strict"
	SameSiteNone   SameSite = "none"
)

// ServerConfig is the listener configuration
type ServerConfig struct {
	Addr    string `json:"addr"`
	BaseURL string `json:"baseURL"`
}

// OIDCConfig configures the identity provider client.
//
// Values may be given as plain strings or as {"$env": "VAR_NAME"} references
// resolved at load time. The client secret must be a reference.
type OIDCConfig struct {
	Issuer                string        `json:"issuer"`
	ClientID              string        `json:"clientId"`
	ClientSecret          Secret        `json:"clientSecret"`
	RedirectURI           string        `json:"redirectUri"`
	PostLogoutRedirectURI string        `json:"postLogoutRedirectUri,omitempty"`
	Scope                 string        `json:"scope,omitempty"`
	Audience              string        `json:"audience,omitempty"`
	HTTPTimeout           time.Duration `json:"httpTimeout,omitempty"`
}

// SessionConfig configures the session cookie. The first secret encrypts new
// cookies; all of them are tried when reading, which allows rotation.
type SessionConfig struct {
	Name      string        `json:"name"`
	Secrets   []Secret      `json:"secrets"`
	Domain    string        `json:"domain,omitempty"`
	Path      string        `json:"path,omitempty"`
	SameSite  SameSite      `json:"sameSite,omitempty"`
	Secure    *bool         `json:"secure,omitempty"`
	MaxAge    time.Duration `json:"maxAge,omitempty"`
	ChunkSize int           `json:"chunkSize,omitempty"`
	MaxChunks int           `json:"maxChunks,omitempty"`
}

// RoutesConfig are the paths handlers are mounted on
type RoutesConfig struct {
	Login    string `json:"login"`
	Callback string `json:"callback"`
	Logout   string `json:"logout"`
	Profile  string `json:"profile"`
	Landing  string `json:"landing"`
	Account  string `json:"account"`
}

// LoggingConfig selects the log level and format
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version string        `json:"version"`
	Server  ServerConfig  `json:"server"`
	OIDC    OIDCConfig    `json:"oidc"`
	Session SessionConfig `json:"session"`
	Routes  RoutesConfig  `json:"routes"`
	Logging LoggingConfig `json:"logging"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR_NAME"} reference.
//
// The explicit JSON syntax is used instead of $VAR substitution so config
// files handled by shell scripts are never expanded by the shell, and a
// variable whose value contains $ is not expanded again.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

// ParseConfigValueSlice parses a slice that may contain references
func ParseConfigValueSlice(raw []json.RawMessage) ([]string, error) {
	values := make([]string, len(raw))
	for i, item := range raw {
		value, err := ParseConfigValue(item)
		if err != nil {
			return nil, fmt.Errorf("parsing item %d: %w", i, err)
		}
		values[i] = value
	}
	return values, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}
