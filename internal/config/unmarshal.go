package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgellow/auth-front/internal/log"
)

// UnmarshalJSON implements custom unmarshaling for ServerConfig
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Addr    json.RawMessage `json:"addr"`
		BaseURL json.RawMessage `json:"baseURL"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.Addr != nil {
		value, err := ParseConfigValue(raw.Addr)
		if err != nil {
			return fmt.Errorf("parsing addr: %w", err)
		}
		s.Addr = value
	}
	if raw.BaseURL != nil {
		value, err := ParseConfigValue(raw.BaseURL)
		if err != nil {
			return fmt.Errorf("parsing baseURL: %w", err)
		}
		s.BaseURL = strings.TrimSuffix(value, "/")
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for OIDCConfig
func (o *OIDCConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Issuer                json.RawMessage `json:"issuer"`
		ClientID              json.RawMessage `json:"clientId"`
		ClientSecret          json.RawMessage `json:"clientSecret"`
		RedirectURI           json.RawMessage `json:"redirectUri"`
		PostLogoutRedirectURI json.RawMessage `json:"postLogoutRedirectUri"`
		Scope                 string          `json:"scope"`
		Audience              string          `json:"audience"`
		HTTPTimeout           string          `json:"httpTimeout"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	o.Scope = raw.Scope
	o.Audience = raw.Audience

	timeout, err := parseDuration("httpTimeout", raw.HTTPTimeout)
	if err != nil {
		return err
	}
	o.HTTPTimeout = timeout

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"issuer", raw.Issuer, &o.Issuer},
		{"clientId", raw.ClientID, &o.ClientID},
		{"redirectUri", raw.RedirectURI, &o.RedirectURI},
		{"postLogoutRedirectUri", raw.PostLogoutRedirectURI, &o.PostLogoutRedirectURI},
	}
	for _, f := range fields {
		if f.raw == nil {
			continue
		}
		value, err := ParseConfigValue(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", f.name, err)
		}
		*f.dst = value
	}

	if raw.ClientSecret != nil {
		value, err := ParseConfigValue(raw.ClientSecret)
		if err != nil {
			return fmt.Errorf("parsing clientSecret: %w", err)
		}
		o.ClientSecret = Secret(value)
	}

	log.LogTraceWithFields("config", "Parsed OIDC config", map[string]any{
		"issuer":     o.Issuer,
		"has_secret": o.ClientSecret != "",
	})
	return nil
}

// UnmarshalJSON implements custom unmarshaling for SessionConfig
func (s *SessionConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string            `json:"name"`
		Secrets   []json.RawMessage `json:"secrets"`
		Domain    string            `json:"domain"`
		Path      string            `json:"path"`
		SameSite  string            `json:"sameSite"`
		Secure    *bool             `json:"secure"` // Pointer to detect explicit false
		MaxAge    string            `json:"maxAge"`
		ChunkSize int               `json:"chunkSize"`
		MaxChunks int               `json:"maxChunks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Name = raw.Name
	s.Domain = raw.Domain
	s.Path = raw.Path
	s.SameSite = SameSite(strings.ToLower(raw.SameSite))
	s.Secure = raw.Secure
	s.ChunkSize = raw.ChunkSize
	s.MaxChunks = raw.MaxChunks

	maxAge, err := parseDuration("maxAge", raw.MaxAge)
	if err != nil {
		return err
	}
	s.MaxAge = maxAge

	if len(raw.Secrets) > 0 {
		values, err := ParseConfigValueSlice(raw.Secrets)
		if err != nil {
			return fmt.Errorf("parsing secrets: %w", err)
		}
		s.Secrets = make([]Secret, len(values))
		for i, v := range values {
			s.Secrets[i] = Secret(v)
		}
	}
	return nil
}
