package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name          string
		config        string
		wantErrors    []string
		wantWarnings  []string
		wantErrCount  int
		wantWarnCount int
	}{
		{
			name:          "valid config",
			config:        minimalConfig,
			wantErrCount:  0,
			wantWarnCount: 0,
		},
		{
			name:         "invalid json",
			config:       `{"version": "v1",}`,
			wantErrors:   []string{"invalid JSON"},
			wantErrCount: 1,
		},
		{
			name:         "missing sections",
			config:       `{}`,
			wantErrors:   []string{"version field is required", "oidc field is required", "session field is required"},
			wantErrCount: 3,
		},
		{
			name: "plain text secrets",
			config: `{
				"version": "v1",
				"server": {"baseURL": "https://app.example.com"},
				"oidc": {"issuer": "https://idp.example.com", "clientId": "c", "clientSecret": "hunter2"},
				"session": {"secrets": ["not-a-reference"]}
			}`,
			wantErrors:   []string{"clientSecret must use environment variable reference", "secret must use environment variable reference"},
			wantErrCount: 2,
		},
		{
			name: "bash style syntax",
			config: `{
				"version": "v1",
				"server": {"baseURL": "https://app.example.com"},
				"oidc": {"issuer": "$ISSUER_URL", "clientId": "c", "clientSecret": {"$env": "S"}},
				"session": {"secrets": ["${SESSION_SECRET}"]}
			}`,
			wantErrors:    []string{"found bash-style syntax '${SESSION_SECRET}'"},
			wantWarnings:  []string{"found bash-style syntax '$ISSUER_URL'", "found bash-style syntax '${SESSION_SECRET}'"},
			wantErrCount:  1,
			wantWarnCount: 2,
		},
		{
			name: "bad values",
			config: `{
				"version": "v2",
				"server": {"baseURL": "https://app.example.com"},
				"oidc": {"issuer": "https://idp.example.com", "clientId": "c", "clientSecret": {"$env": "S"}, "scope": "email", "httpTimeout": "soon"},
				"session": {"secrets": [{"$env": "S2"}], "sameSite": "sometimes", "maxAge": "-1h", "chunkSize": -5},
				"routes": {"login": "https://evil.example.com/login"},
				"logging": {"level": "loud", "format": "xml"}
			}`,
			wantErrors: []string{
				"unsupported version 'v2'",
				"scope must include openid",
				"invalid duration \"soon\"",
				"sameSite must be lax, strict or none",
				"maxAge cannot be negative",
				"chunkSize cannot be negative",
				"route must be a relative path",
				"unknown log level",
				"unknown log format",
			},
			wantErrCount: 9,
		},
		{
			name: "insecure cookies and public client",
			config: `{
				"version": "v1",
				"server": {"baseURL": "http://localhost:3000"},
				"oidc": {"issuer": "https://idp.example.com", "clientId": "c"},
				"session": {"secrets": [{"$env": "S"}], "secure": false}
			}`,
			wantWarnings:  []string{"no clientSecret configured", "cookies without Secure"},
			wantWarnCount: 2,
		},
		{
			name: "samesite none requires secure",
			config: `{
				"version": "v1",
				"server": {"baseURL": "https://app.example.com"},
				"oidc": {"issuer": "https://idp.example.com", "clientId": "c", "clientSecret": {"$env": "S"}},
				"session": {"secrets": [{"$env": "S"}], "sameSite": "none", "secure": false}
			}`,
			wantErrors:    []string{"sameSite none requires secure cookies"},
			wantErrCount:  1,
			wantWarnCount: 1,
		},
		{
			name: "redirect uri without base url",
			config: `{
				"version": "v1",
				"oidc": {"issuer": "https://idp.example.com", "clientId": "c", "clientSecret": {"$env": "S"}},
				"server": {"addr": ":3000"},
				"session": {"secrets": [{"$env": "S"}]}
			}`,
			wantErrors:   []string{"baseURL is required when oidc.redirectUri is not set"},
			wantErrCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateDocument([]byte(tt.config))

			assert.Len(t, result.Errors, tt.wantErrCount, "errors: %+v", result.Errors)
			assert.Len(t, result.Warnings, tt.wantWarnCount, "warnings: %+v", result.Warnings)
			assert.Equal(t, tt.wantErrCount == 0, result.IsValid())

			for _, want := range tt.wantErrors {
				assert.True(t, containsMessage(result.Errors, want), "expected error containing %q in %+v", want, result.Errors)
			}
			for _, want := range tt.wantWarnings {
				assert.True(t, containsMessage(result.Warnings, want), "expected warning containing %q in %+v", want, result.Warnings)
			}
		})
	}
}

func TestValidateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o600))

	result, err := ValidateFile(path)
	require.NoError(t, err)
	assert.True(t, result.IsValid())

	_, err = ValidateFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func containsMessage(issues []ValidationError, want string) bool {
	for _, issue := range issues {
		if strings.Contains(issue.Message, want) {
			return true
		}
	}
	return false
}
