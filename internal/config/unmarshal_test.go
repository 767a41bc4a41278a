package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigValue(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		envVars       map[string]string
		expectedValue string
		expectedError string
	}{
		{
			name:          "plain string",
			input:         `"hello world"`,
			expectedValue: "hello world",
		},
		{
			name:          "env reference",
			input:         `{"$env": "TEST_VAR"}`,
			envVars:       map[string]string{"TEST_VAR": "test value"},
			expectedValue: "test value",
		},
		{
			name:          "env reference with double quotes",
			input:         `{"$env": "QUOTED_VAR"}`,
			envVars:       map[string]string{"QUOTED_VAR": `"quoted value"`},
			expectedValue: "quoted value",
		},
		{
			name:          "env reference with single quotes",
			input:         `{"$env": "SINGLE_QUOTED"}`,
			envVars:       map[string]string{"SINGLE_QUOTED": `'single quoted'`},
			expectedValue: "single quoted",
		},
		{
			name:          "env reference with mixed quotes not stripped",
			input:         `{"$env": "MIXED_QUOTES"}`,
			envVars:       map[string]string{"MIXED_QUOTES": `"mixed quotes'`},
			expectedValue: `"mixed quotes'`,
		},
		{
			name:          "missing env var",
			input:         `{"$env": "MISSING_VAR"}`,
			expectedError: "environment variable MISSING_VAR not set",
		},
		{
			name:          "unknown reference",
			input:         `{"$secret": "X"}`,
			expectedError: "unknown reference type",
		},
		{
			name:          "number",
			input:         `42`,
			expectedError: "config value must be string or reference object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			value, err := ParseConfigValue(json.RawMessage(tt.input))
			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedValue, value)
		})
	}
}

func TestParseConfigValueSlice(t *testing.T) {
	t.Setenv("SLICE_VAR", "from-env")

	values, err := ParseConfigValueSlice([]json.RawMessage{
		json.RawMessage(`"plain"`),
		json.RawMessage(`{"$env": "SLICE_VAR"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", "from-env"}, values)

	_, err = ParseConfigValueSlice([]json.RawMessage{json.RawMessage(`{"$env": "NOT_THERE_VAR"}`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing item 0")
}

func TestSessionConfig_UnmarshalJSON(t *testing.T) {
	t.Setenv("SESSION_SECRET_A", testSecret)

	var s SessionConfig
	err := json.Unmarshal([]byte(`{
		"name": "sid",
		"secrets": [{"$env": "SESSION_SECRET_A"}],
		"sameSite": "NONE",
		"secure": true,
		"maxAge": "90m"
	}`), &s)
	require.NoError(t, err)

	assert.Equal(t, "sid", s.Name)
	assert.Equal(t, []Secret{testSecret}, s.Secrets)
	assert.Equal(t, SameSiteNone, s.SameSite)
	require.NotNil(t, s.Secure)
	assert.True(t, *s.Secure)
	assert.Equal(t, 90*time.Minute, s.MaxAge)

	var unset SessionConfig
	require.NoError(t, json.Unmarshal([]byte(`{}`), &unset))
	assert.Nil(t, unset.Secure)

	err = json.Unmarshal([]byte(`{"maxAge": "forever"}`), &unset)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing maxAge")
}

func TestServerConfig_UnmarshalJSON(t *testing.T) {
	t.Setenv("BASE_URL_VAR", "https://app.example.com/")

	var s ServerConfig
	require.NoError(t, json.Unmarshal([]byte(`{"addr": ":9000", "baseURL": {"$env": "BASE_URL_VAR"}}`), &s))
	assert.Equal(t, ":9000", s.Addr)
	assert.Equal(t, "https://app.example.com", s.BaseURL)
}
