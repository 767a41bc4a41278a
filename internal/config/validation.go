package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var bashStyleRegex = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateDocument(data), nil
}

// ValidateDocument checks the structure of a config document. References are
// checked for shape only and never resolved.
func ValidateDocument(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", Version)
	} else if version != Version {
		result.addError("version", "unsupported version '%s' - use '%s'", version, Version)
	}

	validateServerStructure(rawConfig, result)
	validateOIDCStructure(rawConfig, result)
	validateSessionStructure(rawConfig, result)
	validateRoutesStructure(rawConfig, result)
	validateLoggingStructure(rawConfig, result)

	return result
}

func validateServerStructure(rawConfig map[string]any, result *ValidationResult) {
	server, ok := rawConfig["server"].(map[string]any)
	if !ok {
		if _, exists := rawConfig["server"]; exists {
			result.addError("server", "server must be an object")
		}
		return
	}
	if _, ok := server["baseURL"]; !ok {
		if oidc, ok := rawConfig["oidc"].(map[string]any); !ok || oidc["redirectUri"] == nil {
			result.addError("server.baseURL", "baseURL is required when oidc.redirectUri is not set. Example: \"https://app.example.com\"")
		}
	}
}

func validateOIDCStructure(rawConfig map[string]any, result *ValidationResult) {
	oidc, ok := rawConfig["oidc"].(map[string]any)
	if !ok {
		result.addError("oidc", "oidc field is required and must be an object")
		return
	}

	for _, field := range []string{"issuer", "clientId"} {
		if _, ok := oidc[field]; !ok {
			result.addError("oidc."+field, "%s is required", field)
		}
	}

	if secret, ok := oidc["clientSecret"]; ok {
		if err := validateEnvVarReference(secret, "clientSecret", "oidc.clientSecret"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	} else {
		result.addWarning("oidc.clientSecret", "no clientSecret configured; the provider must accept public clients with PKCE")
	}

	if scope, ok := oidc["scope"].(string); ok && !hasScope(scope, "openid") {
		result.addError("oidc.scope", "scope must include openid (got %q)", scope)
	}
	checkDuration(oidc, "httpTimeout", "oidc.httpTimeout", result)
}

func validateSessionStructure(rawConfig map[string]any, result *ValidationResult) {
	session, ok := rawConfig["session"].(map[string]any)
	if !ok {
		result.addError("session", "session field is required and must be an object")
		return
	}

	secrets, ok := session["secrets"].([]any)
	if !ok || len(secrets) == 0 {
		result.addError("session.secrets", "at least one secret is required. Hint: \"secrets\": [{\"$env\": \"SESSION_SECRET\"}]")
	}
	for i, secret := range secrets {
		path := fmt.Sprintf("session.secrets[%d]", i)
		if err := validateEnvVarReference(secret, "secret", path); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}

	if sameSite, ok := session["sameSite"].(string); ok {
		switch SameSite(strings.ToLower(sameSite)) {
		case SameSiteLax, SameSiteStrict:
		case SameSiteNone:
			if secure, ok := session["secure"].(bool); ok && !secure {
				result.addError("session.sameSite", "sameSite none requires secure cookies")
			}
		default:
			result.addError("session.sameSite", "sameSite must be lax, strict or none (got %q)", sameSite)
		}
	}

	if secure, ok := session["secure"].(bool); ok && !secure {
		result.addWarning("session.secure", "cookies without Secure are sent over plain HTTP. Only use this in development")
	}

	checkDuration(session, "maxAge", "session.maxAge", result)

	for _, field := range []string{"chunkSize", "maxChunks"} {
		if v, ok := session[field].(float64); ok && v < 0 {
			result.addError("session."+field, "%s cannot be negative", field)
		}
	}
}

func validateRoutesStructure(rawConfig map[string]any, result *ValidationResult) {
	routes, ok := rawConfig["routes"].(map[string]any)
	if !ok {
		return
	}
	for key, value := range routes {
		route, ok := value.(string)
		if !ok || !strings.HasPrefix(route, "/") || strings.HasPrefix(route, "//") {
			result.addError("routes."+key, "route must be a relative path starting with '/' (got %v)", value)
		}
	}
}

func validateLoggingStructure(rawConfig map[string]any, result *ValidationResult) {
	logging, ok := rawConfig["logging"].(map[string]any)
	if !ok {
		return
	}
	if level, ok := logging["level"].(string); ok {
		switch strings.ToLower(level) {
		case "error", "warn", "warning", "info", "debug", "trace":
		default:
			result.addError("logging.level", "unknown log level %q. Options: error, warn, info, debug, trace", level)
		}
	}
	if format, ok := logging["format"].(string); ok && format != "text" && format != "json" {
		result.addError("logging.format", "unknown log format %q. Options: text, json", format)
	}
}

func checkDuration(section map[string]any, field, path string, result *ValidationResult) {
	value, ok := section[field]
	if !ok {
		return
	}
	s, ok := value.(string)
	if !ok {
		result.addError(path, "%s must be a duration string such as \"10s\"", field)
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		result.addError(path, "invalid duration %q: %v", s, err)
		return
	}
	if d < 0 {
		result.addError(path, "%s cannot be negative", field)
	}
}

// validateEnvVarReference checks that value is an {"$env": "..."} reference
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 0 {
			varName := strings.Trim(matches[0], "${}")
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, varName),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This prevents secrets from being stored in config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format, not %v", fieldName, v),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion in scripts/CI", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
