package emailutil

import "strings"

// Normalize lowercases and trims an address so claims from different
// providers compare equal
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Domain returns the normalized domain of an address, or "" when the
// address does not have exactly one '@' with text on both sides
func Domain(email string) string {
	local, domain, ok := strings.Cut(Normalize(email), "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return ""
	}
	return domain
}

// FromClaims reads the email claim of an ID token, normalized. It returns
// "" when the claim is absent or not a string.
func FromClaims(claims map[string]any) string {
	email, _ := claims["email"].(string)
	return Normalize(email)
}
