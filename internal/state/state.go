// Package state encodes the value carried through the identity provider's
// "state" parameter during a login round-trip. A token binds a CSRF nonce,
// the post-login redirect target and caller data.
//
// Tokens are not signed. They are trusted only after being matched against
// the copy kept in the encrypted transient cookie, and the redirect target
// must be re-validated whenever a token is consumed.
package state

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgellow/auth-front/internal/crypto"
	"github.com/dgellow/auth-front/internal/urlutil"
)

// MaxEncodedSize bounds the encoded token so it fits in a query parameter
// and a single cookie alongside the PKCE verifier.
const MaxEncodedSize = 2048

// encoding rejects non-canonical trailing bits so every token has exactly
// one accepted encoding
var encoding = base64.RawURLEncoding.Strict()

var (
	ErrDecode         = errors.New("malformed state")
	ErrTooLarge       = fmt.Errorf("state exceeds %d bytes", MaxEncodedSize)
	ErrUnsafeRedirect = errors.New("redirect target must be a relative path")
)

// Token is the decoded login state
type Token struct {
	Nonce      string         `json:"nonce"`
	RedirectTo string         `json:"redirectTo,omitempty"`
	Custom     map[string]any `json:"custom,omitempty"`
}

// New creates a token with a fresh nonce. An unsafe redirectTo is rejected
// here so a bad target never reaches the provider.
func New(redirectTo string, custom map[string]any) (Token, error) {
	if redirectTo != "" && !urlutil.IsSafeRedirect(redirectTo) {
		return Token{}, ErrUnsafeRedirect
	}

	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		return Token{}, fmt.Errorf("failed to generate state nonce: %w", err)
	}

	return Token{
		Nonce:      nonce,
		RedirectTo: redirectTo,
		Custom:     custom,
	}, nil
}

// SafeRedirectTo returns the redirect target if it still passes validation
func (t Token) SafeRedirectTo() (string, bool) {
	if t.RedirectTo == "" || !urlutil.IsSafeRedirect(t.RedirectTo) {
		return "", false
	}
	return t.RedirectTo, true
}

// Encode serializes the token as unpadded base64url JSON. Map keys are
// sorted by encoding/json so equal tokens encode identically.
func Encode(t Token) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	encoded := encoding.EncodeToString(data)
	if len(encoded) > MaxEncodedSize {
		return "", ErrTooLarge
	}
	return encoded, nil
}

// Decode parses a token produced by Encode
func Decode(encoded string) (Token, error) {
	if len(encoded) > MaxEncodedSize {
		return Token{}, fmt.Errorf("%w: %w", ErrDecode, ErrTooLarge)
	}

	data, err := encoding.DecodeString(encoded)
	if err != nil {
		return Token{}, fmt.Errorf("%w: invalid encoding: %v", ErrDecode, err)
	}

	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return Token{}, fmt.Errorf("%w: invalid structure: %v", ErrDecode, err)
	}
	if t.Nonce == "" {
		return Token{}, fmt.Errorf("%w: missing nonce", ErrDecode)
	}

	return t, nil
}

// Equal compares two encoded tokens in constant time
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
