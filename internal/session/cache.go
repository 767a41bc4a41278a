package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/auth-front/internal/cookie"
	"github.com/dgellow/auth-front/internal/emailutil"
	"github.com/dgellow/auth-front/internal/idp"
	"github.com/dgellow/auth-front/internal/log"
)

// Cache reads and writes session records through encrypted cookies. It
// holds no state of its own, so one Cache serves all requests.
type Cache struct {
	transport *cookie.Transport
	name      string
	opts      cookie.Options
	now       func() time.Time
}

// NewCache creates a cache storing records under the cookie name. The
// options' MaxAge is also the absolute lifetime of a record.
func NewCache(transport *cookie.Transport, name string, opts cookie.Options) *Cache {
	if name == "" {
		name = cookie.SessionCookie
	}
	return &Cache{
		transport: transport,
		name:      name,
		opts:      opts,
		now:       time.Now,
	}
}

// Create builds a record from tokens and writes it
func (c *Cache) Create(w http.ResponseWriter, r *http.Request, tokens *idp.TokenSet) (*Record, error) {
	record := NewRecord(tokens, c.now())
	if err := c.Save(w, r, record); err != nil {
		return nil, err
	}

	log.LogInfoWithFields("session", "Session created", map[string]any{
		"sub":         record.Subject(),
		"domain":      emailutil.Domain(record.Email()),
		"has_refresh": record.RefreshToken != "",
	})
	return record, nil
}

// Save writes record, replacing the current session cookies
func (c *Cache) Save(w http.ResponseWriter, r *http.Request, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	cookies, err := c.transport.Write(c.name, data, r.Cookies(), c.opts)
	if err != nil {
		return fmt.Errorf("failed to write session cookie: %w", err)
	}
	cookie.SetCookies(w, cookies)
	return nil
}

// Get returns the record of the request. Any failure to read, decrypt or
// decode the cookies, or a record older than the configured lifetime, is
// reported as no session.
func (c *Cache) Get(r *http.Request) (*Record, bool) {
	data, err := c.transport.Get(r, c.name)
	if err != nil {
		if !errors.Is(err, cookie.ErrNotFound) {
			log.LogDebugWithFields("session", "Session cookie rejected", map[string]any{
				"error": err.Error(),
			})
		}
		return nil, false
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		log.LogDebugWithFields("session", "Session cookie undecodable", map[string]any{
			"error": err.Error(),
		})
		return nil, false
	}

	if c.opts.MaxAge > 0 && c.now().Sub(record.CreatedAt) > c.opts.MaxAge {
		log.LogDebugWithFields("session", "Session past its lifetime", map[string]any{
			"created_at": record.CreatedAt,
		})
		return nil, false
	}

	return &record, true
}

// IsAuthenticated reports whether the request carries a usable session:
// present, and either without a tracked expiry, not yet expired, or
// renewable with a refresh token. It never refreshes.
func (c *Cache) IsAuthenticated(r *http.Request) bool {
	record, ok := c.Get(r)
	if !ok {
		return false
	}
	return !record.AccessTokenExpired(c.now()) || record.RefreshToken != ""
}

// IDToken returns the raw ID token of the session
func (c *Cache) IDToken(r *http.Request) (string, bool) {
	record, ok := c.Get(r)
	if !ok || record.IDToken == "" {
		return "", false
	}
	return record.IDToken, true
}

// Delete expires the session cookies. It always emits at least the base
// cookie, whether or not a session existed.
func (c *Cache) Delete(w http.ResponseWriter, r *http.Request) {
	cookie.SetCookies(w, c.transport.Clear(c.name, r.Cookies(), c.opts))
}
