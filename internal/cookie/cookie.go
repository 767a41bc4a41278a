package cookie

import (
	"errors"
	"net/http"
	"time"

	"github.com/dgellow/auth-front/internal/envutil"
)

// Default cookie names used by auth-front
const (
	SessionCookie = "app_session"
	StateCookie   = "auth_state"
)

const (
	// DefaultChunkSize keeps each cookie, attributes included, under the
	// 4096 byte limit browsers enforce per cookie
	DefaultChunkSize = 4000

	// DefaultMaxChunks bounds the total size of one logical value
	DefaultMaxChunks = 10
)

var (
	ErrNotFound     = errors.New("cookie not found")
	ErrMissingChunk = errors.New("cookie chunk missing")
	ErrDecrypt      = errors.New("cookie could not be decrypted")
	ErrTooLarge     = errors.New("payload exceeds cookie budget")
)

// Options controls the attributes of every cookie written for one logical
// value, and how that value is split.
type Options struct {
	Domain   string
	Path     string
	MaxAge   time.Duration // zero means a browser-session cookie
	SameSite http.SameSite
	Secure   bool
	HTTPOnly bool

	ChunkSize int
	MaxChunks int
}

// DefaultOptions returns HttpOnly, SameSite=Lax cookies scoped to "/".
// Secure is disabled only in development mode.
func DefaultOptions() Options {
	return Options{
		Path:      "/",
		SameSite:  http.SameSiteLaxMode,
		Secure:    !envutil.IsDev(),
		HTTPOnly:  true,
		ChunkSize: DefaultChunkSize,
		MaxChunks: DefaultMaxChunks,
	}
}

// WithMaxAge returns a copy of the options with a different lifetime
func (o Options) WithMaxAge(maxAge time.Duration) Options {
	o.MaxAge = maxAge
	return o
}

func (o Options) chunkSize() int {
	if o.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

func (o Options) maxChunks() int {
	if o.MaxChunks <= 0 {
		return DefaultMaxChunks
	}
	return o.MaxChunks
}

func (o Options) path() string {
	if o.Path == "" {
		return "/"
	}
	return o.Path
}

func (o Options) cookie(name, value string) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   o.Domain,
		Path:     o.path(),
		Secure:   o.Secure,
		HttpOnly: o.HTTPOnly,
		SameSite: o.SameSite,
	}
	if o.MaxAge > 0 {
		c.MaxAge = int(o.MaxAge.Seconds())
	}
	return c
}

// expired builds a cookie that makes the browser drop name. Domain and
// path must match the original or the browser keeps it.
func (o Options) expired(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Domain:   o.Domain,
		Path:     o.path(),
		Secure:   o.Secure,
		HttpOnly: o.HTTPOnly,
		SameSite: o.SameSite,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}

// SetCookies adds a Set-Cookie header for each cookie
func SetCookies(w http.ResponseWriter, cookies []*http.Cookie) {
	for _, c := range cookies {
		http.SetCookie(w, c)
	}
}
