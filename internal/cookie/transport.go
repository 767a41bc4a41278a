package cookie

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/dgellow/auth-front/internal/crypto"
	"github.com/dgellow/auth-front/internal/log"
)

// valueEncoding is strict: a changed unused trailing bit must fail decoding
// rather than yield the same bytes
var valueEncoding = base64.RawURLEncoding.Strict()

// Transport stores byte payloads in encrypted, chunked cookies.
//
// A payload is sealed with the keyring (the cookie name is bound as
// additional data), encoded as base64url(nonce || ciphertext || tag) and
// split into cookies named name, name.1, name.2, ... Reading requires every
// chunk, in order, and a successful decryption; there is no partial result.
type Transport struct {
	keyring *crypto.Keyring
}

// NewTransport creates a transport sealing with the given keyring
func NewTransport(keyring *crypto.Keyring) *Transport {
	return &Transport{keyring: keyring}
}

// ChunkName returns the cookie name of chunk index i of name
func ChunkName(name string, i int) string {
	if i == 0 {
		return name
	}
	return name + "." + strconv.Itoa(i)
}

// Write returns the cookies holding payload under name. existing should be
// the request's cookies; chunks left over from a previously larger value
// are expired so the new set reads back cleanly.
func (t *Transport) Write(name string, payload []byte, existing []*http.Cookie, opts Options) ([]*http.Cookie, error) {
	sealed, err := t.keyring.Seal(payload, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("failed to seal cookie %s: %w", name, err)
	}
	value := valueEncoding.EncodeToString(sealed)

	size := opts.chunkSize()
	count := (len(value) + size - 1) / size
	if count > opts.maxChunks() {
		return nil, fmt.Errorf("%w: %s needs %d cookies, limit is %d", ErrTooLarge, name, count, opts.maxChunks())
	}

	cookies := make([]*http.Cookie, 0, count)
	for i := 0; i < count; i++ {
		end := min((i+1)*size, len(value))
		cookies = append(cookies, opts.cookie(ChunkName(name, i), value[i*size:end]))
	}

	stale := 0
	for _, idx := range chunkIndexes(existing, name) {
		if idx >= count {
			cookies = append(cookies, opts.expired(ChunkName(name, idx)))
			stale++
		}
	}

	log.LogTraceWithFields("cookie", "Cookie value written", map[string]any{
		"name":   name,
		"chunks": count,
		"bytes":  len(value),
		"stale":  stale,
	})

	return cookies, nil
}

// Get reads name from the request's cookies
func (t *Transport) Get(r *http.Request, name string) ([]byte, error) {
	return t.Read(r.Cookies(), name)
}

// Read reassembles and decrypts the value stored under name
func (t *Transport) Read(cookies []*http.Cookie, name string) ([]byte, error) {
	values := make(map[string]string, len(cookies))
	for _, c := range cookies {
		// The first occurrence wins, like http.Request.Cookie
		if _, seen := values[c.Name]; !seen {
			values[c.Name] = c.Value
		}
	}

	base, ok := values[name]
	if !ok {
		return nil, ErrNotFound
	}

	var b strings.Builder
	b.WriteString(base)
	for i, idx := range chunkIndexes(cookies, name) {
		if idx != i+1 {
			return nil, fmt.Errorf("%w: %s", ErrMissingChunk, ChunkName(name, i+1))
		}
		b.WriteString(values[ChunkName(name, idx)])
	}

	sealed, err := valueEncoding.DecodeString(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: invalid encoding", ErrDecrypt, name)
	}

	payload, err := t.keyring.Open(sealed, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecrypt, name)
	}
	return payload, nil
}

// Clear returns expiring cookies for name and every chunk of it present in
// existing. The base cookie is always included.
func (t *Transport) Clear(name string, existing []*http.Cookie, opts Options) []*http.Cookie {
	indexes := chunkIndexes(existing, name)
	cookies := make([]*http.Cookie, 0, len(indexes)+1)
	cookies = append(cookies, opts.expired(name))
	for _, idx := range indexes {
		cookies = append(cookies, opts.expired(ChunkName(name, idx)))
	}
	return cookies
}

// chunkIndexes returns the sorted, distinct continuation indexes (>= 1) of
// name found in cookies. Suffixes that are not canonical positive integers
// are ignored.
func chunkIndexes(cookies []*http.Cookie, name string) []int {
	prefix := name + "."
	var indexes []int
	for _, c := range cookies {
		suffix, ok := strings.CutPrefix(c.Name, prefix)
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(suffix)
		if err != nil || idx < 1 || strconv.Itoa(idx) != suffix {
			continue
		}
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)
	return slices.Compact(indexes)
}
