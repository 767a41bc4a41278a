package auth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	jsonwriter "github.com/dgellow/auth-front/internal/json"
	"github.com/dgellow/auth-front/internal/log"
	"github.com/dgellow/auth-front/internal/session"
	"github.com/dgellow/auth-front/internal/urlutil"
)

// LoginHandler serves Login with fixed options
func (h *Handlers) LoginHandler(opts LoginOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.Login(w, r, opts); err != nil {
			WriteError(w, r, err)
		}
	}
}

// CallbackHandler serves Callback with fixed options
func (h *Handlers) CallbackHandler(opts CallbackOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.Callback(w, r, opts); err != nil {
			WriteError(w, r, err)
		}
	}
}

// LogoutHandler serves Logout with fixed options
func (h *Handlers) LogoutHandler(opts LogoutOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.Logout(w, r, opts); err != nil {
			WriteError(w, r, err)
		}
	}
}

// ProfileHandler answers with the session's ID token claims, refreshing an
// expired session first. Anonymous requests get 401.
func (h *Handlers) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, ok := RecordFromContext(r.Context())
		if !ok {
			var err error
			record, err = h.currentRecord(w, r)
			if err != nil {
				WriteError(w, r, err)
				return
			}
		}

		w.Header().Set("Cache-Control", "no-store")
		claims := record.Claims
		if claims == nil {
			claims = map[string]any{}
		}
		_ = jsonwriter.Write(w, claims)
	}
}

// RequireSession makes the session record available to next through
// RecordFromContext. Anonymous browser navigations are sent to the login
// path with a redirectTo back to the current page; other requests get 401.
func (h *Handlers) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		record, err := h.currentRecord(w, r)
		if err != nil {
			if isBrowserNavigation(r) {
				http.Redirect(w, r, h.loginURL(r), http.StatusFound)
				return
			}
			WriteError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithRecord(r.Context(), record)))
	})
}

func (h *Handlers) currentRecord(w http.ResponseWriter, r *http.Request) (*session.Record, error) {
	record, ok := h.cache.Get(r)
	if !ok {
		return nil, newError(KindUnauthenticated, "session", "no session", nil)
	}
	return h.ensureFresh(w, r, record)
}

func (h *Handlers) loginURL(r *http.Request) string {
	target := r.URL.RequestURI()
	if !urlutil.IsSafeRedirect(target) {
		return h.settings.LoginPath
	}
	return h.settings.LoginPath + "?redirectTo=" + url.QueryEscape(target)
}

func isBrowserNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// WriteError renders err as a JSON error response. Cookies already set on w,
// such as the cleared state cookie, are kept.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)

	code := "internal_server_error"
	message := "Internal server error"
	var authErr *Error
	if errors.As(err, &authErr) {
		code = authErr.Kind.String()
		if authErr.Message != "" && (status < http.StatusInternalServerError || authErr.Kind == KindProvider) {
			message = authErr.Message
		}
	}

	fields := map[string]any{
		"path":   r.URL.Path,
		"status": status,
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		log.LogErrorWithFields("auth", "Request failed", fields)
	} else {
		log.LogInfoWithFields("auth", "Request rejected", fields)
	}

	jsonwriter.WriteError(w, status, code, message)
}
