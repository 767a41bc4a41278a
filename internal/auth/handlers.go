package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/dgellow/auth-front/internal/cookie"
	"github.com/dgellow/auth-front/internal/idp"
	"github.com/dgellow/auth-front/internal/log"
	"github.com/dgellow/auth-front/internal/session"
	"github.com/dgellow/auth-front/internal/state"
	"github.com/dgellow/auth-front/internal/urlutil"
)

const (
	opLogin    = "login"
	opCallback = "callback"
	opLogout   = "logout"
	opRefresh  = "refresh"
	opToken    = "access_token"
)

// loginState is the content of the transient state cookie
type loginState struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
}

// Handlers runs the login, callback, logout and refresh flows.
type Handlers struct {
	settings  Settings
	cache     *session.Cache
	transport *cookie.Transport
	stateOpts cookie.Options
	client    idp.Client
	now       func() time.Time
}

// NewHandlers creates handlers. stateOpts are the cookie attributes of the
// transient state cookie; its lifetime comes from settings.
func NewHandlers(settings Settings, cache *session.Cache, transport *cookie.Transport, stateOpts cookie.Options, client idp.Client) (*Handlers, error) {
	if cache == nil || transport == nil || client == nil {
		return nil, newError(KindConfiguration, "configure", "session cache, cookie transport and provider client are required", nil)
	}

	settings = settings.withDefaults()
	if err := settings.validate(); err != nil {
		return nil, err
	}

	return &Handlers{
		settings:  settings,
		cache:     cache,
		transport: transport,
		stateOpts: stateOpts.WithMaxAge(settings.StateMaxAge),
		client:    client,
		now:       time.Now,
	}, nil
}

// Login starts an authorization code flow and redirects to the provider.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request, opts LoginOptions) error {
	if w == nil || r == nil {
		return newError(KindValidation, opLogin, "request and response are required", nil)
	}

	redirectTo := opts.RedirectTo
	switch values := r.URL.Query()["redirectTo"]; {
	case len(values) > 1:
		return newError(KindValidation, opLogin, "redirectTo must be given at most once", state.ErrUnsafeRedirect)
	case len(values) == 1 && values[0] != "":
		redirectTo = values[0]
	}
	if redirectTo != "" && !urlutil.IsSafeRedirect(redirectTo) {
		return newError(KindValidation, opLogin, "invalid value provided for redirectTo, must be a relative url", state.ErrUnsafeRedirect)
	}

	var custom map[string]any
	if opts.GetState != nil {
		custom = opts.GetState(r)
	}

	token, err := state.New(redirectTo, custom)
	if err != nil {
		if errors.Is(err, state.ErrUnsafeRedirect) {
			return newError(KindValidation, opLogin, "invalid redirect", err)
		}
		return newError(KindConfiguration, opLogin, "failed to create state", err)
	}
	encoded, err := state.Encode(token)
	if err != nil {
		return newError(KindValidation, opLogin, "state too large", err)
	}

	verifier := oauth2.GenerateVerifier()
	params := h.authorizationParams(encoded, verifier, opts.AuthParams)

	authURL, err := h.client.AuthorizationURL(r.Context(), params)
	if err != nil {
		return newError(KindProvider, opLogin, "failed to build authorization URL", err)
	}

	payload, err := json.Marshal(loginState{State: encoded, Verifier: verifier})
	if err != nil {
		return newError(KindTransport, opLogin, "failed to encode login state", err)
	}
	cookies, err := h.transport.Write(h.settings.StateCookie, payload, r.Cookies(), h.stateOpts)
	if err != nil {
		return newError(KindTransport, opLogin, "failed to write login state", err)
	}
	cookie.SetCookies(w, cookies)

	log.LogDebugWithFields("auth", "Login started", map[string]any{
		"redirect_to": redirectTo,
		"has_custom":  len(custom) > 0,
	})

	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

func (h *Handlers) authorizationParams(encodedState, verifier string, authParams map[string]string) idp.AuthorizationParams {
	params := idp.AuthorizationParams{
		State:    encodedState,
		Verifier: verifier,
		Scope:    h.settings.Scope,
		Audience: h.settings.Audience,
		Extra:    make(map[string]string, len(authParams)+1),
	}
	if h.settings.Telemetry != nil {
		params.Extra[TelemetryParam] = h.settings.Telemetry.encoded()
	}

	for key, value := range authParams {
		switch {
		case key == "scope":
			params.Scope = value
		case key == "audience":
			params.Audience = value
		case idp.IsReservedParam(key):
			log.LogDebugWithFields("auth", "Ignoring reserved authorization parameter", map[string]any{
				"param": key,
			})
		default:
			params.Extra[key] = value
		}
	}
	return params
}

// Callback completes the flow started by Login. The state cookie is cleared
// whatever the outcome. On success the session is written and the response
// redirects; on failure nothing is written and the error is returned.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request, opts CallbackOptions) error {
	if w == nil || r == nil {
		return newError(KindValidation, opCallback, "request and response are required", nil)
	}

	existing := r.Cookies()
	cookie.SetCookies(w, h.transport.Clear(h.settings.StateCookie, existing, h.stateOpts))

	if opts.RedirectTo != "" && !urlutil.IsSafeRedirect(opts.RedirectTo) {
		return newError(KindValidation, opCallback, "invalid redirect", state.ErrUnsafeRedirect)
	}

	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		message := providerErr
		if desc := query.Get("error_description"); desc != "" {
			message += " (" + desc + ")"
		}
		return newError(KindProvider, opCallback, message, nil)
	}

	param := query.Get("state")
	if param == "" {
		return newError(KindCSRFMismatch, opCallback, "missing state parameter", nil)
	}

	payload, err := h.transport.Read(existing, h.settings.StateCookie)
	if err != nil {
		return newError(KindCSRFMismatch, opCallback, "missing or invalid state cookie", err)
	}
	var stored loginState
	if err := json.Unmarshal(payload, &stored); err != nil {
		return newError(KindCSRFMismatch, opCallback, "invalid state cookie", err)
	}
	if !state.Equal(stored.State, param) {
		return newError(KindCSRFMismatch, opCallback, "state mismatch", nil)
	}

	token, err := state.Decode(param)
	if err != nil {
		return newError(KindValidation, opCallback, "invalid state", err)
	}
	stateRedirect, safe := token.SafeRedirectTo()
	if token.RedirectTo != "" && !safe {
		return newError(KindValidation, opCallback, "invalid redirect", state.ErrUnsafeRedirect)
	}

	code := query.Get("code")
	if code == "" {
		return newError(KindValidation, opCallback, "missing authorization code", nil)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.settings.ExchangeTimeout)
	defer cancel()

	tokens, err := h.client.ExchangeCode(ctx, code, stored.Verifier)
	if err != nil {
		return newError(KindProvider, opCallback, "code exchange failed", err)
	}
	if err := r.Context().Err(); err != nil {
		return newError(KindProvider, opCallback, "request cancelled", err)
	}

	record, err := h.createSession(w, r, tokens, token, opts.AfterCallback)
	if err != nil {
		return err
	}

	target := h.settings.LandingPath
	switch {
	case opts.RedirectTo != "":
		target = opts.RedirectTo
	case stateRedirect != "":
		target = stateRedirect
	}

	log.LogInfoWithFields("auth", "Login completed", map[string]any{
		"sub":         record.Subject(),
		"redirect_to": target,
	})

	http.Redirect(w, r, target, http.StatusFound)
	return nil
}

func (h *Handlers) createSession(w http.ResponseWriter, r *http.Request, tokens *idp.TokenSet, token state.Token, after AfterCallbackFunc) (*session.Record, error) {
	if after == nil {
		record, err := h.cache.Create(w, r, tokens)
		if err != nil {
			return nil, newError(KindTransport, opCallback, "failed to write session", err)
		}
		return record, nil
	}

	record, err := after(r, session.NewRecord(tokens, h.now()), token)
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) {
			return nil, err
		}
		return nil, newError(KindAccessDenied, opCallback, "login rejected", err)
	}
	if record == nil {
		return nil, newError(KindAccessDenied, opCallback, "login rejected", nil)
	}
	if err := h.cache.Save(w, r, record); err != nil {
		return nil, newError(KindTransport, opCallback, "failed to write session", err)
	}
	return record, nil
}

// Session returns the current session record. It never refreshes, so the
// access token may be expired.
func (h *Handlers) Session(r *http.Request) (*session.Record, bool) {
	return h.cache.Get(r)
}

// Logout deletes the session and redirects to the provider's end-session
// endpoint, or locally when there is none. It succeeds without a session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request, opts LogoutOptions) error {
	if w == nil || r == nil {
		return newError(KindValidation, opLogout, "request and response are required", nil)
	}

	idToken, _ := h.cache.IDToken(r)
	h.cache.Delete(w, r)

	endSession, err := h.client.EndSessionURL(r.Context(), idToken, h.settings.PostLogoutRedirect)
	if err != nil {
		log.LogWarnWithFields("auth", "End-session URL unavailable, logging out locally", map[string]any{
			"error": err.Error(),
		})
		endSession = ""
	}

	target := endSession
	if target == "" {
		target = h.localLogoutTarget(opts.ReturnTo)
	}

	log.LogDebugWithFields("auth", "Logged out", map[string]any{
		"had_session":  idToken != "",
		"provider_end": endSession != "",
	})

	http.Redirect(w, r, target, http.StatusFound)
	return nil
}

func (h *Handlers) localLogoutTarget(returnTo string) string {
	if returnTo != "" && urlutil.IsSafeRedirect(returnTo) {
		return returnTo
	}
	if h.settings.PostLogoutRedirect != "" {
		return h.settings.PostLogoutRedirect
	}
	return "/"
}

// Refresh renews the session tokens with the refresh token. On failure the
// session is deleted. It is never retried.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) (*session.Record, error) {
	record, ok := h.cache.Get(r)
	if !ok {
		return nil, newError(KindUnauthenticated, opRefresh, "no session", nil)
	}
	return h.refresh(w, r, record)
}

func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request, record *session.Record) (*session.Record, error) {
	if record.RefreshToken == "" {
		return nil, newError(KindUnauthenticated, opRefresh, "session has no refresh token", nil)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.settings.ExchangeTimeout)
	defer cancel()
	tokens, err := h.client.Refresh(ctx, record.RefreshToken)
	if err != nil {
		h.cache.Delete(w, r)
		log.LogInfoWithFields("auth", "Refresh failed, session ended", map[string]any{
			"sub":   record.Subject(),
			"error": err.Error(),
		})
		return nil, newError(KindProvider, opRefresh, "token refresh failed", err)
	}

	record.ApplyRefresh(tokens)
	if err := h.cache.Save(w, r, record); err != nil {
		return nil, newError(KindTransport, opRefresh, "failed to write session", err)
	}

	log.LogDebugWithFields("auth", "Session refreshed", map[string]any{
		"sub":        record.Subject(),
		"expires_at": record.AccessTokenExpiresAt,
	})
	return record, nil
}

// AccessToken returns the session's access token, refreshing it first when
// it expired and a refresh token is available.
func (h *Handlers) AccessToken(w http.ResponseWriter, r *http.Request) (string, error) {
	record, ok := h.cache.Get(r)
	if !ok {
		return "", newError(KindUnauthenticated, opToken, "no session", nil)
	}

	record, err := h.ensureFresh(w, r, record)
	if err != nil {
		return "", err
	}
	if record.AccessToken == "" {
		return "", newError(KindUnauthenticated, opToken, "session has no access token", nil)
	}
	return record.AccessToken, nil
}

// ensureFresh refreshes an expired record when possible. An expired record
// without a refresh token is unauthenticated.
func (h *Handlers) ensureFresh(w http.ResponseWriter, r *http.Request, record *session.Record) (*session.Record, error) {
	now := h.now()
	if record.NeedsRefresh(now) {
		return h.refresh(w, r, record)
	}
	if record.AccessTokenExpired(now) {
		return nil, newError(KindUnauthenticated, opToken, "access token expired", nil)
	}
	return record, nil
}
