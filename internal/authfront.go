package internal

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dgellow/auth-front/internal/auth"
	"github.com/dgellow/auth-front/internal/config"
	"github.com/dgellow/auth-front/internal/cookie"
	"github.com/dgellow/auth-front/internal/crypto"
	"github.com/dgellow/auth-front/internal/idp"
	"github.com/dgellow/auth-front/internal/log"
	"github.com/dgellow/auth-front/internal/server"
	"github.com/dgellow/auth-front/internal/session"
)

// ServiceName identifies this service in health checks and login telemetry
const ServiceName = "auth-front"

const shutdownTimeout = 30 * time.Second

// AuthFront is the complete session service: auth routes, protected pages
// and the HTTP server that serves them
type AuthFront struct {
	config     config.Config
	handler    http.Handler
	httpServer *server.HTTPServer
}

// NewAuthFront builds the application from a loaded configuration. No call
// to the provider is made until the first request needs it.
func NewAuthFront(cfg config.Config, version string) (*AuthFront, error) {
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}

	log.LogInfoWithFields("authfront", "Building application", map[string]any{
		"issuer":  cfg.OIDC.Issuer,
		"baseURL": cfg.Server.BaseURL,
		"secrets": len(cfg.Session.Secrets),
	})

	handlers, err := setupHandlers(cfg, version)
	if err != nil {
		return nil, err
	}

	handler := buildHTTPHandler(cfg, handlers, version)
	return &AuthFront{
		config:     cfg,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, cfg.Server.Addr),
	}, nil
}

// Handler returns the root handler
func (a *AuthFront) Handler() http.Handler {
	return a.handler
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM is received, or the
// server fails. Shutdown waits for in-flight requests.
func (a *AuthFront) Run(ctx context.Context) error {
	log.LogInfoWithFields("authfront", "Starting application", map[string]any{
		"addr": a.config.Server.Addr,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var shutdownReason string
	select {
	case err := <-errChan:
		log.LogErrorWithFields("authfront", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
		return err
	case <-ctx.Done():
		shutdownReason = context.Cause(ctx).Error()
	}

	log.LogInfoWithFields("authfront", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": shutdownTimeout.String(),
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("authfront", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("authfront", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}

func setupHandlers(cfg config.Config, version string) (*auth.Handlers, error) {
	secrets := make([][]byte, len(cfg.Session.Secrets))
	for i, s := range cfg.Session.Secrets {
		secrets[i] = []byte(s)
	}
	keyring, err := crypto.NewKeyring(secrets...)
	if err != nil {
		return nil, fmt.Errorf("building session keyring: %w", err)
	}
	transport := cookie.NewTransport(keyring)

	sessionOpts := cookieOptions(cfg.Session)
	cache := session.NewCache(transport, cfg.Session.Name, sessionOpts)

	client, err := idp.NewOIDCClient(idp.OIDCConfig{
		Issuer:       cfg.OIDC.Issuer,
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: string(cfg.OIDC.ClientSecret),
		RedirectURI:  cfg.OIDC.RedirectURI,
		Scopes:       strings.Fields(cfg.OIDC.Scope),
		Audience:     cfg.OIDC.Audience,
		HTTPTimeout:  cfg.OIDC.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("building OIDC client: %w", err)
	}

	handlers, err := auth.NewHandlers(auth.Settings{
		Scope:              cfg.OIDC.Scope,
		Audience:           cfg.OIDC.Audience,
		LoginPath:          cfg.Routes.Login,
		LandingPath:        cfg.Routes.Landing,
		PostLogoutRedirect: cfg.OIDC.PostLogoutRedirectURI,
		Telemetry:          &auth.Telemetry{Name: ServiceName, Version: version},
	}, cache, transport, stateCookieOptions(sessionOpts), client)
	if err != nil {
		return nil, fmt.Errorf("building auth handlers: %w", err)
	}
	return handlers, nil
}

// cookieOptions maps the session section onto cookie attributes
func cookieOptions(s config.SessionConfig) cookie.Options {
	opts := cookie.DefaultOptions()
	opts.Domain = s.Domain
	if s.Path != "" {
		opts.Path = s.Path
	}
	opts.MaxAge = s.MaxAge
	switch s.SameSite {
	case config.SameSiteStrict:
		opts.SameSite = http.SameSiteStrictMode
	case config.SameSiteNone:
		opts.SameSite = http.SameSiteNoneMode
	default:
		opts.SameSite = http.SameSiteLaxMode
	}
	if s.Secure != nil {
		opts.Secure = *s.Secure
	}
	if s.ChunkSize > 0 {
		opts.ChunkSize = s.ChunkSize
	}
	if s.MaxChunks > 0 {
		opts.MaxChunks = s.MaxChunks
	}
	return opts
}

// stateCookieOptions derives the state cookie attributes from the session
// ones. The provider returns the browser with a cross-site navigation, which
// a Strict cookie would not survive.
func stateCookieOptions(sessionOpts cookie.Options) cookie.Options {
	opts := sessionOpts
	if opts.SameSite == http.SameSiteStrictMode {
		opts.SameSite = http.SameSiteLaxMode
	}
	return opts
}

func buildHTTPHandler(cfg config.Config, handlers *auth.Handlers, version string) http.Handler {
	mux := http.NewServeMux()
	routes := cfg.Routes

	mux.Handle("GET "+config.HealthPath, server.NewHealthHandler(ServiceName, version))

	authMiddleware := []server.MiddlewareFunc{
		server.NewNoStoreMiddleware(),
		server.NewSecurityHeadersMiddleware(),
		server.NewLoggerMiddleware("auth"),
		server.NewRecoverMiddleware("auth"),
	}
	pageMiddleware := []server.MiddlewareFunc{
		server.NewSecurityHeadersMiddleware(),
		server.NewLoggerMiddleware("pages"),
		server.NewRecoverMiddleware("pages"),
	}

	mux.Handle(getPattern(routes.Login), server.ChainMiddleware(handlers.LoginHandler(auth.LoginOptions{}), authMiddleware...))
	mux.Handle(getPattern(routes.Callback), server.ChainMiddleware(handlers.CallbackHandler(auth.CallbackOptions{}), authMiddleware...))
	mux.Handle(getPattern(routes.Logout), server.ChainMiddleware(handlers.LogoutHandler(auth.LogoutOptions{ReturnTo: routes.Landing}), authMiddleware...))
	mux.Handle(getPattern(routes.Profile), server.ChainMiddleware(handlers.ProfileHandler(), authMiddleware...))

	landing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := server.PageData{
			Title:      "Welcome",
			LoginURL:   routes.Login,
			LogoutURL:  routes.Logout,
			AccountURL: routes.Account,
		}
		if record, ok := handlers.Session(r); ok {
			fillPageData(&data, record)
		}
		server.RenderPage(w, data)
	})
	mux.Handle(getPattern(routes.Landing), server.ChainMiddleware(landing, pageMiddleware...))

	account := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		record, _ := auth.RecordFromContext(r.Context())
		data := server.PageData{Title: "Account", LogoutURL: routes.Logout}
		fillPageData(&data, record)
		server.RenderPage(w, data)
	})
	mux.Handle(getPattern(routes.Account), server.ChainMiddleware(handlers.RequireSession(account), pageMiddleware...))

	log.LogInfoWithFields("authfront", "Routes registered", map[string]any{
		"login":    routes.Login,
		"callback": routes.Callback,
		"logout":   routes.Logout,
		"profile":  routes.Profile,
		"landing":  routes.Landing,
		"account":  routes.Account,
	})
	return mux
}

func fillPageData(data *server.PageData, record *session.Record) {
	if record == nil {
		return
	}
	data.Authenticated = true
	data.Subject = record.Subject()
	data.Email = record.Email()
	data.Claims = record.Claims
}

// getPattern turns a route into a GET mux pattern. A trailing slash would
// match the whole subtree, so it is anchored.
func getPattern(route string) string {
	if strings.HasSuffix(route, "/") {
		return "GET " + route + "{$}"
	}
	return "GET " + route
}
