package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"gatehouse.dev/api/spec"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks readiness, e.g. pings the database.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// Options configures the HTTP layer.
type Options struct {
	AppName     string
	Version     string
	Environment string
	// BasePath prefixes every API route, e.g. "/v1".
	BasePath        string
	CORSOrigins     []string
	RateLimitWindow time.Duration
	RateLimitMax    int
	BodyLimit       int64
	// TrustProxy takes the client address from forwarding headers.
	TrustProxy bool
	Logger     *slog.Logger
}

// API is the HTTP layer.
type API struct {
	service *auth.Service
	ready   ReadyProbe
	opts    Options
	log     *slog.Logger
	router  *mux.Router
	limiter *RateLimiter
	started time.Time
}

func New(service *auth.Service, ready ReadyProbe, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BasePath == "" {
		opts.BasePath = "/v1"
	}
	if opts.AppName == "" {
		opts.AppName = "Gatehouse"
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = 5 << 20
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = 15 * time.Minute
	}
	if opts.RateLimitMax <= 0 {
		opts.RateLimitMax = 100
	}
	a := &API{
		service: service,
		ready:   ready,
		opts:    opts,
		log:     opts.Logger,
		router:  mux.NewRouter(),
		limiter: NewRateLimiter(opts.RateLimitWindow, opts.RateLimitMax),
		started: time.Now(),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.Use(obs.Instrument)

	r.HandleFunc("/", a.Root).Methods(http.MethodGet)
	r.HandleFunc("/health", a.Health).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/openapi.yaml", a.OpenAPISpec).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	v := r.PathPrefix(a.opts.BasePath).Subrouter()

	authR := v.PathPrefix("/auth").Subrouter()
	authR.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	authR.HandleFunc("/login/validate", a.handleLoginValidate).Methods(http.MethodPost)
	authR.HandleFunc("/resend/otp", a.handleResendOTP).Methods(http.MethodPost)
	authR.Handle("/logout", a.authCheck(http.HandlerFunc(a.handleLogout))).Methods(http.MethodPost)
	authR.Handle("/me", a.authCheck(http.HandlerFunc(a.handleMe))).Methods(http.MethodGet)
	authR.Handle("/refresh", a.authRefresh(http.HandlerFunc(a.handleRefresh))).Methods(http.MethodPost)
	authR.Handle("/sessions", a.authCheck(http.HandlerFunc(a.handleSessions))).Methods(http.MethodGet)
	authR.Handle("/permissions", a.authCheck(http.HandlerFunc(a.handlePermissions))).Methods(http.MethodGet)

	v.Handle("/users/{id}/sessions",
		a.authCheck(requirePermission("users", "update")(http.HandlerFunc(a.handleRevokeUserSessions))),
	).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(a.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(a.notFound)
}

// Handler returns the router wrapped in the cross-cutting middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = handlers.CompressHandler(h)
	h = MaxBodyBytes(a.opts.BodyLimit)(h)
	h = a.limiter.Middleware(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(a.opts.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", requestIDHeader}),
		handlers.ExposedHeaders([]string{requestIDHeader, "Retry-After"}),
		handlers.AllowCredentials(),
	)(h)
	h = SecurityHeaders(h)
	h = RequestLogger(a.log)(h)
	h = RequestID(h)
	if a.opts.TrustProxy {
		h = handlers.ProxyHeaders(h)
	}
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(a.log.Handler(), slog.LevelError)),
	)(h)
	return h
}

// --- base handlers ---

func (a *API) Root(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, a.opts.AppName, map[string]any{
		"message": a.opts.AppName,
		"version": a.opts.Version,
		"status":  "running",
	})
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, "Health Status Check", map[string]any{
		"status":      "OK",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"uptime":      time.Since(a.started).Seconds(),
		"environment": a.opts.Environment,
	})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": a.opts.AppName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

func (a *API) notFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "Route "+r.URL.RequestURI()+" not found", nil)
}
