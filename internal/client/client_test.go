package client

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/httpapi"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/store/memory"
)

type tokenClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tokenClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *tokenClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type codes struct {
	mu   sync.Mutex
	sent map[string]int
}

func (c *codes) DeliverOTP(_ context.Context, d auth.OTPDelivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[d.Reference] = d.Code
	return nil
}

func (c *codes) code(ref string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strconv.Itoa(c.sent[ref])
}

type hits struct {
	mu     sync.Mutex
	byPath map[string]int
}

func (h *hits) count(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byPath[path]
}

type server struct {
	url   string
	clock *tokenClock
	codes *codes
	hits  *hits
	svc   *auth.Service
	user  *auth.User
}

func newServer(t *testing.T) *server {
	t.Helper()
	obs.Init()
	ctx := context.Background()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	keys, err := auth.ParseKeyPair(
		string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})),
		string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub})),
	)
	if err != nil {
		t.Fatalf("ParseKeyPair: %v", err)
	}

	clk := &tokenClock{now: time.Now()}
	tokens, err := auth.NewTokenIssuer(keys, auth.WithTokenClock(clk.Now), auth.WithAccessTTL(time.Minute))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	cipher, err := auth.NewRSAOAEPCipher(keys)
	if err != nil {
		t.Fatalf("NewRSAOAEPCipher: %v", err)
	}
	box := &codes{sent: map[string]int{}}
	store := memory.New()
	svc, err := auth.NewService(store, tokens, cipher, auth.WithNotifier(box))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	role := &auth.Role{Name: "User", Slug: "user", Status: true, Permissions: auth.Permissions{"users": {"read": true}}}
	if err := store.Roles(ctx).Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	user, err := svc.CreateUser(ctx, auth.NewUser{FirstName: "Ada", Email: "a@x.com", RoleID: role.ID, Password: "secret"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{Store: store}, httpapi.Options{
		BasePath:     "/v1",
		RateLimitMax: 10000,
		Logger:       slog.New(slog.DiscardHandler),
	})
	h := &hits{byPath: map[string]int{}}
	handler := api.Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.byPath[r.URL.Path]++
		h.mu.Unlock()
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	return &server{url: srv.URL, clock: clk, codes: box, hits: h, svc: svc, user: user}
}

func (s *server) loggedIn(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	c := New(s.url)
	ref, err := c.Login(ctx, "a@x.com", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := c.Validate(ctx, ref, s.codes.code(ref)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if tok := c.Tokens(); tok.Access == "" || tok.Refresh == "" {
		t.Fatalf("expected a token pair, got %+v", tok)
	}
	return c
}

type meData struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func TestDoRefreshesExpiredAccessOnce(t *testing.T) {
	s := newServer(t)
	c := s.loggedIn(t)
	ctx := context.Background()

	var me meData
	if err := c.Do(ctx, http.MethodGet, "/auth/me", nil, &me); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if me.User.ID != s.user.ID {
		t.Fatalf("unexpected user: %+v", me.User)
	}
	before := c.Tokens()

	s.clock.Advance(2 * time.Minute)
	me = meData{}
	if err := c.Do(ctx, http.MethodGet, "/auth/me", nil, &me); err != nil {
		t.Fatalf("Do after expiry: %v", err)
	}
	if me.User.Email != "a@x.com" {
		t.Fatalf("unexpected user after refresh: %+v", me.User)
	}
	after := c.Tokens()
	if after.Access == before.Access || after.Refresh == before.Refresh {
		t.Fatal("expected a rotated pair")
	}
	if got := s.hits.count("/v1/auth/refresh"); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
	if got := s.hits.count("/v1/auth/me"); got != 3 {
		t.Fatalf("expected 3 calls to /auth/me, got %d", got)
	}
}

func TestDoFailsWhenRefreshRejected(t *testing.T) {
	s := newServer(t)
	c := s.loggedIn(t)
	ctx := context.Background()

	if _, err := s.svc.RevokeUserSessions(ctx, s.user.ID); err != nil {
		t.Fatalf("RevokeUserSessions: %v", err)
	}
	s.clock.Advance(2 * time.Minute)

	err := c.Do(ctx, http.MethodGet, "/auth/me", nil, nil)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if tok := c.Tokens(); tok.Access != "" || tok.Refresh != "" {
		t.Fatalf("tokens kept after a rejected refresh: %+v", tok)
	}
	if got := s.hits.count("/v1/auth/refresh"); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
	if got := s.hits.count("/v1/auth/me"); got != 1 {
		t.Fatalf("request replayed after a rejected refresh: %d calls", got)
	}
	if err := c.Do(ctx, http.MethodGet, "/auth/me", nil, nil); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestDoReplaysAtMostOnce(t *testing.T) {
	var (
		mu        sync.Mutex
		calls     int
		refreshes int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/auth/refresh") {
			refreshes++
			_, _ = w.Write([]byte(`{"success":true,"message":"Token refreshed successfully","data":{"tokens":{"auth":"access-` +
				strconv.Itoa(refreshes) + `","refresh":"refresh-` + strconv.Itoa(refreshes) + `"}}}`))
			return
		}
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"success":false,"message":"Invalid token","errors":{}}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithHTTPClient(srv.Client()), WithTokens(Tokens{Access: "access-0", Refresh: "refresh-0"}))
	err := c.Do(context.Background(), http.MethodPost, "/reports", map[string]string{"name": "q3"}, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "Invalid token" {
		t.Fatalf("expected the replayed 401, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 || refreshes != 1 {
		t.Fatalf("expected 2 calls and 1 refresh, got %d and %d", calls, refreshes)
	}
	if tok := c.Tokens(); tok.Access != "access-1" {
		t.Fatalf("refreshed pair not kept: %+v", tok)
	}
}

func TestConcurrentCallsShareRefresh(t *testing.T) {
	s := newServer(t)
	c := s.loggedIn(t)
	s.clock.Advance(2 * time.Minute)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Do(context.Background(), http.MethodGet, "/auth/me", nil, nil)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if got := s.hits.count("/v1/auth/refresh"); got != 1 {
		t.Fatalf("expected one shared refresh, got %d", got)
	}
}
