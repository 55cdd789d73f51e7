package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/authcore/internal/account"
	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/config"
	"github.com/geocoder89/authcore/internal/db"
	apphttp "github.com/geocoder89/authcore/internal/http"
	"github.com/geocoder89/authcore/internal/notifications"
	"github.com/geocoder89/authcore/internal/observability"
	"github.com/geocoder89/authcore/internal/ratelimit"
	"github.com/geocoder89/authcore/internal/repo/memory"
	"github.com/geocoder89/authcore/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
)

type recordingNotifier struct {
	mu   sync.Mutex
	fail bool
	msgs []notifications.Message
}

func (n *recordingNotifier) Send(ctx context.Context, msg notifications.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	if n.fail {
		return notifications.ErrSimulatedOutage
	}
	return nil
}

var resetLink = regexp.MustCompile(`(/api/v1/users/resetPassword/[0-9a-f]+)`)

func (n *recordingNotifier) lastBody(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.msgs) == 0 {
		t.Fatalf("no email sent")
	}
	return n.msgs[len(n.msgs)-1].Body
}

func (n *recordingNotifier) lastResetPath(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.msgs) == 0 {
		t.Fatalf("no email sent")
	}
	m := resetLink.FindStringSubmatch(n.msgs[len(n.msgs)-1].Body)
	if len(m) != 2 {
		t.Fatalf("reset link not found in %q", n.msgs[len(n.msgs)-1].Body)
	}
	return m[1]
}

type testApp struct {
	router   http.Handler
	store    *memory.UsersRepo
	notifier *recordingNotifier
}

func setupApp(t *testing.T, loginLimit int, opts ...func(*apphttp.RouterDeps)) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	store := memory.NewUsersRepo(hasher)
	notifier := &recordingNotifier{}

	jwt := auth.NewManager(auth.TokenConfig{Secret: "test-secret-key", TTL: time.Hour})
	issuer := auth.NewIssuer(jwt, auth.SessionConfig{CookieDays: 90})
	svc := account.NewService(store, hasher, issuer, notifier, logger, account.Options{})

	_, err := db.EnsureAdminUser(context.Background(), store, config.AdminConfig{
		Name: "Test Admin", Email: "admin@example.com", Password: "admin-password",
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	reg := prometheus.NewRegistry()

	var loginLimiter ratelimit.Limiter
	if loginLimit > 0 {
		loginLimiter = ratelimit.NewMemory(ratelimit.Rule{Limit: loginLimit, Window: time.Minute})
	}

	deps := apphttp.RouterDeps{
		Env:          "test",
		Log:          logger,
		Accounts:     svc,
		Gate:         auth.NewGate(jwt, store),
		Prom:         observability.NewProm(reg),
		Gatherer:     reg,
		LoginLimiter: loginLimiter,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	router := apphttp.NewRouter(deps)

	return &testApp{router: router, store: store, notifier: notifier}
}

type sessionResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	Data   struct {
		User map[string]any `json:"user"`
	} `json:"data"`
}

type apiErrorResponse struct {
	Status string `json:"status"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doRequest(router http.Handler, method, path, body, bearer string) (*httptest.ResponseRecorder, *http.Response) {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))

	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w, w.Result()
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	err := json.Unmarshal(w.Body.Bytes(), out)
	if err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int, step string) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("%s got status %d, want %d, body=%s", step, w.Code, want, w.Body.String())
	}
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	var e apiErrorResponse
	mustReadJSON(t, w, &e)
	if e.Error.Code != want {
		t.Fatalf("error code %q, want %q, body=%s", e.Error.Code, want, w.Body.String())
	}
}

func sessionCookie(t *testing.T, response *http.Response) *http.Cookie {
	t.Helper()

	for _, c := range response.Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}

	t.Fatalf("%s cookie not found in response", auth.SessionCookieName)
	return nil
}

func TestAuthIntegration_Signup_Me_Login(t *testing.T) {
	app := setupApp(t, 0)

	signupBody := `{"name":"Sam Doe","email":"Sam@Example.com","password":"password123","confirmPassword":"password123"}`
	w, response := doRequest(app.router, http.MethodPost, "/api/v1/users/signup", signupBody, "")
	expectStatus(t, w, http.StatusCreated, "signup")

	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("signup response leaks password fields: %s", w.Body.String())
	}

	var signup sessionResponse
	mustReadJSON(t, w, &signup)
	if signup.Status != "success" || signup.Token == "" {
		t.Fatalf("unexpected signup payload: %+v", signup)
	}
	if signup.Data.User["email"] != "sam@example.com" || signup.Data.User["role"] != "user" {
		t.Fatalf("unexpected user: %+v", signup.Data.User)
	}

	cookie := sessionCookie(t, response)
	if !cookie.HttpOnly || cookie.Value != signup.Token {
		t.Fatalf("unexpected cookie: %+v", cookie)
	}
	if d := time.Until(cookie.Expires); d < 89*24*time.Hour || d > 91*24*time.Hour {
		t.Fatalf("cookie expiry %v, want ~90 days", cookie.Expires)
	}

	w, response = doRequest(app.router, http.MethodGet, "/api/v1/users/me", "", signup.Token)
	expectStatus(t, w, http.StatusOK, "me")

	etag := response.Header.Get("ETag")
	if etag == "" {
		t.Fatalf("me: missing ETag")
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+signup.Token)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusNotModified, "me(if-none-match)")

	w, _ = doRequest(app.router, http.MethodGet, "/api/v1/users/me", "", "")
	expectStatus(t, w, http.StatusUnauthorized, "me(no token)")
	expectCode(t, w, "unauthorized")

	w, _ = doRequest(app.router, http.MethodGet, "/api/v1/users/me", "", signup.Token+"x")
	expectStatus(t, w, http.StatusUnauthorized, "me(tampered)")
	expectCode(t, w, "invalid_token")

	w, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/login", `{"email":"sam@example.com","password":"password123"}`, "")
	expectStatus(t, w, http.StatusOK, "login")

	w, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/signup", signupBody, "")
	expectStatus(t, w, http.StatusBadRequest, "signup(duplicate)")
	expectCode(t, w, "validation_failed")
}

func TestAuthIntegration_Login_Failures(t *testing.T) {
	app := setupApp(t, 0)

	w, _ := doRequest(app.router, http.MethodPost, "/api/v1/users/login", `{"email":"sam@example.com"}`, "")
	expectStatus(t, w, http.StatusBadRequest, "login(missing)")
	expectCode(t, w, "missing_credentials")

	w, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/login", `{"email":"nope@example.com","password":"wrong-one"}`, "")
	expectStatus(t, w, http.StatusUnauthorized, "login(unknown)")
	unknown := w.Body.String()

	w, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/login", `{"email":"admin@example.com","password":"wrong-one"}`, "")
	expectStatus(t, w, http.StatusUnauthorized, "login(wrong password)")

	var a, b apiErrorResponse
	_ = json.Unmarshal([]byte(unknown), &a)
	mustReadJSON(t, w, &b)
	if a.Error != b.Error {
		t.Fatalf("unknown email and wrong password must look identical: %+v vs %+v", a.Error, b.Error)
	}

	w, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/login", `not json`, "")
	expectStatus(t, w, http.StatusBadRequest, "login(bad json)")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnsupportedMediaType, "login(no content type)")
}

func TestAuthIntegration_RoleGate(t *testing.T) {
	app := setupApp(t, 0)

	w, _ := doRequest(app.router, http.MethodPost, "/api/v1/users/signup",
		`{"name":"Sam","email":"sam@example.com","password":"password123","confirmPassword":"password123"}`, "")
	expectStatus(t, w, http.StatusCreated, "signup")
	var sam sessionResponse
	mustReadJSON(t, w, &sam)

	w, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/login", `{"email":"admin@example.com","password":"admin-password"}`, "")
	expectStatus(t, w, http.StatusOK, "admin login")
	var admin sessionResponse
	mustReadJSON(t, w, &admin)

	samID, _ := sam.Data.User["id"].(string)

	w, _ = doRequest(app.router, http.MethodGet, "/api/v1/users/"+samID, "", sam.Token)
	expectStatus(t, w, http.StatusForbidden, "get user as user")
	expectCode(t, w, "forbidden")

	w, _ = doRequest(app.router, http.MethodGet, "/api/v1/users/"+samID, "", admin.Token)
	expectStatus(t, w, http.StatusOK, "get user as admin")

	w, _ = doRequest(app.router, http.MethodGet, "/api/v1/users/does-not-exist", "", admin.Token)
	expectStatus(t, w, http.StatusNotFound, "get missing user")

	if err := app.store.Delete(context.Background(), samID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	w, _ = doRequest(app.router, http.MethodGet, "/api/v1/users/me", "", sam.Token)
	expectStatus(t, w, http.StatusUnauthorized, "me after delete")
	expectCode(t, w, "user_gone")
}

func TestAuthIntegration_Forgot_Reset_Update(t *testing.T) {
	app := setupApp(t, 0)

	w, _ := doRequest(app.router, http.MethodPost, "/api/v1/users/signup",
		`{"name":"Sam","email":"sam@example.com","password":"password-one","confirmPassword":"password-one"}`, "")
	expectStatus(t, w, http.StatusCreated, "signup")
	var first sessionResponse
	mustReadJSON(t, w, &first)

	w, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/forgotPassword", `{"email":"ghost@example.com"}`, "")
	expectStatus(t, w, http.StatusNotFound, "forgot(unknown)")

	w, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/forgotPassword", `{"email":"sam@example.com"}`, "")
	expectStatus(t, w, http.StatusOK, "forgot")

	resetPath := app.notifier.lastResetPath(t)
	if !strings.Contains(app.notifier.msgs[0].Body, "http://example.com"+resetPath) {
		t.Fatalf("reset link should use the request host: %q", app.notifier.msgs[0].Body)
	}

	w, _ = doRequest(app.router, http.MethodPatch, resetPath, `{"password":"password-two","confirmPassword":"password-nope"}`, "")
	expectStatus(t, w, http.StatusBadRequest, "reset(mismatch)")
	expectCode(t, w, "validation_failed")

	// iat and passwordChangedAt have second resolution; move far enough past
	// signup for the first token to be strictly older than the change
	time.Sleep(2100 * time.Millisecond)

	w, _ = doRequest(app.router, http.MethodPatch, resetPath, `{"password":"password-two","confirmPassword":"password-two"}`, "")
	expectStatus(t, w, http.StatusOK, "reset")
	var reset sessionResponse
	mustReadJSON(t, w, &reset)

	w, _ = doRequest(app.router, http.MethodPatch, resetPath, `{"password":"password-3","confirmPassword":"password-3"}`, "")
	expectStatus(t, w, http.StatusBadRequest, "reset(reuse)")
	expectCode(t, w, "invalid_reset_token")

	w, _ = doRequest(app.router, http.MethodGet, "/api/v1/users/me", "", first.Token)
	expectStatus(t, w, http.StatusUnauthorized, "me(stale token)")
	expectCode(t, w, "password_changed")

	w, _ = doRequest(app.router, http.MethodGet, "/api/v1/users/me", "", reset.Token)
	expectStatus(t, w, http.StatusOK, "me(reset token)")

	w, _ = doRequest(app.router, http.MethodPatch, "/api/v1/users/updateMyPassword",
		`{"currentPassword":"password-one","password":"password-3","confirmPassword":"password-3"}`, reset.Token)
	expectStatus(t, w, http.StatusUnauthorized, "update(wrong current)")
	expectCode(t, w, "wrong_password")

	w, _ = doRequest(app.router, http.MethodPatch, "/api/v1/users/updateMyPassword",
		`{"currentPassword":"password-two","password":"password-3","confirmPassword":"password-3"}`, reset.Token)
	expectStatus(t, w, http.StatusOK, "update")

	w, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/login", `{"email":"sam@example.com","password":"password-3"}`, "")
	expectStatus(t, w, http.StatusOK, "login(new password)")
}

func TestAuthIntegration_ForgotPassword_DeliveryFailure(t *testing.T) {
	app := setupApp(t, 0)

	w, _ := doRequest(app.router, http.MethodPost, "/api/v1/users/signup",
		`{"name":"Sam","email":"sam@example.com","password":"password123","confirmPassword":"password123"}`, "")
	expectStatus(t, w, http.StatusCreated, "signup")

	app.notifier.fail = true

	w, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/forgotPassword", `{"email":"sam@example.com"}`, "")
	expectStatus(t, w, http.StatusInternalServerError, "forgot(mail down)")
	expectCode(t, w, "email_delivery_failed")

	u, err := app.store.FindByEmail(context.Background(), "sam@example.com", false)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u.HasResetToken() {
		t.Fatalf("reset token should have been rolled back")
	}
}

func TestAuthIntegration_LoginRateLimit(t *testing.T) {
	app := setupApp(t, 2)
	body := `{"email":"admin@example.com","password":"wrong-one"}`

	for i := 0; i < 2; i++ {
		w, _ := doRequest(app.router, http.MethodPost, "/api/v1/users/login", body, "")
		expectStatus(t, w, http.StatusUnauthorized, "login attempt")
	}

	w, response := doRequest(app.router, http.MethodPost, "/api/v1/users/login", body, "")
	expectStatus(t, w, http.StatusTooManyRequests, "login(limited)")
	if response.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestAuthIntegration_HealthAndMetrics(t *testing.T) {
	app := setupApp(t, 0)

	w, _ := doRequest(app.router, http.MethodGet, "/healthz", "", "")
	expectStatus(t, w, http.StatusOK, "healthz")

	w, _ = doRequest(app.router, http.MethodGet, "/readyz", "", "")
	expectStatus(t, w, http.StatusOK, "readyz")

	_, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/login", `{"email":"x@example.com","password":"nope-nope"}`, "")

	w, _ = doRequest(app.router, http.MethodGet, "/metrics", "", "")
	expectStatus(t, w, http.StatusOK, "metrics")
	if !strings.Contains(w.Body.String(), `authcore_auth_outcomes_total{flow="login",outcome="invalid_credentials"} 1`) {
		t.Fatalf("auth outcome metric missing:\n%s", w.Body.String())
	}

	w, _ = doRequest(app.router, http.MethodGet, "/docs", "", "")
	expectStatus(t, w, http.StatusOK, "swagger ui")
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "script-src 'self' 'unsafe-inline' https://unpkg.com") {
		t.Fatalf("docs CSP blocks swagger assets: %q", csp)
	}

	w, _ = doRequest(app.router, http.MethodGet, "/healthz", "", "")
	if csp := w.Header().Get("Content-Security-Policy"); csp != "default-src 'none'; frame-ancestors 'none'" {
		t.Fatalf("api CSP %q", csp)
	}

	w, _ = doRequest(app.router, http.MethodGet, "/docs/openapi.yaml", "", "")
	expectStatus(t, w, http.StatusOK, "openapi")
	if !strings.Contains(w.Body.String(), "/api/v1/users/resetPassword/{token}") {
		t.Fatalf("openapi document missing reset route")
	}

	w, _ = doRequest(app.router, http.MethodGet, "/nowhere", "", "")
	expectStatus(t, w, http.StatusNotFound, "unmatched route")
}

func TestAuthIntegration_UpdatePassword_CurrentPasswordField(t *testing.T) {
	app := setupApp(t, 0)

	w, _ := doRequest(app.router, http.MethodPost, "/api/v1/users/login", `{"email":"admin@example.com","password":"admin-password"}`, "")
	expectStatus(t, w, http.StatusOK, "admin login")
	var admin sessionResponse
	mustReadJSON(t, w, &admin)

	w, _ = doRequest(app.router, http.MethodPatch, "/api/v1/users/updateMyPassword",
		`{"currentPassword":"admin-password","password":"admin-password-2","confirmPassword":"admin-password-2"}`, admin.Token)
	expectStatus(t, w, http.StatusOK, "update with currentPassword")

	w, _ = doRequest(app.router, http.MethodPost, "/api/v1/users/login", `{"email":"admin@example.com","password":"admin-password-2"}`, "")
	expectStatus(t, w, http.StatusOK, "login(updated password)")
}

func forgotWithHost(router http.Handler, host, proto string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/forgotPassword", strings.NewReader(`{"email":"admin@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Host = host
	if proto != "" {
		req.Header.Set("X-Forwarded-Proto", proto)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthIntegration_ResetLinkIgnoresHostWhenBaseConfigured(t *testing.T) {
	app := setupApp(t, 0, func(d *apphttp.RouterDeps) {
		d.ResetURLBase = "https://auth.example.com/api/v1/users/resetPassword"
	})

	w := forgotWithHost(app.router, "attacker.example", "https")
	expectStatus(t, w, http.StatusOK, "forgot")

	body := app.notifier.lastBody(t)
	if strings.Contains(body, "attacker.example") {
		t.Fatalf("reset link uses request host: %q", body)
	}
	if !strings.Contains(body, "https://auth.example.com/api/v1/users/resetPassword/") {
		t.Fatalf("reset link not built from configured base: %q", body)
	}
}

func TestAuthIntegration_ResetLinkRejectsOddForwardedProto(t *testing.T) {
	app := setupApp(t, 0)

	w := forgotWithHost(app.router, "localhost:8080", "javascript")
	expectStatus(t, w, http.StatusOK, "forgot")

	body := app.notifier.lastBody(t)
	if !strings.Contains(body, "http://localhost:8080/api/v1/users/resetPassword/") {
		t.Fatalf("unexpected reset link: %q", body)
	}
}
