package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yoockh/yoocall/internal/logger"
)

func init() { gin.SetMode(gin.TestMode) }

func sign(t *testing.T, secret, sub, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, operatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: role,
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func adminRouter(secret string) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(logger.Discard()))
	g := r.Group("/admin", JWTAuth(JWTConfig{Secret: secret}), RequireAdmin())
	g.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestAdminAuth(t *testing.T) {
	r := adminRouter("admin-secret")
	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"bad signature", "Bearer " + sign(t, "other", "ops", "admin"), http.StatusUnauthorized},
		{"wrong role", "Bearer " + sign(t, "admin-secret", "ops", "viewer"), http.StatusForbidden},
		{"no subject", "Bearer " + sign(t, "admin-secret", "", "admin"), http.StatusUnauthorized},
		{"admin", "Bearer " + sign(t, "admin-secret", "ops", "admin"), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
			if w.Header().Get("X-Request-Id") == "" {
				t.Fatal("missing request id")
			}
		})
	}
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	r := adminRouter("")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/x", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSupportRoleReadsOnly(t *testing.T) {
	r := gin.New()
	g := r.Group("/admin", JWTAuth(JWTConfig{Secret: "s"}))
	g.GET("/calls", RequireRole(RoleAdmin, RoleSupport), func(c *gin.Context) { c.Status(http.StatusOK) })
	g.POST("/reconcile", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	do := func(method, path, role string) int {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+sign(t, "s", "agent-7", role))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if got := do(http.MethodGet, "/admin/calls", "Support"); got != http.StatusOK {
		t.Fatalf("support read = %d", got)
	}
	if got := do(http.MethodPost, "/admin/reconcile", "support"); got != http.StatusForbidden {
		t.Fatalf("support reconcile = %d", got)
	}
	if got := do(http.MethodPost, "/admin/reconcile", "admin"); got != http.StatusAccepted {
		t.Fatalf("admin reconcile = %d", got)
	}
}
