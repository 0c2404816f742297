// README: Auth middleware tests.
package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"shinua/internal/http/middleware"
	"shinua/internal/infra"
	"shinua/internal/types"

	"shinua/internal/modules/user"
)

// stubUsers is a test double for the user lookup.
type stubUsers map[types.ID]*user.User

func (s stubUsers) Get(_ context.Context, id types.ID) (*user.User, error) {
	u, ok := s[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func testUsers() stubUsers {
	return stubUsers{
		"u1":   {ID: "u1", Phone: "0501234567", Name: "משה", CreatedAt: time.Now()},
		"disp": {ID: "disp", Dispatcher: true, CreatedAt: time.Now()},
		"gone": {ID: "gone", Deleted: true, CreatedAt: time.Now()},
	}
}

func newTestRouter(required bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	verifier := infra.StaticVerifier{"tok-u1": "u1", "tok-disp": "disp", "tok-gone": "gone"}
	r := gin.New()
	r.Use(middleware.Auth(verifier, testUsers(), required))
	r.GET("/test", func(c *gin.Context) {
		actor := middleware.Actor(c)
		c.JSON(http.StatusOK, gin.H{"uid": actor.UserID, "dispatcher": actor.Dispatcher})
	})
	return r
}

func doGet(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMissingHeaderRequired(t *testing.T) {
	if w := doGet(newTestRouter(true), ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuthMissingHeaderOptional(t *testing.T) {
	w := doGet(newTestRouter(false), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAuthInvalidToken(t *testing.T) {
	if w := doGet(newTestRouter(true), "Bearer nope"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuthValidToken(t *testing.T) {
	w := doGet(newTestRouter(true), "Bearer tok-u1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"uid":"u1"`) {
		t.Errorf("actor not resolved: %s", w.Body.String())
	}
}

func TestAuthDispatcherFlagCarried(t *testing.T) {
	w := doGet(newTestRouter(true), "Bearer tok-disp")
	if !strings.Contains(w.Body.String(), `"dispatcher":true`) {
		t.Errorf("dispatcher flag missing: %s", w.Body.String())
	}
}

func TestAuthDeletedUserRejected(t *testing.T) {
	if w := doGet(newTestRouter(true), "Bearer tok-gone"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for deleted user, got %d", w.Code)
	}
}

func TestAuthUnknownUserRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := infra.StaticVerifier{"tok-ghost": "ghost"}
	r := gin.New()
	r.Use(middleware.Auth(verifier, testUsers(), true))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })
	if w := doGet(r, "Bearer tok-ghost"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for token without a user row, got %d", w.Code)
	}
}
