package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject, role string, expiry time.Duration) string {
	t.Helper()
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newAuthRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(secret))
	router.GET("/me", func(c *gin.Context) {
		identity, ok := CurrentUser(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no identity"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": identity.UserID, "admin": identity.IsAdmin()})
	})
	return router
}

func doAuthRequest(router *gin.Engine, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	router := newAuthRouter(testSecret)
	token := signToken(t, testSecret, "42", "user", time.Hour)

	w := doAuthRequest(router, token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	router := newAuthRouter(testSecret)

	w := doAuthRequest(router, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddlewareRejectsWrongSecret(t *testing.T) {
	router := newAuthRouter(testSecret)
	token := signToken(t, "other-secret", "42", "user", time.Hour)

	w := doAuthRequest(router, token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddlewareRejectsExpiredToken(t *testing.T) {
	router := newAuthRouter(testSecret)
	token := signToken(t, testSecret, "42", "user", -time.Minute)

	w := doAuthRequest(router, token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddlewareRejectsBadSubject(t *testing.T) {
	router := newAuthRouter(testSecret)
	token := signToken(t, testSecret, "not-a-number", "user", time.Hour)

	w := doAuthRequest(router, token)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestIdentityIsAdmin(t *testing.T) {
	if !(Identity{UserID: 1, Role: "admin"}).IsAdmin() {
		t.Error("admin role not recognized")
	}
	if !(Identity{UserID: 1, Role: "Admin"}).IsAdmin() {
		t.Error("role check should be case insensitive")
	}
	if (Identity{UserID: 1, Role: "user"}).IsAdmin() {
		t.Error("user role treated as admin")
	}
}
