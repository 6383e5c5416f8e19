package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"cityflow/traffic-classifier/config"
	"cityflow/traffic-classifier/services"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestAuthService() *services.AuthService {
	return services.NewAuthService(config.JWTConfig{Secret: "test-secret-key-for-testing-only", ExpiryHours: 1})
}

func newAuthRouter(required bool) *gin.Engine {
	router := gin.New()
	router.Use(AuthMiddleware(newTestAuthService(), required))
	router.GET("/test", func(c *gin.Context) {
		subject, _ := c.Get("subject")
		c.JSON(http.StatusOK, gin.H{"subject": subject})
	})
	return router
}

func serve(router http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/test", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_MissingAuthHeader(t *testing.T) {
	w := serve(newAuthRouter(true), "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAuthMiddleware_InvalidAuthFormat(t *testing.T) {
	w := serve(newAuthRouter(true), "InvalidFormat")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	w := serve(newAuthRouter(true), "Bearer invalid_token_xyz")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	token, err := newTestAuthService().GenerateToken("dashboard", "viewer")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}

	w := serve(newAuthRouter(true), "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if body := w.Body.String(); body != `{"subject":"dashboard"}` {
		t.Errorf("unexpected body %s", body)
	}
}

func TestAuthMiddleware_OptionalAllowsAnonymous(t *testing.T) {
	w := serve(newAuthRouter(false), "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestAuthMiddleware_OptionalStillRejectsBadToken(t *testing.T) {
	w := serve(newAuthRouter(false), "Bearer invalid_token_xyz")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestSetupCORS(t *testing.T) {
	cases := []struct {
		name    string
		origins string
		origin  string
		want    string
	}{
		{"wildcard", "*", "http://any.example", "*"},
		{"listed origin", "http://a.example, http://b.example", "http://b.example", "http://b.example"},
		{"unlisted origin", "http://a.example", "http://evil.example", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(SetupCORS(config.CORSConfig{AllowedOrigins: tc.origins}))
			router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Origin", tc.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tc.want)
			}
		})
	}
}
