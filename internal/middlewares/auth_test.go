package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/identity"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
)

func init() {
	logger.InitLogger()
}

func okHandler(t *testing.T, called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestPSKAuthAcceptsKnownCredentials(t *testing.T) {
	amw := &AuthMiddleware{Secrets: map[string]interface{}{"ops-dashboard": "sekrit"}}

	var called bool
	var principal Principal
	handler := amw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		principal, _ = GetPrincipal(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/connection", nil)
	req.Header.Set(PSKClientIdHeader, "ops-dashboard")
	req.Header.Set(PSKTenantHeader, "tenant-1")
	req.Header.Set(PSKHeader, "sekrit")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !called || rr.Code != http.StatusOK {
		t.Fatalf("Expected the request to pass, got status %d", rr.Code)
	}
	if principal == nil || principal.GetTenant() != "tenant-1" {
		t.Fatalf("Expected the tenant principal on the context")
	}
}

func TestPSKAuthRejectsBadKey(t *testing.T) {
	amw := &AuthMiddleware{Secrets: map[string]interface{}{"ops-dashboard": "sekrit"}}

	testCases := []struct {
		testName string
		clientID string
		tenant   string
		psk      string
	}{
		{"wrong psk", "ops-dashboard", "tenant-1", "wrong"},
		{"unknown client", "who-dis", "tenant-1", "sekrit"},
		{"missing headers", "", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.testName, func(t *testing.T) {
			var called bool
			handler := amw.Authenticate(okHandler(t, &called))

			req := httptest.NewRequest(http.MethodGet, "/connection", nil)
			if tc.clientID != "" {
				req.Header.Set(PSKClientIdHeader, tc.clientID)
				req.Header.Set(PSKTenantHeader, tc.tenant)
				req.Header.Set(PSKHeader, tc.psk)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if called || rr.Code != http.StatusUnauthorized {
				t.Fatalf("Expected a 401, got status %d", rr.Code)
			}
		})
	}
}

func buildBearerVerifier(t *testing.T) identity.TokenVerifier {
	t.Helper()

	cfg := config.GetConfig()
	cfg.JwtSecret = "test-signing-secret"

	verifier, err := identity.NewTokenVerifier(identity.JwtTokenVerifier, cfg)
	if err != nil {
		t.Fatalf("Unable to build the token verifier: %v", err)
	}

	return verifier
}

func TestBearerAuthAcceptsValidToken(t *testing.T) {
	bmw := &BearerAuthMiddleware{Verifier: buildBearerVerifier(t)}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-1",
		"tenants": []string{"tenant-1"},
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-signing-secret"))
	if err != nil {
		t.Fatalf("Unable to sign test token: %v", err)
	}

	var identityOnContext bool
	handler := bmw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifiedIdentity, ok := GetVerifiedIdentity(r.Context())
		identityOnContext = ok && verifiedIdentity.UserID == "user-1"
	}))

	req := httptest.NewRequest(http.MethodPost, "/sync/batch", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || !identityOnContext {
		t.Fatalf("Expected the verified identity on the context, got status %d", rr.Code)
	}
}

func TestBearerAuthRejectsMissingToken(t *testing.T) {
	bmw := &BearerAuthMiddleware{Verifier: buildBearerVerifier(t)}

	var called bool
	handler := bmw.Authenticate(okHandler(t, &called))

	req := httptest.NewRequest(http.MethodPost, "/sync/batch", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if called || rr.Code != http.StatusUnauthorized {
		t.Fatalf("Expected a 401, got status %d", rr.Code)
	}
}

func TestGetPrincipalWithoutAuth(t *testing.T) {
	if _, ok := GetPrincipal(context.Background()); ok {
		t.Fatalf("Expected no principal on an empty context")
	}
}
