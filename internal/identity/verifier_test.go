package identity

import (
	"context"
	"testing"
	"time"

	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"

	"github.com/golang-jwt/jwt"
)

func init() {
	logger.InitLogger()
}

const testSecret = "test-signing-secret"

func buildToken(t *testing.T, userID string, tenants []string, role string, expiresAt time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"tenants": tenants,
		"role":    role,
		"exp":     expiresAt.Unix(),
	})

	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Unable to sign test token: %v", err)
	}

	return signed
}

func buildVerifier(t *testing.T) TokenVerifier {
	t.Helper()

	verifier, err := newJwtVerifier([]byte(testSecret))
	if err != nil {
		t.Fatalf("Unable to build verifier: %v", err)
	}

	return verifier
}

func TestVerifyValidToken(t *testing.T) {
	verifier := buildVerifier(t)

	token := buildToken(t, "user-1", []string{"tenant-1", "tenant-2"}, "manager", time.Now().Add(time.Hour))

	identity, err := verifier(context.TODO(), token)
	if err != nil {
		t.Fatalf("Expected the token to verify, got error: %v", err)
	}

	if identity.UserID != domain.UserID("user-1") {
		t.Fatalf("Expected user-1, got %s", identity.UserID)
	}

	if !identity.MemberOf(domain.TenantID("tenant-2")) {
		t.Fatalf("Expected identity to be a member of tenant-2")
	}

	if identity.MemberOf(domain.TenantID("tenant-3")) {
		t.Fatalf("Expected identity to not be a member of tenant-3")
	}
}

func TestVerifySuperUserIsMemberOfAnyTenant(t *testing.T) {
	verifier := buildVerifier(t)

	token := buildToken(t, "ops-1", nil, "super", time.Now().Add(time.Hour))

	identity, err := verifier(context.TODO(), token)
	if err != nil {
		t.Fatalf("Expected the token to verify, got error: %v", err)
	}

	if !identity.MemberOf(domain.TenantID("any-tenant")) {
		t.Fatalf("Expected a super user to be a member of any tenant")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	verifier := buildVerifier(t)

	token := buildToken(t, "user-1", []string{"tenant-1"}, "manager", time.Now().Add(-time.Hour))

	_, err := verifier(context.TODO(), token)
	if err != ErrExpiredToken {
		t.Fatalf("Expected ErrExpiredToken, got: %v", err)
	}
}

func TestVerifyGarbageToken(t *testing.T) {
	verifier := buildVerifier(t)

	_, err := verifier(context.TODO(), "not-a-jwt")
	if err != ErrInvalidToken {
		t.Fatalf("Expected ErrInvalidToken, got: %v", err)
	}
}

func TestVerifierRequiresSecret(t *testing.T) {
	_, err := newJwtVerifier(nil)
	if err == nil {
		t.Fatalf("Expected an error when no secret is configured")
	}
}
