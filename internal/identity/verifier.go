package identity

import (
	"context"
	"errors"
	"time"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/domain"

	"github.com/golang-jwt/jwt"
)

const (
	JwtTokenVerifier    = "jwt_hmac_verifier"
	StaticTokenVerifier = "static_map_verifier"
)

var (
	ErrInvalidToken = errors.New("invalid credential token")
	ErrExpiredToken = errors.New("expired credential token")
)

// TokenVerifier is the credential verification collaborator contract.  The
// platform services own token minting; this service only checks tokens and
// extracts the identity they carry.
type TokenVerifier func(ctx context.Context, token string) (*domain.VerifiedIdentity, error)

type platformClaims struct {
	jwt.StandardClaims
	UserID  string   `json:"user_id"`
	Tenants []string `json:"tenants"`
	Role    string   `json:"role"`
}

func NewTokenVerifier(implName string, cfg *config.Config) (TokenVerifier, error) {
	switch implName {
	case JwtTokenVerifier:
		return newJwtVerifier([]byte(cfg.JwtSecret))
	default:
		return nil, errors.New("Invalid TokenVerifier impl requested: " + implName)
	}
}

func newJwtVerifier(secret []byte) (TokenVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("JWT verifier requires a signing secret")
	}

	return func(ctx context.Context, token string) (*domain.VerifiedIdentity, error) {
		claims := platformClaims{}

		parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return secret, nil
		})

		if err != nil {
			validationErr, ok := err.(*jwt.ValidationError)
			if ok && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
				return nil, ErrExpiredToken
			}
			return nil, ErrInvalidToken
		}

		if !parsed.Valid || claims.UserID == "" {
			return nil, ErrInvalidToken
		}

		tenants := make([]domain.TenantID, 0, len(claims.Tenants))
		for _, t := range claims.Tenants {
			tenants = append(tenants, domain.TenantID(t))
		}

		return &domain.VerifiedIdentity{
			UserID:    domain.UserID(claims.UserID),
			Tenants:   tenants,
			SuperUser: claims.Role == "super",
			ExpiresAt: time.Unix(claims.ExpiresAt, 0),
		}, nil
	}, nil
}
