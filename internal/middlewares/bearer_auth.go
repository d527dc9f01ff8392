package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/identity"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
)

var identityKey key = 1

// BearerAuthMiddleware authenticates device facing endpoints (the sync API)
// with the same tokens the websocket authenticate message carries.
type BearerAuthMiddleware struct {
	Verifier identity.TokenVerifier
}

func (bmw *BearerAuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, authErrorMessage, 401)
			return
		}

		verifiedIdentity, err := bmw.Verifier(r.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err}).Debug("Bearer token verification failed")
			http.Error(w, authErrorMessage, 401)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, verifiedIdentity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetVerifiedIdentity returns the identity the bearer auth middleware stored
// on the request context.
func GetVerifiedIdentity(ctx context.Context) (*domain.VerifiedIdentity, bool) {
	verifiedIdentity, ok := ctx.Value(identityKey).(*domain.VerifiedIdentity)
	return verifiedIdentity, ok
}
