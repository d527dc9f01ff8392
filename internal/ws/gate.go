package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/orderpulse/realtime-connector/internal/broadcast"
	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/identity"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
	"github.com/orderpulse/realtime-connector/internal/protocol"
	"github.com/orderpulse/realtime-connector/internal/ratelimit"
	"github.com/orderpulse/realtime-connector/internal/registry"
)

var errHandshakeFailed = errors.New("websocket handshake failed")

// AuthenticationGate drives the post upgrade handshake.  A fresh socket has
// one authentication window to send a valid authenticate message; anything
// else closes the socket with a 4000 range close code.
type AuthenticationGate struct {
	registry       *registry.ConnectionRegistry
	broadcaster    *broadcast.Broadcaster
	verifier       identity.TokenVerifier
	guard          *ratelimit.AbuseGuard
	authTimeout    time.Duration
	tenantCapacity int
	userCapacity   int
}

func NewAuthenticationGate(connectionRegistry *registry.ConnectionRegistry, broadcaster *broadcast.Broadcaster, verifier identity.TokenVerifier, guard *ratelimit.AbuseGuard, cfg *config.Config) *AuthenticationGate {
	return &AuthenticationGate{
		registry:       connectionRegistry,
		broadcaster:    broadcaster,
		verifier:       verifier,
		guard:          guard,
		authTimeout:    cfg.AuthTimeout,
		tenantCapacity: cfg.MaxConnectionsPerTenant,
		userCapacity:   cfg.MaxConnectionsPerUser,
	}
}

// Authenticate runs the handshake and registers the connection.  On any
// failure the socket is closed before returning and the error only signals
// the caller to stop, cleanup already happened.
func (ag *AuthenticationGate) Authenticate(ctx context.Context, socket *Socket, endpointType domain.ConnectionType, tenantID domain.TenantID, origin string) (*registry.Connection, error) {

	log := logger.Log.WithFields(logrus.Fields{"tenant_id": tenantID, "origin": origin})

	frame, err := socket.ReadFrameWithin(ag.authTimeout)
	if err != nil {
		if isTimeout(err) {
			log.Debug("Authentication window expired")
			metrics.authFailureCounter.With(prometheus.Labels{"reason": "timeout"}).Inc()
			socket.Close(protocol.CloseAuthTimeout, "authentication timeout")
		} else {
			socket.Close(protocol.CloseInternalError, "read failure")
		}
		return nil, errHandshakeFailed
	}

	var envelope protocol.Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil || envelope.Kind() != protocol.KindAuthenticate {
		log.Debug("First message was not an authenticate message")
		metrics.authFailureCounter.With(prometheus.Labels{"reason": "not_authenticate"}).Inc()
		socket.Close(protocol.CloseAuthRequired, "authentication required")
		return nil, errHandshakeFailed
	}

	var payload protocol.AuthenticatePayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		metrics.authFailureCounter.With(prometheus.Labels{"reason": "malformed_payload"}).Inc()
		socket.Close(protocol.CloseAuthRequired, "authentication required")
		return nil, errHandshakeFailed
	}

	verifiedIdentity, err := ag.verifier(ctx, payload.Token)
	if err != nil {
		log.WithFields(logrus.Fields{"error": err}).Debug("Token verification failed")
		metrics.authFailureCounter.With(prometheus.Labels{"reason": "invalid_token"}).Inc()
		socket.SendEnvelope(ctx, protocol.BuildAuthErrorEnvelope(tenantID, "invalid credentials")) //nolint:errcheck
		socket.Close(protocol.CloseAuthFailed, "authentication failed")
		return nil, errHandshakeFailed
	}

	if !verifiedIdentity.MemberOf(tenantID) {
		log.WithFields(logrus.Fields{"user_id": verifiedIdentity.UserID}).Info("User is not a member of the tenant")
		metrics.authFailureCounter.With(prometheus.Labels{"reason": "tenant_mismatch"}).Inc()
		socket.SendEnvelope(ctx, protocol.BuildAuthErrorEnvelope(tenantID, "not a member of this tenant")) //nolint:errcheck
		socket.Close(protocol.CloseAuthFailed, "authentication failed")
		return nil, errHandshakeFailed
	}

	userID := verifiedIdentity.UserID

	if verdict := ag.guard.CheckUserBan(ctx, userID); !verdict.Allowed {
		log.WithFields(logrus.Fields{"user_id": userID}).Info("Rejecting connection from banned user")
		socket.SendEnvelope(ctx, protocol.BuildErrorEnvelope(tenantID, "temporarily banned", verdict.Reason, verdict.RetryAfter)) //nolint:errcheck
		socket.Close(websocket.ClosePolicyViolation, "temporarily banned")
		return nil, errHandshakeFailed
	}

	connectionType, err := resolveConnectionType(endpointType, payload.DeviceType)
	if err != nil {
		socket.SendEnvelope(ctx, protocol.BuildErrorEnvelope(tenantID, err.Error(), "invalid device type", 0)) //nolint:errcheck
		socket.Close(websocket.ClosePolicyViolation, "invalid device type")
		return nil, errHandshakeFailed
	}

	if ag.registry.CountForTenant(tenantID) >= ag.tenantCapacity || ag.registry.CountForUser(userID) >= ag.userCapacity {
		log.WithFields(logrus.Fields{"user_id": userID}).Info("Connection limit exceeded")
		metrics.capacityRejectionsCounter.Inc()
		socket.SendEnvelope(ctx, protocol.BuildErrorEnvelope(tenantID, "connection limit exceeded", "connection limit exceeded", 0)) //nolint:errcheck
		socket.Close(websocket.CloseTryAgainLater, "connection limit exceeded")
		return nil, errHandshakeFailed
	}

	conn := &registry.Connection{
		ID:            domain.ConnectionID(uuid.NewString()),
		TenantID:      tenantID,
		UserID:        userID,
		Type:          connectionType,
		DeviceID:      domain.DeviceID(payload.DeviceID),
		Origin:        origin,
		EstablishedAt: time.Now(),
		Transport:     socket,
	}

	if err := ag.registry.Register(ctx, conn); err != nil {
		log.WithFields(logrus.Fields{"error": err}).Error("Unable to register connection")
		socket.Close(protocol.CloseInternalError, "registration failed")
		return nil, errHandshakeFailed
	}

	socket.OnPong(conn.MarkLiveness)

	authenticated, err := protocol.BuildEnvelope(protocol.KindAuthenticated, tenantID, protocol.AuthenticatedPayload{ConnectionID: conn.ID.String()})
	if err == nil {
		err = socket.SendEnvelope(ctx, authenticated)
	}
	if err != nil {
		ag.registry.Disconnect(ctx, conn.ID, "send failure")
		return nil, errHandshakeFailed
	}

	log.WithFields(logrus.Fields{
		"connection_id":   conn.ID,
		"user_id":         userID,
		"connection_type": connectionType}).Info("Connection authenticated")

	ag.broadcaster.FlushOfflineMessages(ctx, conn)

	return conn, nil
}

// resolveConnectionType maps the endpoint plus the declared device type to a
// connection type.  The platform endpoint ignores the declared device type.
func resolveConnectionType(endpointType domain.ConnectionType, deviceType string) (domain.ConnectionType, error) {
	if endpointType == domain.ConnectionTypePlatform {
		return domain.ConnectionTypePlatform, nil
	}

	if deviceType == "" {
		return domain.ConnectionTypeTerminal, nil
	}

	declared := domain.ConnectionType(deviceType)
	if !declared.Valid() || declared == domain.ConnectionTypePlatform {
		return "", errors.New("unknown device type: " + deviceType)
	}

	return declared, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
