package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/orderpulse/realtime-connector/internal/broadcast"
	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/events"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
	"github.com/orderpulse/realtime-connector/internal/protocol"
	"github.com/orderpulse/realtime-connector/internal/ratelimit"
	"github.com/orderpulse/realtime-connector/internal/registry"
)

// WebSocketServer owns the /ws endpoints, the upgrade path and one read loop
// per connection.
type WebSocketServer struct {
	router      *mux.Router
	config      *config.Config
	gate        *AuthenticationGate
	guard       *ratelimit.AbuseGuard
	registry    *registry.ConnectionRegistry
	broadcaster *broadcast.Broadcaster
	upgrader    *websocket.Upgrader
}

func NewWebSocketServer(r *mux.Router, cfg *config.Config, gate *AuthenticationGate, guard *ratelimit.AbuseGuard, connectionRegistry *registry.ConnectionRegistry, broadcaster *broadcast.Broadcaster) *WebSocketServer {
	return &WebSocketServer{
		router:      r,
		config:      cfg,
		gate:        gate,
		guard:       guard,
		registry:    connectionRegistry,
		broadcaster: broadcaster,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser origin checks do not apply to POS devices, the
			// authenticate message carries the actual credentials
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (wss *WebSocketServer) Routes() {
	wss.router.HandleFunc("/ws/{endpoint:pos|platform}/{tenant_id}", wss.handleConnection())
}

func (wss *WebSocketServer) handleConnection() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		tenantID := domain.TenantID(vars["tenant_id"])
		endpointType := domain.ConnectionTypeTerminal
		if vars["endpoint"] == "platform" {
			endpointType = domain.ConnectionTypePlatform
		}

		origin := clientOrigin(req)

		// Abuse controls run before the upgrade so that a throttled client
		// costs a plain HTTP response, not a socket
		verdict := wss.guard.CheckConnectionAttempt(req.Context(), origin, "")
		if !verdict.Allowed {
			logger.Log.WithFields(logrus.Fields{
				"origin": origin,
				"reason": verdict.Reason}).Info("Rejecting connection attempt")
			metrics.upgradeRejectedCounter.With(prometheus.Labels{"reason": rejectionLabel(verdict)}).Inc()
			retryAfter := int(verdict.RetryAfter / time.Second)
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			}
			http.Error(w, verdict.Reason, http.StatusTooManyRequests)
			return
		}

		wsConn, err := wss.upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err, "origin": origin}).Debug("Websocket upgrade failed")
			return
		}

		metrics.upgradeCounter.Inc()

		socket := NewSocket(wsConn, wss.config.MaxFrameSize, wss.config.ReadIdleTimeout)

		conn, err := wss.gate.Authenticate(req.Context(), socket, endpointType, tenantID, origin)
		if err != nil {
			return
		}

		wss.readLoop(conn, socket, origin)
	}
}

// readLoop processes inbound messages in receipt order until the transport
// fails.  The rate limiter sees every frame before dispatch.
func (wss *WebSocketServer) readLoop(conn *registry.Connection, socket *Socket, origin string) {
	ctx := context.Background()

	for {
		frame, err := socket.ReadFrame()
		if err != nil {
			wss.registry.Disconnect(ctx, conn.ID, disconnectReason(err))
			return
		}

		verdict := wss.guard.CheckMessage(ctx, conn.ID, origin, conn.UserID, len(frame))
		if !verdict.Allowed {
			socket.SendEnvelope(ctx, protocol.BuildErrorEnvelope(conn.TenantID, "message rejected", verdict.Reason, verdict.RetryAfter)) //nolint:errcheck
			if verdict.Banned {
				wss.registry.Disconnect(ctx, conn.ID, "banned")
				return
			}
			continue
		}

		var envelope protocol.Envelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			// A malformed frame draws an error message but keeps the
			// connection open
			metrics.malformedMessagesCounter.Inc()
			wss.guard.RecordViolation(ctx, origin, conn.UserID)
			socket.SendEnvelope(ctx, protocol.BuildErrorEnvelope(conn.TenantID, "unable to parse message", "malformed message", 0)) //nolint:errcheck
			continue
		}

		metrics.messagesReceivedCounter.With(prometheus.Labels{"type": envelope.Kind().String()}).Inc()

		wss.dispatch(ctx, conn, socket, envelope)
	}
}

func (wss *WebSocketServer) dispatch(ctx context.Context, conn *registry.Connection, socket *Socket, envelope protocol.Envelope) {

	switch envelope.Kind() {

	case protocol.KindPing:
		conn.MarkLiveness()
		socket.SendEnvelope(ctx, protocol.BuildPongEnvelope(conn.TenantID, envelope.ID)) //nolint:errcheck

	case protocol.KindPong:
		conn.MarkLiveness()

	case protocol.KindAuthenticate:
		socket.SendEnvelope(ctx, protocol.BuildErrorEnvelope(conn.TenantID, "connection is already authenticated", "already authenticated", 0)) //nolint:errcheck

	case protocol.KindOrderStatusChanged,
		protocol.KindDataUpdated,
		protocol.KindKitchenUpdate,
		protocol.KindInventoryLow,
		protocol.KindPaymentCompleted:
		// Device originated events fan out to the rest of the tenant.  The
		// tenant on the wire is ignored, the registered tenant wins.
		envelope.TenantID = conn.TenantID.String()
		events.RouteEnvelope(ctx, wss.broadcaster, envelope, conn.UserID)

	case protocol.KindAuthenticated,
		protocol.KindError,
		protocol.KindAuthError,
		protocol.KindSyncCompleted:
		socket.SendEnvelope(ctx, protocol.BuildErrorEnvelope(conn.TenantID, "server to client message type", "unsupported message type", 0)) //nolint:errcheck

	case protocol.KindUnknown:
		socket.SendEnvelope(ctx, protocol.BuildErrorEnvelope(conn.TenantID, "unknown message type: "+envelope.Type, "unknown message type", 0)) //nolint:errcheck
	}
}

func disconnectReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return "client disconnect"
	}
	if err == websocket.ErrReadLimit || websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		return "frame too large"
	}
	if isTimeout(err) {
		return "read timeout"
	}
	return "transport error"
}

func rejectionLabel(verdict ratelimit.Verdict) string {
	if verdict.Banned {
		return "banned"
	}
	return "throttled"
}

// clientOrigin resolves the client address the rate limiter keys on.  Behind
// the load balancer the first X-Forwarded-For hop is the client.
func clientOrigin(req *http.Request) string {
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
