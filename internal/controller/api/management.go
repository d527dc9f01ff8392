package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/middlewares"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
	"github.com/orderpulse/realtime-connector/internal/registry"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type ManagementServer struct {
	registry *registry.ConnectionRegistry
	router   *mux.Router
	config   *config.Config
}

func NewManagementServer(cr *registry.ConnectionRegistry, r *mux.Router, cfg *config.Config) *ManagementServer {
	return &ManagementServer{
		registry: cr,
		router:   r,
		config:   cfg,
	}
}

func (s *ManagementServer) Routes() {
	mmw := &middlewares.MetricsMiddleware{}
	amw := &middlewares.AuthMiddleware{Secrets: s.config.ServiceToServiceCredentials}

	securedSubRouter := s.router.PathPrefix("/connection").Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		amw.Authenticate)

	securedSubRouter.HandleFunc("", s.handleConnectionListing()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/{tenant_id}", s.handleConnectionListingByTenant()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/disconnect", s.handleDisconnect()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/ping", s.handleConnectionPing()).Methods(http.MethodPost)
}

type connectionIdentifier struct {
	ConnectionID string `json:"connection_id" validate:"required"`
}

type connectionDetails struct {
	ConnectionID  string    `json:"connection_id"`
	UserID        string    `json:"user_id"`
	Type          string    `json:"type"`
	DeviceID      string    `json:"device_id,omitempty"`
	EstablishedAt time.Time `json:"established_at"`
}

func (s *ManagementServer) handleDisconnect() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		principal, _ := middlewares.GetPrincipal(req.Context())
		logger := logger.Log.WithFields(logrus.Fields{
			"tenant": principal.GetTenant()})

		body := http.MaxBytesReader(w, req.Body, 1048576)

		var connID connectionIdentifier

		if err := decodeJSON(body, &connID); err != nil {
			errorResponse := errorResponse{Title: "Unable to process json input",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		conn := s.registry.GetConnection(domain.ConnectionID(connID.ConnectionID))
		if conn == nil {
			errMsg := fmt.Sprintf("No connection found for id (%s)", connID.ConnectionID)
			logger.Info(errMsg)
			errorResponse := errorResponse{Title: errMsg,
				Status: http.StatusBadRequest,
				Detail: errMsg}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		logger.Infof("Attempting to disconnect connection:%s", connID.ConnectionID)

		s.registry.Disconnect(req.Context(), conn.ID, "management disconnect")

		writeJSONResponse(w, http.StatusOK, struct{}{})
	}
}

func (s *ManagementServer) handleConnectionPing() http.HandlerFunc {

	type Response struct {
		Status string `json:"status"`
	}

	return func(w http.ResponseWriter, req *http.Request) {

		principal, _ := middlewares.GetPrincipal(req.Context())
		logger := logger.Log.WithFields(logrus.Fields{
			"tenant": principal.GetTenant()})

		body := http.MaxBytesReader(w, req.Body, 1048576)

		var connID connectionIdentifier

		if err := decodeJSON(body, &connID); err != nil {
			errorResponse := errorResponse{Title: "Unable to process json input",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		logger.Infof("Submitting ping for connection:%s", connID.ConnectionID)

		conn := s.registry.GetConnection(domain.ConnectionID(connID.ConnectionID))
		if conn == nil {
			writeJSONResponse(w, http.StatusOK, Response{Status: "disconnected"})
			return
		}

		if err := conn.Transport.SendPing(req.Context()); err != nil {
			errorResponse := errorResponse{Title: "Ping failed",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		writeJSONResponse(w, http.StatusOK, Response{Status: "connected"})
	}
}

func (s *ManagementServer) handleConnectionListing() http.HandlerFunc {

	type ConnectionsPerTenant struct {
		TenantID    string   `json:"tenant_id"`
		Connections []string `json:"connections"`
	}

	type Response struct {
		Connections []ConnectionsPerTenant `json:"connections"`
	}

	return func(w http.ResponseWriter, req *http.Request) {

		principal, _ := middlewares.GetPrincipal(req.Context())
		logger := logger.Log.WithFields(logrus.Fields{
			"tenant": principal.GetTenant()})

		logger.Debugf("Getting connection list")

		byTenant := make(map[domain.TenantID][]string)
		for _, conn := range s.registry.GetAllConnections() {
			byTenant[conn.TenantID] = append(byTenant[conn.TenantID], string(conn.ID))
		}

		connections := make([]ConnectionsPerTenant, 0, len(byTenant))
		for tenantID, connIDs := range byTenant {
			connections = append(connections, ConnectionsPerTenant{
				TenantID:    string(tenantID),
				Connections: connIDs,
			})
		}

		response := Response{Connections: connections}

		writeJSONResponse(w, http.StatusOK, response)
	}
}

func (s *ManagementServer) handleConnectionListingByTenant() http.HandlerFunc {

	type Response struct {
		Connections []connectionDetails `json:"connections"`
	}

	return func(w http.ResponseWriter, req *http.Request) {

		principal, _ := middlewares.GetPrincipal(req.Context())
		tenantID := mux.Vars(req)["tenant_id"]
		logger := logger.Log.WithFields(logrus.Fields{
			"tenant": principal.GetTenant()})

		logger.Debug("Getting connections for ", tenantID)

		tenantConnections := s.registry.GetConnectionsByTenant(domain.TenantID(tenantID))

		connections := make([]connectionDetails, len(tenantConnections))
		for i, conn := range tenantConnections {
			connections[i] = connectionDetails{
				ConnectionID:  string(conn.ID),
				UserID:        string(conn.UserID),
				Type:          conn.Type.String(),
				DeviceID:      string(conn.DeviceID),
				EstablishedAt: conn.EstablishedAt,
			}
		}

		response := Response{Connections: connections}

		writeJSONResponse(w, http.StatusOK, response)
	}
}
