package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/middlewares"
	"github.com/orderpulse/realtime-connector/internal/offlinesync"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
)

// maxSyncBodyBytes bounds a batch upload request body.  Individual message
// frames on the websocket side have their own caps.
const maxSyncBodyBytes = 4 * 1024 * 1024

// SyncProcessor is the engine contract the HTTP surface depends on.
type SyncProcessor interface {
	BatchUpload(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, deviceID domain.DeviceID, actions []offlinesync.Action) (*offlinesync.BatchResult, error)
	DownloadChanges(ctx context.Context, tenantID domain.TenantID, checkpoint *time.Time, entityTypes []domain.EntityType) (*offlinesync.DownloadResult, error)
	ResolveConflict(ctx context.Context, conflictID string, strategy offlinesync.ResolutionStrategy, mergedData []byte) (*offlinesync.Resolution, error)
}

type SyncServer struct {
	engine   SyncProcessor
	router   *mux.Router
	config   *config.Config
	verifier *middlewares.BearerAuthMiddleware
}

func NewSyncServer(engine SyncProcessor, bmw *middlewares.BearerAuthMiddleware, r *mux.Router, cfg *config.Config) *SyncServer {
	return &SyncServer{
		engine:   engine,
		router:   r,
		config:   cfg,
		verifier: bmw,
	}
}

func (s *SyncServer) Routes() {
	mmw := &middlewares.MetricsMiddleware{}

	securedSubRouter := s.router.PathPrefix("/sync/{tenant_id}").Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		s.verifier.Authenticate)

	securedSubRouter.HandleFunc("/batch", s.handleBatchUpload()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/download", s.handleDownload()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/conflicts/resolve", s.handleResolveConflict()).Methods(http.MethodPost)
}

type batchUploadRequest struct {
	Actions []offlinesync.Action `json:"actions" validate:"required"`
}

type downloadRequest struct {
	Checkpoint  *time.Time `json:"checkpoint,omitempty"`
	EntityTypes []string   `json:"entity_types,omitempty"`
}

type resolveConflictRequest struct {
	ConflictID string `json:"conflict_id" validate:"required"`
	Strategy   string `json:"resolution_strategy" validate:"required"`
	MergedData []byte `json:"merged_data,omitempty"`
}

// requestTenant authorizes the caller for the tenant in the path.
func (s *SyncServer) requestTenant(req *http.Request) (domain.TenantID, domain.UserID, bool) {
	tenantID := domain.TenantID(mux.Vars(req)["tenant_id"])

	verifiedIdentity, ok := middlewares.GetVerifiedIdentity(req.Context())
	if !ok || !verifiedIdentity.MemberOf(tenantID) {
		return tenantID, "", false
	}

	return tenantID, verifiedIdentity.UserID, true
}

func (s *SyncServer) handleBatchUpload() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {
		tenantID, userID, authorized := s.requestTenant(req)
		if !authorized {
			writeErrorResponse(w, http.StatusForbidden, "not a member of this tenant")
			return
		}

		req.Body = http.MaxBytesReader(w, req.Body, maxSyncBodyBytes)

		var uploadRequest batchUploadRequest
		if err := decodeJSON(req.Body, &uploadRequest); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}

		deviceID := domain.DeviceID(req.Header.Get("x-orderpulse-device-id"))

		result, err := s.engine.BatchUpload(req.Context(), tenantID, userID, deviceID, uploadRequest.Actions)
		if errors.Is(err, offlinesync.ErrBatchTooLarge) {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		if err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err, "tenant_id": tenantID}).Error("Sync batch failed")
			writeErrorResponse(w, http.StatusInternalServerError, "unable to process the sync batch")
			return
		}

		writeJSONResponse(w, http.StatusOK, result)
	}
}

func (s *SyncServer) handleDownload() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {
		tenantID, _, authorized := s.requestTenant(req)
		if !authorized {
			writeErrorResponse(w, http.StatusForbidden, "not a member of this tenant")
			return
		}

		var download downloadRequest
		if err := decodeJSON(req.Body, &download); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}

		entityTypes := make([]domain.EntityType, 0, len(download.EntityTypes))
		for _, entityType := range download.EntityTypes {
			entityTypes = append(entityTypes, domain.EntityType(entityType))
		}

		result, err := s.engine.DownloadChanges(req.Context(), tenantID, download.Checkpoint, entityTypes)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSONResponse(w, http.StatusOK, result)
	}
}

func (s *SyncServer) handleResolveConflict() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {
		tenantID, _, authorized := s.requestTenant(req)
		if !authorized {
			writeErrorResponse(w, http.StatusForbidden, "not a member of this tenant")
			return
		}

		var resolve resolveConflictRequest
		if err := decodeJSON(req.Body, &resolve); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}

		resolution, err := s.engine.ResolveConflict(req.Context(), resolve.ConflictID, offlinesync.ResolutionStrategy(resolve.Strategy), resolve.MergedData)

		switch {
		case errors.Is(err, offlinesync.ErrConflictNotFound):
			writeErrorResponse(w, http.StatusNotFound, "conflict not found")
		case errors.Is(err, offlinesync.ErrMergePayloadRequired), errors.Is(err, offlinesync.ErrUnknownStrategy):
			writeErrorResponse(w, http.StatusBadRequest, err.Error())
		case err != nil:
			logger.Log.WithFields(logrus.Fields{"error": err, "tenant_id": tenantID}).Error("Conflict resolution failed")
			writeErrorResponse(w, http.StatusInternalServerError, "unable to resolve the conflict")
		default:
			writeJSONResponse(w, http.StatusOK, resolution)
		}
	}
}
