package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/mux"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/identity"
	"github.com/orderpulse/realtime-connector/internal/middlewares"
	"github.com/orderpulse/realtime-connector/internal/offlinesync"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
)

func init() {
	logger.InitLogger()
}

type fakeSyncProcessor struct {
	batchTenant  domain.TenantID
	batchUser    domain.UserID
	batchDevice  domain.DeviceID
	batchActions []offlinesync.Action
	batchResult  *offlinesync.BatchResult
	batchErr     error

	downloadCheckpoint *time.Time
	downloadTypes      []domain.EntityType
	downloadResult     *offlinesync.DownloadResult
	downloadErr        error

	resolveConflictID string
	resolveStrategy   offlinesync.ResolutionStrategy
	resolveResult     *offlinesync.Resolution
	resolveErr        error
}

func (f *fakeSyncProcessor) BatchUpload(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, deviceID domain.DeviceID, actions []offlinesync.Action) (*offlinesync.BatchResult, error) {
	f.batchTenant = tenantID
	f.batchUser = userID
	f.batchDevice = deviceID
	f.batchActions = actions
	return f.batchResult, f.batchErr
}

func (f *fakeSyncProcessor) DownloadChanges(ctx context.Context, tenantID domain.TenantID, checkpoint *time.Time, entityTypes []domain.EntityType) (*offlinesync.DownloadResult, error) {
	f.downloadCheckpoint = checkpoint
	f.downloadTypes = entityTypes
	return f.downloadResult, f.downloadErr
}

func (f *fakeSyncProcessor) ResolveConflict(ctx context.Context, conflictID string, strategy offlinesync.ResolutionStrategy, mergedData []byte) (*offlinesync.Resolution, error) {
	f.resolveConflictID = conflictID
	f.resolveStrategy = strategy
	return f.resolveResult, f.resolveErr
}

func buildSyncServer(t *testing.T, engine SyncProcessor) *SyncServer {
	t.Helper()

	cfg := config.GetConfig()
	cfg.JwtSecret = "test-signing-secret"

	verifier, err := identity.NewTokenVerifier(identity.JwtTokenVerifier, cfg)
	if err != nil {
		t.Fatalf("unable to build the token verifier: %v", err)
	}

	bmw := &middlewares.BearerAuthMiddleware{Verifier: verifier}

	ss := NewSyncServer(engine, bmw, mux.NewRouter(), cfg)
	ss.Routes()

	return ss
}

func signSyncToken(t *testing.T, userID string, tenants []string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"tenants": tenants,
		"role":    "manager",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	signed, err := token.SignedString([]byte("test-signing-secret"))
	if err != nil {
		t.Fatalf("unable to sign the test token: %v", err)
	}

	return signed
}

func syncRequest(t *testing.T, ss *SyncServer, path string, body string, token string) *httptest.ResponseRecorder {
	t.Helper()

	req, err := http.NewRequest("POST", path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("unable to build the request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ss.router.ServeHTTP(rr, req)

	return rr
}

func TestBatchUploadSucceeds(t *testing.T) {
	engine := &fakeSyncProcessor{
		batchResult: &offlinesync.BatchResult{TotalActions: 1, Successful: 1},
	}
	ss := buildSyncServer(t, engine)

	body := `{"actions": [{"entity_type": "orders", "entity_id": "order-1", "action": "create", "data": {"status": "open"}, "client_timestamp": "2026-08-20T10:00:00Z"}]}`

	req, err := http.NewRequest("POST", "/sync/tenant-1/batch", strings.NewReader(body))
	if err != nil {
		t.Fatalf("unable to build the request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+signSyncToken(t, "user-1", []string{"tenant-1"}))
	req.Header.Set("x-orderpulse-device-id", "register-4")

	rr := httptest.NewRecorder()
	ss.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	if engine.batchTenant != "tenant-1" {
		t.Errorf("expected tenant-1, got %s", engine.batchTenant)
	}

	if engine.batchUser != "user-1" {
		t.Errorf("expected user-1, got %s", engine.batchUser)
	}

	if engine.batchDevice != "register-4" {
		t.Errorf("expected register-4, got %s", engine.batchDevice)
	}

	if len(engine.batchActions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(engine.batchActions))
	}

	var result offlinesync.BatchResult
	json.Unmarshal(rr.Body.Bytes(), &result)
	if result.Successful != 1 {
		t.Errorf("expected 1 successful action, got %d", result.Successful)
	}
}

func TestBatchUploadRequiresTenantMembership(t *testing.T) {
	engine := &fakeSyncProcessor{}
	ss := buildSyncServer(t, engine)

	body := `{"actions": [{"entity_type": "orders", "entity_id": "order-1", "action": "create", "data": {}, "client_timestamp": "2026-08-20T10:00:00Z"}]}`

	rr := syncRequest(t, ss, "/sync/tenant-1/batch", body, signSyncToken(t, "user-1", []string{"tenant-2"}))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	if engine.batchActions != nil {
		t.Errorf("expected the engine to remain uncalled")
	}
}

func TestBatchUploadRequiresToken(t *testing.T) {
	ss := buildSyncServer(t, &fakeSyncProcessor{})

	rr := syncRequest(t, ss, "/sync/tenant-1/batch", `{"actions": []}`, "")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestBatchUploadRejectsMalformedJSON(t *testing.T) {
	ss := buildSyncServer(t, &fakeSyncProcessor{})

	rr := syncRequest(t, ss, "/sync/tenant-1/batch", `{"actions": `, signSyncToken(t, "user-1", []string{"tenant-1"}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOversizedBatchMapsToEntityTooLarge(t *testing.T) {
	engine := &fakeSyncProcessor{batchErr: offlinesync.ErrBatchTooLarge}
	ss := buildSyncServer(t, engine)

	body := `{"actions": [{"entity_type": "orders", "entity_id": "order-1", "action": "create", "data": {}, "client_timestamp": "2026-08-20T10:00:00Z"}]}`

	rr := syncRequest(t, ss, "/sync/tenant-1/batch", body, signSyncToken(t, "user-1", []string{"tenant-1"}))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestDownloadChangesForwardsCheckpoint(t *testing.T) {
	engine := &fakeSyncProcessor{
		downloadResult: &offlinesync.DownloadResult{SyncTimestamp: time.Now()},
	}
	ss := buildSyncServer(t, engine)

	body := `{"checkpoint": "2026-08-25T08:00:00Z", "entity_types": ["orders", "products"]}`

	rr := syncRequest(t, ss, "/sync/tenant-1/download", body, signSyncToken(t, "user-1", []string{"tenant-1"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	if engine.downloadCheckpoint == nil {
		t.Fatal("expected a checkpoint to reach the engine")
	}

	expectedCheckpoint := time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC)
	if !engine.downloadCheckpoint.Equal(expectedCheckpoint) {
		t.Errorf("expected checkpoint %v, got %v", expectedCheckpoint, engine.downloadCheckpoint)
	}

	if len(engine.downloadTypes) != 2 || engine.downloadTypes[0] != "orders" {
		t.Errorf("unexpected entity types: %v", engine.downloadTypes)
	}
}

func TestDownloadWithoutCheckpointPassesNil(t *testing.T) {
	engine := &fakeSyncProcessor{
		downloadResult: &offlinesync.DownloadResult{SyncTimestamp: time.Now()},
	}
	ss := buildSyncServer(t, engine)

	rr := syncRequest(t, ss, "/sync/tenant-1/download", `{}`, signSyncToken(t, "user-1", []string{"tenant-1"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	if engine.downloadCheckpoint != nil {
		t.Errorf("expected no checkpoint, got %v", engine.downloadCheckpoint)
	}
}

func TestResolveConflictSucceeds(t *testing.T) {
	engine := &fakeSyncProcessor{
		resolveResult: &offlinesync.Resolution{ConflictID: "conflict-1", Status: offlinesync.StatusCompleted},
	}
	ss := buildSyncServer(t, engine)

	body := `{"conflict_id": "conflict-1", "resolution_strategy": "server_wins"}`

	rr := syncRequest(t, ss, "/sync/tenant-1/conflicts/resolve", body, signSyncToken(t, "user-1", []string{"tenant-1"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	if engine.resolveConflictID != "conflict-1" {
		t.Errorf("expected conflict-1, got %s", engine.resolveConflictID)
	}

	if engine.resolveStrategy != offlinesync.ResolveServerWins {
		t.Errorf("expected server_wins, got %s", engine.resolveStrategy)
	}
}

func TestResolveConflictErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		engineErr    error
		expectedCode int
	}{
		{"unknown conflict", offlinesync.ErrConflictNotFound, http.StatusNotFound},
		{"merge without payload", offlinesync.ErrMergePayloadRequired, http.StatusBadRequest},
		{"unknown strategy", offlinesync.ErrUnknownStrategy, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ss := buildSyncServer(t, &fakeSyncProcessor{resolveErr: tc.engineErr})

			body := `{"conflict_id": "conflict-1", "resolution_strategy": "merge"}`

			rr := syncRequest(t, ss, "/sync/tenant-1/conflicts/resolve", body, signSyncToken(t, "user-1", []string{"tenant-1"}))

			if rr.Code != tc.expectedCode {
				t.Fatalf("expected %d, got %d", tc.expectedCode, rr.Code)
			}
		})
	}
}
