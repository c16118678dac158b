package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudflux/orchestrator/internal/auth"
	"github.com/cloudflux/orchestrator/internal/catalog"
	"github.com/cloudflux/orchestrator/internal/classifier"
	"github.com/cloudflux/orchestrator/internal/costmodel"
	"github.com/cloudflux/orchestrator/internal/eventbus"
	"github.com/cloudflux/orchestrator/internal/migration"
	"github.com/cloudflux/orchestrator/internal/predictor"
	"github.com/cloudflux/orchestrator/internal/provider"
	"github.com/cloudflux/orchestrator/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	server   *Server
	auth     *auth.Service
	catalog  *catalog.Catalog
	engine   *migration.Engine
	adapters map[types.Provider]provider.Adapter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := discardLogger()

	authSvc := auth.New(logger, auth.NewMemoryStore(), []byte("test-key"))
	cat := catalog.New(logger)
	clf := classifier.New(logger, costmodel.DefaultModel(), predictor.New(logger), classifier.Config{MinSavingsThreshold: 1.0})
	bus := eventbus.New(logger, eventbus.Config{})

	awsAdapter := provider.NewMockAdapter(types.ProviderAWS, provider.TierClasses{types.TierHot: "STANDARD"})
	gcpAdapter := provider.NewMockAdapter(types.ProviderGCP, provider.TierClasses{types.TierHot: "STANDARD"})
	adapters := map[types.Provider]provider.Adapter{
		types.ProviderAWS: awsAdapter,
		types.ProviderGCP: gcpAdapter,
	}

	engine := migration.New(logger, migration.Config{}, adapters, cat, bus, migration.NewMemoryStore())
	engine.Start()
	t.Cleanup(engine.Stop)

	srv := New(logger, DefaultConfig(), authSvc, cat, clf, costmodel.DefaultModel(), engine, bus, nil, adapters)
	return &harness{server: srv, auth: authSvc, catalog: cat, engine: engine, adapters: adapters}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, h *harness, id string, role types.Role) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/auth/register", registerRequest{PrincipalID: id, Credential: "pw", Role: role}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodPost, "/auth/login", loginRequest{PrincipalID: id, Credential: "pw"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["bearer_token"]
}

func TestRegisterAndLoginFlow(t *testing.T) {
	h := newHarness(t)
	token := registerAndLogin(t, h, "alice", types.RoleUser)
	assert.NotEmpty(t, token)
}

func TestCatalogObjectsRequiresAuth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/catalog/objects", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCatalogObjectsReturnsSeededEntries(t *testing.T) {
	h := newHarness(t)
	token := registerAndLogin(t, h, "viewer1", types.RoleViewer)

	awsAdapter := h.adapters[types.ProviderAWS].(*provider.MockAdapter)
	awsAdapter.Seed(types.ObjectRef{Provider: types.ProviderAWS, Container: "bucket", Key: "a.txt", SizeBytes: 100})
	_, err := h.catalog.Refresh(context.Background(), awsAdapter, "bucket")
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/catalog/objects", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	objects := resp["objects"].([]interface{})
	assert.Len(t, objects, 1)
}

func TestCatalogRefreshRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	userToken := registerAndLogin(t, h, "user1", types.RoleUser)

	rec := h.do(t, http.MethodPost, "/catalog/refresh?provider=AWS&container=bucket", nil, userToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := registerAndLogin(t, h, "admin1", types.RoleAdmin)
	rec = h.do(t, http.MethodPost, "/catalog/refresh?provider=AWS&container=bucket", nil, adminToken)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCreateMigrationRequiresUserRole(t *testing.T) {
	h := newHarness(t)
	viewerToken := registerAndLogin(t, h, "viewer2", types.RoleViewer)

	rec := h.do(t, http.MethodPost, "/migrations", createMigrationRequest{
		SourceProvider: types.ProviderAWS, DestProvider: types.ProviderGCP,
		SourceContainer: "bucket", DestContainer: "bucket2", FileList: []string{"a.txt"},
	}, viewerToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateMigrationSucceedsAndIsRetrievableByOwner(t *testing.T) {
	h := newHarness(t)
	userToken := registerAndLogin(t, h, "user2", types.RoleUser)

	awsAdapter := h.adapters[types.ProviderAWS].(*provider.MockAdapter)
	awsAdapter.Seed(types.ObjectRef{Provider: types.ProviderAWS, Container: "bucket", Key: "a.txt", SizeBytes: 10})

	rec := h.do(t, http.MethodPost, "/migrations", createMigrationRequest{
		SourceProvider: types.ProviderAWS, DestProvider: types.ProviderGCP,
		SourceContainer: "bucket", DestContainer: "bucket2", FileList: []string{"a.txt"},
	}, userToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	var job types.MigrationJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = h.do(t, http.MethodGet, "/migrations/"+job.JobID, nil, userToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetMigrationForbiddenForOtherOwner(t *testing.T) {
	h := newHarness(t)
	ownerToken := registerAndLogin(t, h, "owner1", types.RoleUser)
	otherToken := registerAndLogin(t, h, "other1", types.RoleUser)

	awsAdapter := h.adapters[types.ProviderAWS].(*provider.MockAdapter)
	awsAdapter.Seed(types.ObjectRef{Provider: types.ProviderAWS, Container: "bucket", Key: "a.txt", SizeBytes: 10})

	rec := h.do(t, http.MethodPost, "/migrations", createMigrationRequest{
		SourceProvider: types.ProviderAWS, DestProvider: types.ProviderGCP,
		SourceContainer: "bucket", DestContainer: "bucket2", FileList: []string{"a.txt"},
	}, ownerToken)
	require.Equal(t, http.StatusCreated, rec.Code)
	var job types.MigrationJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = h.do(t, http.MethodGet, "/migrations/"+job.JobID, nil, otherToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsRecentReturnsSnapshot(t *testing.T) {
	h := newHarness(t)
	token := registerAndLogin(t, h, "viewer3", types.RoleViewer)

	rec := h.do(t, http.MethodGet, "/events/recent", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)
}
