package v0_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v0 "github.com/mcpdex-dev/mcpdex/internal/catalog/api/handlers/v0"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/database"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/jobs"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/orchestrator"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/sandbox"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/syncer"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/vault"
	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

const widgetID = "https://github.com/acme/widget"

func newTestMux(t *testing.T, store *database.Fake) *http.ServeMux {
	t.Helper()

	v, err := vault.New("test-operator-key")
	require.NoError(t, err)
	orch := orchestrator.New(store, v, nil, sandbox.NewSelector(), nil, nil)
	catalogSyncer := syncer.New(store, nil, nil, nil, jobs.NewManager(), nil, time.Hour)

	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("Test API", "1.0.0"))
	v0.RegisterHealthEndpoints(api, "/v0", &v0.VersionBody{Version: "test"})
	v0.RegisterServersEndpoints(api, "/v0", store)
	v0.RegisterValidationsEndpoints(api, "/v0", store, orch)
	v0.RegisterSyncEndpoints(api, "/v0", catalogSyncer)
	return mux
}

func seedWidget(t *testing.T, store *database.Fake) {
	t.Helper()
	require.NoError(t, store.UpsertMergedServer(context.Background(), &models.MergedServer{
		CanonicalID:    widgetID,
		DisplayName:    "acme/widget",
		PackageName:    "@acme/widget-server",
		RunCommand:     "npx -y @acme/widget-server",
		Stars:          500,
		RequiresConfig: true,
	}))
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServersEndpoints(t *testing.T) {
	store := database.NewFake()
	seedWidget(t, store)
	require.NoError(t, store.UpsertMergedServer(context.Background(), &models.MergedServer{
		CanonicalID: "https://github.com/other/thing",
		DisplayName: "other/thing",
	}))
	mux := newTestMux(t, store)

	w := doJSON(t, mux, http.MethodGet, "/v0/servers?search=widget", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list v0.ServerListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Servers, 1)
	assert.Equal(t, widgetID, list.Servers[0].CanonicalID)
	assert.Equal(t, 1, list.Metadata.Count)

	w = doJSON(t, mux, http.MethodGet, "/v0/servers/"+url.PathEscape(widgetID), "")
	require.Equal(t, http.StatusOK, w.Code)
	var server models.MergedServer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &server))
	assert.Equal(t, 500, server.Stars)

	w = doJSON(t, mux, http.MethodGet, "/v0/servers/"+url.PathEscape("https://github.com/no/such"), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidationLifecycleEndpoints(t *testing.T) {
	store := database.NewFake()
	seedWidget(t, store)
	mux := newTestMux(t, store)

	// Create: the candidate requires configuration, so the request parks
	// as pending.
	w := doJSON(t, mux, http.MethodPost, "/v0/validations",
		`{"canonicalId":"`+widgetID+`","requester":"alice"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.ValidationRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.StatusPending, created.Status)

	// Idempotent per target and requester.
	w = doJSON(t, mux, http.MethodPost, "/v0/validations",
		`{"canonicalId":"`+widgetID+`","requester":"alice"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var again models.ValidationRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, created.ID, again.ID)

	w = doJSON(t, mux, http.MethodGet, "/v0/validations/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, mux, http.MethodGet, "/v0/validations?requester=alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list v0.ValidationListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Requests, 1)

	// Only the requester may act on the request.
	w = doJSON(t, mux, http.MethodPut, "/v0/validations/"+created.ID+"/secrets",
		`{"requester":"mallory","secrets":{"API_KEY":"sk-1"}}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Malformed secret names are rejected up front.
	w = doJSON(t, mux, http.MethodPut, "/v0/validations/"+created.ID+"/secrets",
		`{"requester":"alice","secrets":{"not a name":"x"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, mux, http.MethodPost, "/v0/validations/"+created.ID+"/cancel",
		`{"requester":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var cancelled models.ValidationRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	// Terminal requests reject further actions.
	w = doJSON(t, mux, http.MethodPost, "/v0/validations/"+created.ID+"/cancel",
		`{"requester":"alice"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, mux, http.MethodGet, "/v0/validations/"+created.ID+"/audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	var audit v0.AuditListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &audit))
	actions := make([]string, len(audit.Entries))
	for i, entry := range audit.Entries {
		actions[i] = entry.Action
	}
	assert.Contains(t, actions, "created")
	assert.Contains(t, actions, "cancelled")
	// Secret values never reach the audit trail.
	assert.NotContains(t, w.Body.String(), "sk-1")
}

func TestWorkerResultEndpoint(t *testing.T) {
	store := database.NewFake()
	seedWidget(t, store)
	mux := newTestMux(t, store)

	w := doJSON(t, mux, http.MethodPost, "/v0/validations",
		`{"canonicalId":"`+widgetID+`","requester":"alice"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.ValidationRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, mux, http.MethodPost, "/v0/validations/"+created.ID+"/result",
		`{"actor":"worker-7","result":{"success":true,"isolated":true,"durationMs":900,"capabilities":{"tools":["echo"],"resources":[],"prompts":[]}}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var done models.ValidationRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &done))
	assert.Equal(t, models.StatusCompleted, done.Status)

	server, err := store.GetMergedServer(context.Background(), widgetID)
	require.NoError(t, err)
	assert.Equal(t, models.ConformanceVerified, server.Conformance)
}

func TestSyncEndpoints(t *testing.T) {
	store := database.NewFake()
	mux := newTestMux(t, store)

	w := doJSON(t, mux, http.MethodPost, "/v0/sync", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	require.NotEmpty(t, job.ID)

	w = doJSON(t, mux, http.MethodGet, "/v0/sync/jobs/"+string(job.ID), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, mux, http.MethodGet, "/v0/sync/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	mux := newTestMux(t, database.NewFake())

	w := doJSON(t, mux, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)

	w = doJSON(t, mux, http.MethodGet, "/v0/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"test"`)
}
