package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gacybercenter/openstack-top-graph/db/clickhouse"
	"github.com/gacybercenter/openstack-top-graph/db/ingestion"
	"github.com/gacybercenter/openstack-top-graph/decision/intrinsic"
	"github.com/gacybercenter/openstack-top-graph/decision/pipeline"
	wire "github.com/gacybercenter/openstack-top-graph/pkg/api"
	"github.com/gacybercenter/openstack-top-graph/pkg/platform"
)

const routerTemplate = `
resources:
  router:
    type: OS::Neutron::Router
  broken:
    properties: {}
`

type fakeStore struct {
	pingErr   error
	snapshots []*clickhouse.TopologySnapshot
	counts    map[string]int
	lastLimit int
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ListSnapshots(_ context.Context, limit int) ([]*clickhouse.TopologySnapshot, error) {
	f.lastLimit = limit
	return f.snapshots, nil
}

func (f *fakeStore) GetSnapshot(_ context.Context, id uuid.UUID) (*clickhouse.TopologySnapshot, error) {
	for _, s := range f.snapshots {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) KindCounts(context.Context, uuid.UUID) (map[string]int, error) {
	return f.counts, nil
}

type fakeRecorder struct {
	id    uuid.UUID
	input *ingestion.RecordInput
	err   error
}

func (f *fakeRecorder) RecordGraph(_ context.Context, in *ingestion.RecordInput) (*ingestion.RecordResult, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.RecordResult{SnapshotID: f.id}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(store SnapshotStore, recorder Recorder, cfg *Config) http.Handler {
	return NewServer(nil, store, recorder, cfg, quietLogger()).Handler()
}

func postGraph(t *testing.T, h http.Handler, req wire.GraphRequest, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/graph", bytes.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHealthAndReady(t *testing.T) {
	store := &fakeStore{}
	h := newTestServer(store, nil, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	store.pingErr = errors.New("down")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// no store configured
	w = httptest.NewRecorder()
	newTestServer(nil, nil, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGraphEndpoint(t *testing.T) {
	h := newTestServer(nil, nil, nil)
	w := postGraph(t, h, wire.GraphRequest{Template: routerTemplate, Name: "lab"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp wire.GraphResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Graph)
	assert.Equal(t, "lab", resp.Graph.Title)
	assert.Equal(t, map[string]int{"Root": 1, "Router": 1}, resp.Graph.Amounts)
	require.Len(t, resp.Graph.Links, 1)
	assert.Equal(t, "router", resp.Graph.Links[0].SourceName)

	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, "INVALID_RESOURCE", resp.Warnings[0].Code)
	assert.Equal(t, "broken", resp.Warnings[0].ResourceID)
	assert.Empty(t, resp.SnapshotID)
}

func TestGraphEndpointErrors(t *testing.T) {
	h := newTestServer(nil, nil, &Config{MaxRequestSize: 256, CORSOrigins: []string{"*"}})

	tests := []struct {
		name   string
		body   string
		method string
		status int
	}{
		{"wrong method", "", http.MethodGet, http.StatusMethodNotAllowed},
		{"bad json", "{", http.MethodPost, http.StatusBadRequest},
		{"no template", `{"name":"x"}`, http.MethodPost, http.StatusBadRequest},
		{"unparsable template", `{"template":"resources: [x"}`, http.MethodPost, http.StatusBadRequest},
		{"no resources", `{"template":"description: x"}`, http.MethodPost, http.StatusUnprocessableEntity},
		{"too large", `{"template":"` + strings.Repeat("a", 512) + `"}`, http.MethodPost, http.StatusRequestEntityTooLarge},
		{"recording not configured", `{"template":"resources: {}","record":true}`, http.MethodPost, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(tt.method, "/api/v1/graph", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var e wire.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestGraphEndpointRecords(t *testing.T) {
	rec := &fakeRecorder{id: uuid.New()}
	h := newTestServer(nil, rec, nil)

	w := postGraph(t, h, wire.GraphRequest{Template: routerTemplate, Record: true, Merge: true, StackName: "s"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp wire.GraphResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, rec.id.String(), resp.SnapshotID)

	require.NotNil(t, rec.input)
	assert.Equal(t, routerTemplate, rec.input.Template)
	assert.True(t, rec.input.Merged)
	assert.Equal(t, "s", rec.input.StackName)
	assert.Equal(t, 2, len(rec.input.Graph.Nodes))

	rec.err = errors.New("insert failed")
	w = postGraph(t, h, wire.GraphRequest{Template: routerTemplate, Record: true})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "secret"
	h := newTestServer(nil, nil, cfg)

	w := postGraph(t, h, wire.GraphRequest{Template: routerTemplate})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postGraph(t, h, wire.GraphRequest{Template: routerTemplate}, platform.APIKeyHeader, "secret")
	assert.Equal(t, http.StatusOK, w.Code)

	// health stays open
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CORSOrigins = []string{"https://ui.example.com"}
	h := newTestServer(nil, nil, cfg)

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/graph", nil)
	r.Header.Set("Origin", "https://ui.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ui.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), platform.APIKeyHeader)

	r = httptest.NewRequest(http.MethodOptions, "/api/v1/graph", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSnapshotEndpoints(t *testing.T) {
	id := uuid.New()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		snapshots: []*clickhouse.TopologySnapshot{{
			ID:           id,
			Title:        "lab",
			TemplateHash: "abc",
			NodeCount:    2,
			LinkCount:    1,
			GraphJSON:    `{"title":"lab"}`,
			CreatedAt:    created,
		}},
		counts: map[string]int{"Root": 1, "Router": 1},
	}
	h := newTestServer(store, nil, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/snapshots?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, store.lastLimit)

	var list wire.SnapshotList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Snapshots, 1)
	assert.Equal(t, id.String(), list.Snapshots[0].ID)
	assert.True(t, created.Equal(list.Snapshots[0].CreatedAt))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/snapshots?limit=100000", nil))
	assert.Equal(t, maxSnapshotLimit, store.lastLimit)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/snapshots?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/snapshots/"+id.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var detail SnapshotDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, store.counts, detail.Amounts)
	assert.JSONEq(t, `{"title":"lab"}`, string(detail.Graph))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/snapshots/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/snapshots/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	newTestServer(nil, nil, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/snapshots", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGraphEndpointConfinesGetFile(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "templates")
	require.NoError(t, os.MkdirAll(base, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("hunter2"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(base, "boot.sh"), []byte("echo boot"), 0o600))

	secret := filepath.Join(root, "secret.txt")
	tmpl := `
resources:
  server:
    type: OS::Nova::Server
    properties:
      abs: {get_file: ` + secret + `}
      rel: {get_file: ../secret.txt}
      meta: {get_file: "http://169.254.169.254/latest/meta-data"}
      boot: {get_file: boot.sh}
`
	tests := []struct {
		name     string
		schemes  []string
		boot     string
		failures int
	}{
		{"local files only", []string{"file"}, "echo boot", 3},
		{"no schemes", nil, "boot.sh", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := intrinsic.NewSchemeFetcher(nil, base, "").Allow(tt.schemes...)
			h := NewServer(pipeline.New(fetcher, quietLogger()), nil, nil, nil, quietLogger()).Handler()

			w := postGraph(t, h, wire.GraphRequest{Template: tmpl})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.NotContains(t, w.Body.String(), "hunter2")

			var resp wire.GraphResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

			var data map[string]any
			for _, n := range resp.Graph.Nodes {
				if n.Name == "server" {
					require.NoError(t, json.Unmarshal(n.Data, &data))
				}
			}
			require.NotNil(t, data)
			assert.Equal(t, secret, data["abs"])
			assert.Equal(t, "../secret.txt", data["rel"])
			assert.Equal(t, "http://169.254.169.254/latest/meta-data", data["meta"])
			assert.Equal(t, tt.boot, data["boot"])

			require.Len(t, resp.Warnings, tt.failures)
			for _, d := range resp.Warnings {
				assert.Equal(t, "FETCH_FAILED", d.Code)
				assert.Equal(t, "server", d.ResourceID)
			}
		})
	}
}
