package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/burrowdb/pkg/audit"
	"github.com/dd0wney/burrowdb/pkg/auth"
	"github.com/dd0wney/burrowdb/pkg/coldstore"
	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/fanout"
	"github.com/dd0wney/burrowdb/pkg/health"
	"github.com/dd0wney/burrowdb/pkg/metrics"
)

type testServer struct {
	*httptest.Server
	loop *engine.Loop
}

func newTestServer(t *testing.T, mutate func(*Options)) *testServer {
	t.Helper()

	cfg := engine.DefaultConfig(t.TempDir())
	cfg.Tier.MaxDocuments = 2
	cfg.MaxValueSize = 1024
	reg := metrics.NewRegistry()
	e, err := engine.Open(cfg, engine.WithColdStore(coldstore.NewMemStore()), engine.WithObserver(reg))
	require.NoError(t, err)

	loop := engine.NewLoop(e, engine.LoopOptions{})
	loop.Start()
	t.Cleanup(func() { _ = loop.Close() })

	hc := health.NewHealthChecker()
	hc.RegisterReadinessCheck("engine", health.EngineCheck(loop.Stats, 0))
	hc.RegisterLivenessCheck("process", health.SimpleCheck("process"))

	opts := Options{
		Submitter:    fanout.New(loop, reg),
		Health:       hc,
		Metrics:      reg,
		MaxValueSize: cfg.MaxValueSize,
	}
	if mutate != nil {
		mutate(&opts)
	}

	srv := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, loop: loop}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header ...string) (int, Response) {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestDocumentLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	code, resp := ts.do(t, http.MethodPut, "/v1/docs/user-1", `{"name":"ada"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, uint64(1), resp.LSN)

	code, resp = ts.do(t, http.MethodGet, "/v1/docs/user-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"name": "ada"}, resp.Value)

	code, resp = ts.do(t, http.MethodGet, "/v1/docs", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"user-1"}, resp.Value)

	code, _ = ts.do(t, http.MethodDelete, "/v1/docs/user-1", "")
	assert.Equal(t, http.StatusOK, code)

	code, resp = ts.do(t, http.MethodGet, "/v1/docs/user-1", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, StatusNotFound, resp.Status)

	code, _ = ts.do(t, http.MethodDelete, "/v1/docs/user-1", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = ts.do(t, http.MethodGet, "/v1/docs", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, resp.Value)
}

func TestColdDocumentsServedOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, k := range []string{"a", "b", "c"} {
		code, _ := ts.do(t, http.MethodPut, "/v1/docs/"+k, `"`+k+`"`)
		require.Equal(t, http.StatusOK, code)
	}

	code, resp := ts.do(t, http.MethodGet, "/v1/docs/a", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a", resp.Value)

	code, resp = ts.do(t, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, code)
	stats, ok := resp.Value.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, stats["documents"])
	assert.EqualValues(t, 2, stats["hot"])
}

func TestEscapedKeys(t *testing.T) {
	ts := newTestServer(t, nil)

	code, _ := ts.do(t, http.MethodPut, "/v1/docs/dir%2Ffile", `1`)
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodPut, "/v1/docs/100%25", `2`)
	require.Equal(t, http.StatusOK, code)

	_, resp := ts.do(t, http.MethodGet, "/v1/docs", "")
	assert.Equal(t, []any{"100%", "dir/file"}, resp.Value)
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"invalid json", "/v1/docs/k", `{not json`, http.StatusBadRequest},
		{"empty body", "/v1/docs/k", ``, http.StatusBadRequest},
		{"whitespace key", "/v1/docs/a%20b", `1`, http.StatusBadRequest},
		{"oversized", "/v1/docs/k", `"` + strings.Repeat("x", 1100) + `"`, http.StatusBadRequest},
		{"far oversized", "/v1/docs/k", `"` + strings.Repeat("x", 4096) + `"`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := ts.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, StatusError, resp.Status)
			assert.NotEmpty(t, resp.Error)
		})
	}

	code, _ := ts.do(t, http.MethodPost, "/v1/docs/k", `1`)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestSweepEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	code, resp := ts.do(t, http.MethodPost, "/v1/admin/sweep", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"demoted": float64(0)}, resp.Value)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		resp, err := ts.Client().Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	ts.do(t, http.MethodGet, "/v1/docs/missing", "")

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `burrowdb_http_requests_total{method="GET",path="/v1/docs/{key}",status="404"} 1`)
	assert.Contains(t, string(body), `burrowdb_commands_total`)
}

func TestReadinessFailsAfterClose(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.loop.Close())

	resp, err := ts.Client().Get(ts.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	code, _ := ts.do(t, http.MethodGet, "/v1/docs/a", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestBearerAuth(t *testing.T) {
	jm, err := auth.NewJWTManager("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	ts := newTestServer(t, func(o *Options) { o.Validator = jm })

	reader, err := jm.GenerateToken("dashboards", auth.RoleReader)
	require.NoError(t, err)
	writer, err := jm.GenerateToken("ingest", auth.RoleWriter)
	require.NoError(t, err)

	code, _ := ts.do(t, http.MethodPut, "/v1/docs/k", `1`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.do(t, http.MethodPut, "/v1/docs/k", `1`, "Authorization", "Bearer "+reader)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = ts.do(t, http.MethodPut, "/v1/docs/k", `1`, "Authorization", "Bearer "+writer)
	assert.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodGet, "/v1/docs/k", "", "Authorization", "Bearer "+reader)
	assert.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodPost, "/v1/admin/sweep", "", "Authorization", "Bearer "+writer)
	assert.Equal(t, http.StatusForbidden, code)

	// health stays open for probes
	resp, err := ts.Client().Get(ts.URL + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuditTrail(t *testing.T) {
	jm, err := auth.NewJWTManager("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	ring := audit.NewRing(16)
	ts := newTestServer(t, func(o *Options) {
		o.Validator = jm
		o.Audit = ring
		o.AuditLog = ring
	})

	writer, err := jm.GenerateToken("ingest", auth.RoleWriter)
	require.NoError(t, err)
	admin, err := jm.GenerateToken("ops", auth.RoleAdmin)
	require.NoError(t, err)

	code, _ := ts.do(t, http.MethodPut, "/v1/docs/a%20b", `1`)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = ts.do(t, http.MethodPut, "/v1/docs/k", `{"n":1}`, "Authorization", "Bearer "+writer)
	assert.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodGet, "/v1/docs/k", "", "Authorization", "Bearer "+writer)
	assert.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodDelete, "/v1/docs/k", "", "Authorization", "Bearer "+writer)
	assert.Equal(t, http.StatusOK, code)

	require.Equal(t, 3, ring.Len(), "reads are not audited")
	events := ring.Recent(0, audit.Filter{})
	assert.Equal(t, "DELETE", events[0].Action)
	assert.Equal(t, "ingest", events[0].Subject)
	assert.Equal(t, "writer", events[0].Role)
	assert.Equal(t, audit.StatusSuccess, events[0].Status)
	assert.NotEmpty(t, events[0].RequestID)
	assert.Equal(t, audit.StatusDenied, events[2].Status)
	assert.Equal(t, "a b", events[2].Key)
	assert.Empty(t, events[2].Subject)

	code, _ = ts.do(t, http.MethodGet, "/v1/admin/audit", "", "Authorization", "Bearer "+writer)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp := ts.do(t, http.MethodGet, "/v1/admin/audit?action=put&limit=10", "", "Authorization", "Bearer "+admin)
	require.Equal(t, http.StatusOK, code)
	list, ok := resp.Value.([]any)
	require.True(t, ok, "value is %T", resp.Value)
	assert.Len(t, list, 2)

	code, resp = ts.do(t, http.MethodGet, "/v1/admin/audit?status=denied", "", "Authorization", "Bearer "+admin)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Value, 1)

	code, _ = ts.do(t, http.MethodGet, "/v1/admin/audit?limit=lots", "", "Authorization", "Bearer "+admin)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do(t, http.MethodGet, "/v1/admin/audit?since=yesterday", "", "Authorization", "Bearer "+admin)
	assert.Equal(t, http.StatusBadRequest, code)
}

type failingSubmitter struct{ err error }

func (f failingSubmitter) Submit(context.Context, engine.Command) (engine.Reply, error) {
	return engine.Reply{}, f.err
}

func TestEngineErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		msg  string
	}{
		{engine.ErrKeyTooLarge, http.StatusBadRequest, engine.ErrKeyTooLarge.Error()},
		{engine.ErrClosed, http.StatusServiceUnavailable, engine.ErrClosed.Error()},
		{&engine.IOError{Op: "read", Key: "k", Err: errors.New("disk on fire at /var/x")}, http.StatusInternalServerError, "GET failed"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			srv := httptest.NewServer(NewServer(Options{Submitter: failingSubmitter{tt.err}}).Handler())
			defer srv.Close()
			ts := &testServer{Server: srv}

			code, resp := ts.do(t, http.MethodGet, "/v1/docs/k", "")
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.msg, resp.Error)
		})
	}
}

func TestNewServerDefaults(t *testing.T) {
	s := NewServer(Options{})
	assert.Equal(t, engine.DefaultMaxValueSize, s.maxValueSize)
	assert.NotNil(t, s.logger)
}
