package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-capture-api/internal/config"
	"github.com/JakeFAU/lead-capture-api/internal/gateway"
	"github.com/JakeFAU/lead-capture-api/internal/intake"
	"github.com/JakeFAU/lead-capture-api/internal/lead"
)

func TestServer_Heartbeat(t *testing.T) {
	t.Parallel()

	// A broken gateway must not matter to the heartbeat.
	server := newTestServer(&gateway.Handle{Err: errors.New("dial tcp: connection refused")})
	rec := serve(server, http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","service":"PaladiuAI Backend","version":"1.0.0"}`, rec.Body.String())
}

func TestServer_CreateLead_StoredInDatabase(t *testing.T) {
	t.Parallel()

	gw := new(gateway.MockGateway)
	gw.On("CreateDocument", mock.Anything, "lead", mock.Anything).Return("doc-123", nil).Once()
	server := newTestServer(&gateway.Handle{Gateway: gw, Driver: "postgres"})

	rec := serve(server, http.MethodPost, "/lead", `{"name":"Jo","email":"jo@x.com"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true,"id":"doc-123","stored":"database"}`, rec.Body.String())
	gw.AssertExpectations(t)
}

func TestServer_CreateLead_PayloadForwarded(t *testing.T) {
	t.Parallel()

	gw := new(gateway.MockGateway)
	gw.On("CreateDocument", mock.Anything, "lead", map[string]any{
		"name":         "Jordan",
		"email":        "jordan@example.com",
		"company":      "Acme",
		"project_type": nil,
		"message":      "Need a site",
		"source":       nil,
	}).Return("doc-9", nil).Once()
	server := newTestServer(&gateway.Handle{Gateway: gw})

	body := `{"name":"Jordan","email":"jordan@example.com","company":"Acme","message":"Need a site","source":null,"extra":1}`
	rec := serve(server, http.MethodPost, "/lead", body)

	require.Equal(t, http.StatusOK, rec.Code)
	gw.AssertExpectations(t)
}

func TestServer_CreateLead_GatewayFailureFallsBackToMemory(t *testing.T) {
	t.Parallel()

	gw := new(gateway.MockGateway)
	gw.On("CreateDocument", mock.Anything, "lead", mock.Anything).
		Return("", errors.New("connection refused")).Once()
	server := newTestServer(&gateway.Handle{Gateway: gw})

	rec := serve(server, http.MethodPost, "/lead", `{"name":"Jo","email":"jo@x.com"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["ok"])
	require.Contains(t, resp, "id")
	require.Nil(t, resp["id"])
	require.Equal(t, "memory", resp["stored"])
	require.Contains(t, resp["note"], "connection refused")
	require.True(t, strings.HasPrefix(resp["note"].(string), "DB unavailable: "))
	gw.AssertNumberOfCalls(t, "CreateDocument", 1)
}

func TestServer_CreateLead_NoGatewayFallsBackToMemory(t *testing.T) {
	t.Parallel()

	for name, handle := range map[string]*gateway.Handle{
		"not wired":      nil,
		"not configured": {Err: gateway.ErrNotConfigured},
		"init failed":    {Err: errors.New("open redis gateway: parse redis url: invalid")},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec := serve(newTestServer(handle), http.MethodPost, "/lead", `{"name":"Jo","email":"jo@x.com"}`)
			require.Equal(t, http.StatusOK, rec.Code)
			require.Contains(t, rec.Body.String(), `"stored":"memory"`)
			require.Contains(t, rec.Body.String(), `"id":null`)
		})
	}
}

func TestServer_CreateLead_NoteTruncated(t *testing.T) {
	t.Parallel()

	gw := new(gateway.MockGateway)
	gw.On("CreateDocument", mock.Anything, "lead", mock.Anything).
		Return("", errors.New(strings.Repeat("é", 200))).Once()
	server := newTestServer(&gateway.Handle{Gateway: gw})

	rec := serve(server, http.MethodPost, "/lead", `{"name":"Jo","email":"jo@x.com"}`)

	var resp intake.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "DB unavailable: "+strings.Repeat("é", 80), resp.Note)
}

func TestServer_CreateLead_ValidationFailure(t *testing.T) {
	t.Parallel()

	gw := new(gateway.MockGateway)
	server := newTestServer(&gateway.Handle{Gateway: gw})

	rec := serve(server, http.MethodPost, "/lead", `{"name":"J","email":"not-an-email"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp validationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.OK)
	require.Equal(t, "validation failed", resp.Error)
	require.Len(t, resp.Fields, 2)
	require.Equal(t, "name", resp.Fields[0].Field)
	require.Equal(t, "too_short", string(resp.Fields[0].Constraint))
	require.Equal(t, "email", resp.Fields[1].Field)
	require.Equal(t, "invalid_email", string(resp.Fields[1].Constraint))
	gw.AssertNotCalled(t, "CreateDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestServer_CreateLead_BadBodies(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil)
	cases := map[string]struct {
		body   string
		fields []string
	}{
		"empty body":      {body: "", fields: []string{"body"}},
		"not json":        {body: "{invalid", fields: []string{"body"}},
		"array":           {body: `[1,2]`, fields: []string{"body"}},
		"missing fields":  {body: `{}`, fields: []string{"name", "email"}},
		"wrong types":     {body: `{"name":42,"email":"jo@x.com","company":true}`, fields: []string{"name", "company"}},
		"message too big": {body: fmt.Sprintf(`{"name":"Jo","email":"jo@x.com","message":%q}`, strings.Repeat("m", 2001)), fields: []string{"message"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec := serve(server, http.MethodPost, "/lead", tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			var resp validationResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			got := make([]string, 0, len(resp.Fields))
			for _, f := range resp.Fields {
				got = append(got, f.Field)
			}
			require.Equal(t, tc.fields, got)
		})
	}
}

func TestServer_CreateLead_OversizedBody(t *testing.T) {
	t.Parallel()

	gw := new(gateway.MockGateway)
	server := newTestServer(&gateway.Handle{Gateway: gw})
	body := fmt.Sprintf(`{"name":"Jo","email":"jo@x.com","message":%q}`, strings.Repeat("m", maxLeadBodyBytes))

	rec := serve(server, http.MethodPost, "/lead", body)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp validationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Fields, 1)
	require.Equal(t, "body", resp.Fields[0].Field)
	require.Equal(t, "too_long", string(resp.Fields[0].Constraint))
	gw.AssertNotCalled(t, "CreateDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestServer_CreateLead_TrailingDataRejected(t *testing.T) {
	t.Parallel()

	gw := new(gateway.MockGateway)
	server := newTestServer(&gateway.Handle{Gateway: gw})

	rec := serve(server, http.MethodPost, "/lead", `{"name":"Jo","email":"jo@x.com"} {"name":"X"} garbage`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), `"constraint":"invalid_json"`)
	gw.AssertNotCalled(t, "CreateDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestServer_Diagnostic(t *testing.T) {
	t.Parallel()

	listed := make([]string, 12)
	for i := range listed {
		listed[i] = fmt.Sprintf("c%02d", i)
	}
	okGW := new(gateway.MockGateway)
	okGW.On("ListCollectionNames", mock.Anything).Return(listed, nil)
	failGW := new(gateway.MockGateway)
	failGW.On("ListCollectionNames", mock.Anything).Return(nil, errors.New("auth failed"))
	panicGW := new(gateway.MockGateway)
	panicGW.On("ListCollectionNames", mock.Anything).Panic("boom")

	tests := []struct {
		name        string
		handle      *gateway.Handle
		status      gateway.Status
		connection  string
		collections int
	}{
		{name: "not wired", handle: nil, status: gateway.StatusNotAvailable, connection: "not connected"},
		{name: "no url", handle: &gateway.Handle{Err: gateway.ErrNotConfigured}, status: gateway.StatusAvailableNotInitialized, connection: "not connected"},
		{name: "unknown driver", handle: &gateway.Handle{Err: fmt.Errorf("%w: %q", gateway.ErrDriverNotFound, "mongodb")}, status: gateway.StatusModuleNotFound, connection: "not connected"},
		{name: "init error", handle: &gateway.Handle{Err: errors.New("bad dsn")}, status: gateway.StatusError, connection: "not connected"},
		{name: "connected", handle: &gateway.Handle{Gateway: okGW}, status: gateway.StatusConnected, connection: "connected", collections: 10},
		{name: "listing fails", handle: &gateway.Handle{Gateway: failGW}, status: gateway.StatusConnectedWithError, connection: "connected"},
		{name: "panicking gateway", handle: &gateway.Handle{Gateway: panicGW}, status: gateway.StatusError, connection: "connected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(newTestServer(tt.handle), http.MethodGet, "/test", "")
			require.Equal(t, http.StatusOK, rec.Code)

			var rep gateway.Report
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
			require.Equal(t, "running", rep.Backend)
			require.Equal(t, tt.status, rep.Database)
			require.Equal(t, tt.connection, rep.ConnectionStatus)
			require.Len(t, rep.Collections, tt.collections)
			require.True(t, rep.DatabaseURLConfigured)
			require.False(t, rep.DatabaseNameConfigured)
		})
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodOptions, "/lead", nil)
	req.Header.Set("Origin", "https://paladiu.ai")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Custom")
	rec := httptest.NewRecorder()
	newTestServer(nil).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://paladiu.ai", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	require.Equal(t, "content-type, x-custom", strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")))
}

func TestServer_CORSSimpleRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	newTestServer(nil).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil)
	serve(server, http.MethodPost, "/lead", `{"name":"Jo","email":"jo@x.com"}`)
	rec := serve(server, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `leads_recorded_total{stored="memory"}`)
}

func TestServer_MetricsDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Metrics.Enabled = false
	server := NewServer(cfg, nil, intake.NewRecorder(nil, nil, zap.NewNop()), zap.NewNop())

	rec := serve(server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	server := NewServer(testConfig(), nil, panickingRecorder{}, zap.NewNop())
	rec := serve(server, http.MethodPost, "/lead", `{"name":"Jo","email":"jo@x.com"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(nil), http.MethodGet, "/", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type panickingRecorder struct{}

func (panickingRecorder) Record(_ context.Context, _ lead.Lead) intake.Outcome {
	panic("recorder exploded")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 8000},
		Service:  config.ServiceConfig{Name: "PaladiuAI Backend", Version: "1.0.0"},
		Database: config.DatabaseConfig{URL: "postgres://localhost:5432/leads"},
		Metrics:  config.MetricsConfig{Enabled: true},
	}
}

func newTestServer(handle *gateway.Handle) *Server {
	return NewServer(testConfig(), handle, intake.NewRecorder(handle, nil, zap.NewNop()), zap.NewNop())
}

func serve(server *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}
