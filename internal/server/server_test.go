package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tomasbasham/signed-url/internal/config"
	"github.com/tomasbasham/signed-url/internal/storage"
)

const (
	testBucket = "my-bucket"
	testAPIKey = "secret123"
	testURL    = "https://storage.googleapis.com/my-bucket/file.txt?X-Goog-Signature=abc&X-Goog-Expires=300"
)

// fakeSigner records every signing call and answers with a canned result.
type fakeSigner struct {
	mu    sync.Mutex
	calls []storage.SignRequest

	err   error
	block bool
}

func (f *fakeSigner) SignUpload(ctx context.Context, req *storage.SignRequest) (*storage.SignResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, *req)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &storage.SignResult{SignedURL: testURL, ExpiresAt: time.Now().Add(req.Expiration)}, nil
}

func (f *fakeSigner) Calls() []storage.SignRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.SignRequest(nil), f.calls...)
}

func testConfig() *config.Config {
	return &config.Config{
		Bucket: testBucket,
		APIKey: testAPIKey,
		Port:   8080,
		Instance: config.Instance{
			Name:     "local",
			Revision: "local",
			Region:   "unknown",
		},
		Provider:                 config.ProviderGCS,
		SignTimeout:              10 * time.Second,
		DefaultExpirationMinutes: 5,
		MaxExpirationMinutes:     10080,
	}
}

func newTestServer(t *testing.T, signer storage.Signer, cfg *config.Config) (*Server, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return New(zap.New(core), signer, cfg), logs
}

func get(t *testing.T, h http.Handler, target, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

// assertNotLogged fails if secret appears in any logged message or string
// field.
func assertNotLogged(t *testing.T, logs *observer.ObservedLogs, secret string) {
	t.Helper()
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, secret)
		for k, v := range entry.ContextMap() {
			if s, ok := v.(string); ok {
				assert.NotContains(t, s, secret, "field %q", k)
			}
		}
	}
}

func TestGetSignedURL(t *testing.T) {
	testCases := []struct {
		name       string
		query      string
		apiKey     string
		status     int
		detail     string
		expiration time.Duration
		object     string
	}{
		{
			name:       "default expiration",
			query:      "object_name=file.txt",
			apiKey:     testAPIKey,
			status:     http.StatusOK,
			expiration: 5 * time.Minute,
			object:     "file.txt",
		},
		{
			name:       "custom expiration",
			query:      "object_name=file.txt&exp_min=15",
			apiKey:     testAPIKey,
			status:     http.StatusOK,
			expiration: 15 * time.Minute,
			object:     "file.txt",
		},
		{
			name:       "object name passed through verbatim",
			query:      "object_name=" + url.QueryEscape("reports/2024/Q1 summary.pdf"),
			apiKey:     testAPIKey,
			status:     http.StatusOK,
			expiration: 5 * time.Minute,
			object:     "reports/2024/Q1 summary.pdf",
		},
		{
			name:   "missing api key",
			query:  "object_name=file.txt",
			status: http.StatusForbidden,
			detail: "Not authenticated",
		},
		{
			name:   "wrong api key",
			query:  "object_name=file.txt",
			apiKey: "wrong",
			status: http.StatusForbidden,
			detail: "Invalid API Key",
		},
		{
			name:   "wrong api key with empty object name",
			query:  "object_name=",
			apiKey: "wrong",
			status: http.StatusForbidden,
			detail: "Invalid API Key",
		},
		{
			name:   "empty object name",
			query:  "object_name=",
			apiKey: testAPIKey,
			status: http.StatusBadRequest,
			detail: "object_name required",
		},
		{
			name:   "missing object name",
			apiKey: testAPIKey,
			status: http.StatusBadRequest,
			detail: "object_name required",
		},
		{
			name:   "non-numeric expiration",
			query:  "object_name=file.txt&exp_min=soon",
			apiKey: testAPIKey,
			status: http.StatusBadRequest,
			detail: "exp_min must be an integer between 1 and 10080",
		},
		{
			name:   "zero expiration",
			query:  "object_name=file.txt&exp_min=0",
			apiKey: testAPIKey,
			status: http.StatusBadRequest,
			detail: "exp_min must be an integer between 1 and 10080",
		},
		{
			name:   "expiration beyond maximum",
			query:  "object_name=file.txt&exp_min=10081",
			apiKey: testAPIKey,
			status: http.StatusBadRequest,
			detail: "exp_min must be an integer between 1 and 10080",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			signer := &fakeSigner{}
			srv, _ := newTestServer(t, signer, testConfig())

			rr := get(t, srv, "/get_signed_url?"+tc.query, tc.apiKey)
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			body := decode(t, rr)
			calls := signer.Calls()

			if tc.status != http.StatusOK {
				assert.Equal(t, tc.detail, body["detail"])
				assert.Empty(t, calls, "signer must not be called")
				return
			}

			assert.Equal(t, testURL, body["signed_url"])
			require.Len(t, calls, 1)
			assert.Equal(t, storage.SignRequest{
				Bucket:     testBucket,
				ObjectName: tc.object,
				Expiration: tc.expiration,
			}, calls[0])
		})
	}
}

func TestGetSignedURLSignerFailure(t *testing.T) {
	signer := &fakeSigner{err: storage.Error.New("permission denied on bucket")}
	srv, logs := newTestServer(t, signer, testConfig())

	rr := get(t, srv, "/get_signed_url?object_name=file.txt", testAPIKey)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, decode(t, rr)["detail"], "permission denied on bucket")
	assert.Len(t, signer.Calls(), 1)

	entries := logs.FilterMessage("failed to generate signed URL").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, testBucket, fields["bucket"])
	assert.Equal(t, "file.txt", fields["object_name"])
	assert.Contains(t, fields["error"], "permission denied on bucket")

	assertNotLogged(t, logs, testAPIKey)
}

func TestGetSignedURLTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SignTimeout = 20 * time.Millisecond

	signer := &fakeSigner{block: true}
	srv, _ := newTestServer(t, signer, cfg)

	rr := get(t, srv, "/get_signed_url?object_name=file.txt", testAPIKey)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, decode(t, rr)["detail"], context.DeadlineExceeded.Error())
}

func TestGetSignedURLLogsRequest(t *testing.T) {
	srv, logs := newTestServer(t, &fakeSigner{}, testConfig())

	rr := get(t, srv, "/get_signed_url?object_name=file.txt&exp_min=7", testAPIKey)
	require.Equal(t, http.StatusOK, rr.Code)

	entries := logs.FilterMessage("generating signed URL").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, testBucket, fields["bucket"])
	assert.Equal(t, "file.txt", fields["object_name"])
	assert.Equal(t, 7*time.Minute, fields["expiration"])

	assertNotLogged(t, logs, testURL)
	assertNotLogged(t, logs, testAPIKey)
}

func TestHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Instance = config.Instance{Name: "signer", Revision: "signer-00042-abc", Region: "europe-west2"}

	for _, apiKey := range []string{"", "wrong", testAPIKey} {
		srv, _ := newTestServer(t, &fakeSigner{}, cfg)

		rr := get(t, srv, "/health", apiKey)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, map[string]string{
			"status":   "healthy",
			"instance": "signer",
			"revision": "signer-00042-abc",
			"region":   "europe-west2",
		}, decode(t, rr))
	}
}

func TestUnknownRoutes(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSigner{}, testConfig())

	rr := get(t, srv, "/nope", testAPIKey)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/get_signed_url?object_name=file.txt", nil)
	req.Header.Set(APIKeyHeader, testAPIKey)
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.CORSAllowedOrigins = []string{"https://app.example.com"}
	srv, _ := newTestServer(t, &fakeSigner{}, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/get_signed_url", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", APIKeyHeader)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestServe(t *testing.T) {
	srv, logs := newTestServer(t, &fakeSigner{}, testConfig())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ctx, lis)
	}()

	resp, err := http.Get("http://" + lis.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	assert.Equal(t, 1, logs.FilterMessage("shutting down").Len())
}

func TestRunInvalidAddress(t *testing.T) {
	srv, _ := newTestServer(t, &fakeSigner{}, testConfig())

	err := srv.Run(context.Background(), "not-an-address")
	require.Error(t, err)
	assert.True(t, Error.Has(err))
}
