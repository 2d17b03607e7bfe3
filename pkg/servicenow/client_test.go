package servicenow

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseops/casepilot/pkg/backoff"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

// newTestClient points a client at the test server with fast retries.
func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL: server.URL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	client.retry = backoff.Config{BasePeriod: time.Millisecond, MaxPeriod: 2 * time.Millisecond, Multiplier: 2.0}
	return client
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "bearer", cfg: Config{BaseURL: "https://sn.example", Token: "t"}},
		{name: "basic", cfg: Config{BaseURL: "https://sn.example", Username: "u", Password: "p"}},
		{name: "no base url", cfg: Config{Token: "t"}, wantErr: "SERVICENOW_BASE_URL"},
		{name: "no credentials", cfg: Config{BaseURL: "https://sn.example"}, wantErr: "SERVICENOW_TOKEN"},
		{name: "username without password", cfg: Config{BaseURL: "https://sn.example", Username: "u"}, wantErr: "SERVICENOW_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClient_BearerAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"result": {"sys_id": "abc", "number": "SCS0001"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.GetCase(t.Context(), "abc")

	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestClient_BasicAuthFallback(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
		_, _ = w.Write([]byte(`{"result": {"sys_id": "abc"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, Username: "svc", Password: "hunter2"})
	require.NoError(t, err)

	_, err = client.GetCase(t.Context(), "abc")
	require.NoError(t, err)
	require.True(t, gotOK)
	assert.Equal(t, "svc", gotUser)
	assert.Equal(t, "hunter2", gotPass)
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"result": {"sys_id": "abc", "number": "SCS0001"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	kase, err := client.GetCase(t.Context(), "abc")

	require.NoError(t, err)
	assert.Equal(t, "SCS0001", kase.Number)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_AuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.GetCase(t.Context(), "abc")

	require.Error(t, err)
	assert.Equal(t, taxonomy.KindAuth, taxonomy.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_NotFoundNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.GetCase(t.Context(), "missing")

	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server)

	// Three failed attempts inside one call trip the breaker.
	_, err := client.GetCase(t.Context(), "abc")
	require.Error(t, err)
	assert.Equal(t, taxonomy.KindTransient, taxonomy.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())

	// Next call fails fast without touching the server.
	_, err = client.GetCase(t.Context(), "abc")
	require.Error(t, err)
	assert.Equal(t, taxonomy.KindDependencyDisabled, taxonomy.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DecodeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.GetCase(t.Context(), "abc")

	require.Error(t, err)
	assert.Equal(t, taxonomy.KindValidation, taxonomy.KindOf(err))
}

func TestClient_ValidationErrorPayloadTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		for range 50 {
			_, _ = w.Write([]byte("0123456789"))
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.GetCase(t.Context(), "abc")

	require.Error(t, err)
	assert.Equal(t, taxonomy.KindValidation, taxonomy.KindOf(err))
	assert.Less(t, len(err.Error()), 300)
}

func respondJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}
