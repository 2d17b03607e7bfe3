package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getHealth(t *testing.T, f *serverFixture) (int, *HealthResponse) {
	t.Helper()
	rec := doRequest(t, f.router(), http.MethodGet, "/health", nil, nil)
	var res HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return rec.Code, &res
}

func TestHealthHealthy(t *testing.T) {
	f := newServerFixture()

	code, res := getHealth(t, f)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, healthStatusHealthy, res.Status)
	assert.NotEmpty(t, res.Version)
	assert.Equal(t, healthStatusHealthy, res.Checks["worker_pool"].Status)
}

func TestHealthPoolDegraded(t *testing.T) {
	f := newServerFixture()
	f.pool.health.IsHealthy = false
	f.pool.health.DBError = "connection refused"

	code, res := getHealth(t, f)

	// A sick pool degrades but never fails the probe; restarting the
	// pod would not fix the database.
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, healthStatusDegraded, res.Status)
	assert.Equal(t, "connection refused", res.Checks["worker_pool"].Message)
}

func TestHealthRedis(t *testing.T) {
	f := newServerFixture()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s := NewServer(Deps{
		Env:   f.env,
		Redis: rdb,
		Pool:  f.pool,
	})

	rec := doRequest(t, s.Router(), http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, healthStatusHealthy, res.Checks["redis"].Status)

	mr.SetError("LOADING Redis is loading the dataset in memory")
	rec = doRequest(t, s.Router(), http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, healthStatusDegraded, res.Status)
	assert.Equal(t, healthStatusDegraded, res.Checks["redis"].Status)
}
