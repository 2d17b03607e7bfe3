package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// integrationConnString resolves a PostgreSQL connection string for
// integration tests. Guarded by CASEPILOT_PG_INTEGRATION so unit runs
// stay Docker-free; CI provides CI_DATABASE_URL instead of a container.
func integrationConnString(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("CI_DATABASE_URL"); url != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		return url
	}
	if os.Getenv("CASEPILOT_PG_INTEGRATION") == "" {
		t.Skip("set CASEPILOT_PG_INTEGRATION=1 to run PostgreSQL integration tests")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("casepilot_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestLoadConfigFromEnv(t *testing.T) {
	envKeys := []string{
		"DATABASE_HOST", "DATABASE_PORT", "DATABASE_USER", "DATABASE_PASSWORD",
		"DATABASE_NAME", "DATABASE_SSLMODE", "DATABASE_MAX_OPEN_CONNS",
		"DATABASE_MAX_IDLE_CONNS", "DATABASE_CONN_MAX_LIFETIME", "DATABASE_CONN_MAX_IDLE_TIME",
	}

	tests := []struct {
		name        string
		envVars     map[string]string
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid config with defaults",
			envVars: map[string]string{"DATABASE_PASSWORD": "test"},
		},
		{
			name: "valid config with custom values",
			envVars: map[string]string{
				"DATABASE_HOST":           "db.example.com",
				"DATABASE_PORT":           "5433",
				"DATABASE_USER":           "admin",
				"DATABASE_PASSWORD":       "secret",
				"DATABASE_NAME":           "production",
				"DATABASE_SSLMODE":        "require",
				"DATABASE_MAX_OPEN_CONNS": "50",
				"DATABASE_MAX_IDLE_CONNS": "20",
			},
		},
		{
			name:        "invalid port",
			envVars:     map[string]string{"DATABASE_PORT": "invalid", "DATABASE_PASSWORD": "test"},
			wantErr:     true,
			errContains: "invalid DATABASE_PORT",
		},
		{
			name:        "invalid max open conns",
			envVars:     map[string]string{"DATABASE_MAX_OPEN_CONNS": "not_a_number", "DATABASE_PASSWORD": "test"},
			wantErr:     true,
			errContains: "invalid DATABASE_MAX_OPEN_CONNS",
		},
		{
			name:        "invalid lifetime duration",
			envVars:     map[string]string{"DATABASE_CONN_MAX_LIFETIME": "soon", "DATABASE_PASSWORD": "test"},
			wantErr:     true,
			errContains: "invalid DATABASE_CONN_MAX_LIFETIME",
		},
		{
			name:        "missing password",
			envVars:     map[string]string{},
			wantErr:     true,
			errContains: "DATABASE_PASSWORD is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				os.Unsetenv(key)
			}
			for key, val := range tt.envVars {
				t.Setenv(key, val)
			}

			cfg, err := LoadConfigFromEnv()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}

			require.NoError(t, err)
			if tt.name == "valid config with defaults" {
				assert.Equal(t, "localhost", cfg.Host)
				assert.Equal(t, 5432, cfg.Port)
				assert.Equal(t, "casepilot", cfg.User)
				assert.Equal(t, 25, cfg.MaxOpenConns)
				assert.Equal(t, 10, cfg.MaxIdleConns)
				assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Host:         "localhost",
		Port:         5432,
		User:         "test",
		Password:     "test",
		Database:     "test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing host", mutate: func(c *Config) { c.Host = "" }, wantErr: true},
		{name: "missing password", mutate: func(c *Config) { c.Password = "" }, wantErr: true},
		{name: "port out of range", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "zero max open conns", mutate: func(c *Config) { c.MaxOpenConns = 0 }, wantErr: true},
		{name: "idle exceeds open", mutate: func(c *Config) { c.MaxIdleConns = 20 }, wantErr: true},
		{name: "negative idle conns", mutate: func(c *Config) { c.MaxIdleConns = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{
		Host:     "db.example.com",
		Port:     5433,
		User:     "admin",
		Password: "secret",
		Database: "production",
		SSLMode:  "require",
	}
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=db.example.com")
	assert.Contains(t, dsn, "port=5433")
	assert.Contains(t, dsn, "dbname=production")
	assert.Contains(t, dsn, "sslmode=require")
}

func TestHealth(t *testing.T) {
	t.Run("healthy reports pool stats in milliseconds", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectPing()

		health, err := Health(context.Background(), db)
		require.NoError(t, err)
		assert.Equal(t, "healthy", health.Status)
		assert.GreaterOrEqual(t, health.ResponseTime, int64(0))

		// The JSON payload carries millisecond values, not nanoseconds.
		payload, err := json.Marshal(health)
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))
		responseTime, ok := decoded["response_time_ms"].(float64)
		require.True(t, ok)
		assert.Less(t, responseTime, float64(1000000))
	})

	t.Run("ping failure reports unhealthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectPing().WillReturnError(assert.AnError)

		health, err := Health(context.Background(), db)
		require.Error(t, err)
		assert.Equal(t, "unhealthy", health.Status)
	})
}

func TestMigrations_Integration(t *testing.T) {
	connStr := integrationConnString(t)
	ctx := context.Background()

	db, err := openFromURL(connStr)
	require.NoError(t, err)
	client := NewClientFromDB(db)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.SQL().PingContext(ctx))
	require.NoError(t, RunMigrations(client.SQL(), "casepilot_test"))

	// Migrations are idempotent.
	require.NoError(t, RunMigrations(client.SQL(), "casepilot_test"))

	// Every table from the initial schema exists.
	for _, table := range []string{
		"quality_gates", "clarification_sessions", "escalations", "exemplars",
		"audit_entries", "jobs", "project_configs", "client_settings", "queue_snapshots",
	} {
		var exists bool
		err := client.SQL().QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
			table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}

	// The partial unique index guards active escalations.
	var indexExists bool
	err = client.SQL().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'escalations_active_case_number_idx')`).
		Scan(&indexExists)
	require.NoError(t, err)
	assert.True(t, indexExists)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}
