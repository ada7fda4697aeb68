package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "school_activities.db", cfg.Database.URL)
	require.Equal(t, DriverSQLite, cfg.Database.Driver())
	require.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, int32(20), cfg.Database.MaxConns)
	require.Equal(t, uint(5), cfg.Database.ConnectAttempts)
	require.Empty(t, cfg.Telemetry.Endpoint)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/activities")
	t.Setenv("HTTP_READ_TIMEOUT", "3s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9000", cfg.Server.Port)
	require.Equal(t, DriverPostgres, cfg.Database.Driver())
	require.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_MAX_CONNS", "0")
	t.Setenv("LOG_LEVEL", "loud")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "DB_MAX_CONNS")
	require.Contains(t, err.Error(), "LOG_LEVEL")
}

func TestDatabaseDriverAndPath(t *testing.T) {
	tests := []struct {
		url    string
		driver Driver
		path   string
	}{
		{url: "postgresql://localhost/db", driver: DriverPostgres},
		{url: "POSTGRES://localhost/db", driver: DriverPostgres},
		{url: "school_activities.db", driver: DriverSQLite, path: "school_activities.db"},
		{url: "sqlite:///./data/app.db", driver: DriverSQLite, path: "./data/app.db"},
		{url: ":memory:", driver: DriverSQLite, path: ":memory:"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			db := DatabaseConfig{URL: tt.url}
			require.Equal(t, tt.driver, db.Driver())
			if tt.driver == DriverSQLite {
				require.Equal(t, tt.path, db.SQLitePath())
			}
		})
	}
}
