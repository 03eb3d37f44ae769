package migration

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/BaSui01/humanloop/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"postgresql", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"POSTGRES", DatabaseTypePostgres, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestBuildDatabaseURL(t *testing.T) {
	assert.Equal(t,
		"postgres://u:p@db:5432/hl?sslmode=require",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "hl", "u", "p", ""))
	assert.Equal(t,
		"postgres://u:p@db:5432/hl?sslmode=disable",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "hl", "u", "p", "disable"))
	assert.Equal(t,
		"u:p@tcp(db:3306)/hl?parseTime=true&multiStatements=true",
		BuildDatabaseURL(DatabaseTypeMySQL, "db", 3306, "hl", "u", "p", ""))
	assert.Equal(t, "/tmp/hl.db", BuildDatabaseURL(DatabaseTypeSQLite, "", 0, "/tmp/hl.db", "", "", ""))
	assert.Empty(t, BuildDatabaseURL("oracle", "", 0, "", "", "", ""))
}

func TestMigrationsDir(t *testing.T) {
	assert.Equal(t, "migrations/postgres", MigrationsDir(DatabaseTypePostgres))
	assert.Equal(t, "migrations/sqlite", MigrationsDir(DatabaseTypeSQLite))
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.ErrorContains(t, err, "database URL is required")

	_, err = NewMigrator(&Config{DatabaseType: "oracle", DatabaseURL: "x"})
	assert.ErrorContains(t, err, "unsupported database type")
}

func newSQLiteMigrator(t *testing.T) (*DefaultMigrator, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "humanloop.db")
	m, err := NewMigratorFromDatabaseConfig(config.DatabaseConfig{Driver: "sqlite", Name: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, dbPath
}

func TestMigrator_SQLite_UpDown(t *testing.T) {
	m, dbPath := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	// 重复执行无副作用
	require.NoError(t, m.Up(ctx))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), info.CurrentVersion)
	assert.Equal(t, info.TotalMigrations, info.AppliedMigrations)
	assert.Zero(t, info.PendingMigrations)

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('humanloop_tasks','humanloop_requests')`,
	).Scan(&n))
	assert.Equal(t, 2, n)

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestMigrator_Status(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx := context.Background()

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	assert.Equal(t, "create_humanloop_tables", statuses[0].Name)
	assert.False(t, statuses[0].Applied)

	for i := 1; i < len(statuses); i++ {
		assert.Greater(t, statuses[i].Version, statuses[i-1].Version)
	}
}

func TestCLI_Output(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	cli := NewCLI(m)
	var buf bytes.Buffer
	cli.SetOutput(&buf)
	ctx := context.Background()

	require.NoError(t, cli.RunVersion(ctx))
	assert.Contains(t, buf.String(), "No migrations applied yet")

	buf.Reset()
	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, buf.String(), "Current version: 1")

	buf.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	assert.Contains(t, buf.String(), "create_humanloop_tables")
	assert.Contains(t, buf.String(), "Applied: 1, Pending: 0")
}
