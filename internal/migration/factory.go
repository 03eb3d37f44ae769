package migration

import (
	"fmt"

	"github.com/BaSui01/humanloop/config"
)

// NewMigratorFromConfig creates a migrator for the SQL sync backend.
func NewMigratorFromConfig(cfg *config.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Sync.Database)
}

// NewMigratorFromDatabaseConfig creates a migrator from database settings.
// SQLite uses Name as the file path.
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	sslMode := dbCfg.SSLMode
	if dbType != DatabaseTypePostgres {
		sslMode = ""
	}
	url := BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, sslMode)

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
		TableName:    DefaultTable,
	})
}

// NewMigratorFromURL creates a migrator from a raw driver URL.
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL, TableName: DefaultTable})
}
