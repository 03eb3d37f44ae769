package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite" // "sqlite" driver name
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// DefaultTable 是 golang-migrate 记录版本号的表名。
const DefaultTable = "humanloop_schema_migrations"

// DatabaseType 数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// dialect binds a database type to its database/sql driver and schema directory.
type dialect struct {
	driverName string
	dir        string
	instance   func(db *sql.DB, table string) (database.Driver, error)
}

var dialects = map[DatabaseType]dialect{
	DatabaseTypePostgres: {
		driverName: "postgres",
		dir:        "migrations/postgres",
		instance: func(db *sql.DB, table string) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
		},
	},
	DatabaseTypeMySQL: {
		driverName: "mysql",
		dir:        "migrations/mysql",
		instance: func(db *sql.DB, table string) (database.Driver, error) {
			return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
		},
	},
	DatabaseTypeSQLite: {
		driverName: "sqlite",
		dir:        "migrations/sqlite",
		instance: func(db *sql.DB, table string) (database.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
		},
	},
}

// Config 迁移配置
type Config struct {
	DatabaseType DatabaseType
	// DatabaseURL is handed to sql.Open as-is. For SQLite it is a file path or
	// a "file:" URI.
	DatabaseURL string
	TableName   string
	LockTimeout time.Duration
}

// MigrationStatus describes one schema version.
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo summarises the schema state.
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Migrator manages the task-sync schema.
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps applies n migrations forward, or rolls back -n when n is negative.
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (version uint, dirty bool, err error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// DefaultMigrator is the golang-migrate backed Migrator.
type DefaultMigrator struct {
	cfg     *Config
	dialect dialect
	db      *sql.DB
	m       *migrate.Migrate
}

// NewMigrator opens the database and prepares the embedded schema source.
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	d, ok := dialects[cfg.DatabaseType]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
	if cfg.TableName == "" {
		cfg.TableName = DefaultTable
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	db, err := sql.Open(d.driverName, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	dbDriver, err := d.instance(db, cfg.TableName)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, d.dir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(cfg.DatabaseType), dbDriver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.LockTimeout = cfg.LockTimeout

	return &DefaultMigrator{cfg: cfg, dialect: d, db: db, m: m}, nil
}

// ignoreNoChange 把 "无变更" 视为成功
func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func (dm *DefaultMigrator) Up(ctx context.Context) error {
	return ignoreNoChange(dm.m.Up())
}

func (dm *DefaultMigrator) Down(ctx context.Context) error {
	return ignoreNoChange(dm.m.Steps(-1))
}

func (dm *DefaultMigrator) DownAll(ctx context.Context) error {
	return ignoreNoChange(dm.m.Down())
}

func (dm *DefaultMigrator) Steps(ctx context.Context, n int) error {
	return ignoreNoChange(dm.m.Steps(n))
}

func (dm *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	return ignoreNoChange(dm.m.Migrate(version))
}

func (dm *DefaultMigrator) Force(ctx context.Context, version int) error {
	return dm.m.Force(version)
}

// Version returns 0 when nothing has been applied.
func (dm *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	v, dirty, err := dm.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (dm *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := dm.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := dm.available()
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		out = append(out, MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return out, nil
}

func (dm *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := dm.Status(ctx)
	if err != nil {
		return nil, err
	}
	info := &MigrationInfo{TotalMigrations: len(statuses)}
	info.CurrentVersion, info.Dirty, _ = dm.Version(ctx)
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

// Close releases the migrate instance and its database handle.
func (dm *DefaultMigrator) Close() error {
	srcErr, dbErr := dm.m.Close()
	return errors.Join(srcErr, dbErr)
}

type migrationFile struct {
	version uint
	name    string
}

// available lists embedded up-migrations sorted by version.
// 文件名格式: 000001_create_humanloop_tables.up.sql
func (dm *DefaultMigrator) available() ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, dm.dialect.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}
	var files []migrationFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		num, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			continue
		}
		files = append(files, migrationFile{version: uint(v), name: strings.TrimSuffix(rest, ".up.sql")})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// ParseDatabaseType accepts the common aliases for each dialect.
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// BuildDatabaseURL renders a driver URL from connection parts.
func BuildDatabaseURL(dbType DatabaseType, host string, port int, name, user, password, sslMode string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", user, password, host, port, name, sslMode)
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true", user, password, host, port, name)
	case DatabaseTypeSQLite:
		return name
	default:
		return ""
	}
}

// MigrationsDir returns the embedded schema directory for a dialect.
func MigrationsDir(dbType DatabaseType) string {
	return path.Join("migrations", string(dbType))
}
