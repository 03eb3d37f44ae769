package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BaSui01/humanloop/config"
	"github.com/BaSui01/humanloop/internal/migration"
)

// runMigrate handles the migrate command and its subcommands.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]

	// goto/force 的第一个参数是版本号
	var version int64
	switch sub {
	case "help", "-h", "--help":
		printMigrateUsage()
		return
	case "goto", "force":
		if len(rest) < 1 {
			fmt.Fprintf(os.Stderr, "Usage: humanloop migrate %s <version>\n", sub)
			os.Exit(1)
		}
		v, err := strconv.ParseInt(rest[0], 10, 32)
		if err != nil || (sub == "goto" && v < 0) {
			fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", rest[0])
			os.Exit(1)
		}
		version, rest = v, rest[1:]
	case "up", "down", "status", "version", "reset", "info":
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	all := fs.Bool("all", false, "Rollback all migrations (down only)")
	migrator, err := createMigrator(fs, rest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	ctx := context.Background()

	switch sub {
	case "up":
		err = cli.RunUp(ctx)
	case "down":
		if *all {
			err = cli.RunDownAll(ctx)
		} else {
			err = cli.RunDown(ctx)
		}
	case "reset":
		err = cli.RunDownAll(ctx)
	case "status":
		err = cli.RunStatus(ctx)
	case "version":
		err = cli.RunVersion(ctx)
	case "info":
		err = cli.RunInfo(ctx)
	case "goto":
		err = cli.RunGoto(ctx, uint(version))
	case "force":
		err = cli.RunForce(ctx, int(version))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", sub, err)
		os.Exit(1)
	}
}

// createMigrator 优先使用 --db-type/--db-url, 否则读取 sync.database 配置
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Sync.Database.Driver = *dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Sync.Database)
}

func printMigrateUsage() {
	fmt.Println(`Sync database migrations

Usage:
  humanloop migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration (--all for every migration)
  status    Show migration status
  version   Show current migration version
  info      Show migrator details
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: sync.database.driver)
  --db-url <url>      Database connection URL

Examples:
  humanloop migrate up --config /etc/humanloop/config.yaml
  humanloop migrate status --db-type sqlite --db-url "sqlite://humanloop.db"
  humanloop migrate goto 1`)
}
