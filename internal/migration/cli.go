package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI renders migrator operations for the `humanloop migrate` command.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI creates a CLI writing to stdout.
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput sets the output writer for CLI messages
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// run prints what is about to happen, performs op and reports the resulting
// schema version.
func (c *CLI) run(ctx context.Context, announce, failure, done string, op func(context.Context) error) error {
	fmt.Fprintln(c.output, announce)
	if err := op(ctx); err != nil {
		return fmt.Errorf("%s: %w", failure, err)
	}
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "%s Current version: %d\n", done, info.CurrentVersion)
	return nil
}

// RunUp applies every pending sync-schema migration.
func (c *CLI) RunUp(ctx context.Context) error {
	return c.run(ctx, "Applying sync schema migrations...", "migration failed", "Migrations complete.", c.migrator.Up)
}

// RunDown rolls back the last migration.
func (c *CLI) RunDown(ctx context.Context) error {
	return c.run(ctx, "Rolling back last migration...", "rollback failed", "Rollback complete.", c.migrator.Down)
}

// RunDownAll drops the whole sync schema. Snapshot tables are lost.
func (c *CLI) RunDownAll(ctx context.Context) error {
	return c.run(ctx, "Rolling back all migrations...", "rollback failed", "All migrations rolled back.", c.migrator.DownAll)
}

// RunSteps applies n migrations, or rolls back -n when negative.
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	announce := fmt.Sprintf("Applying %d migration(s)...", n)
	if n < 0 {
		announce = fmt.Sprintf("Rolling back %d migration(s)...", -n)
	}
	return c.run(ctx, announce, "migration steps failed", "Complete.", func(ctx context.Context) error {
		return c.migrator.Steps(ctx, n)
	})
}

// RunGoto migrates to version.
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.run(ctx, fmt.Sprintf("Migrating to version %d...", version), "migration failed", "Migration complete.",
		func(ctx context.Context) error { return c.migrator.Goto(ctx, version) })
}

// RunForce sets the recorded version without running migrations. Used to
// clear a dirty state after a manual fix.
func (c *CLI) RunForce(ctx context.Context, version int) error {
	return c.run(ctx, fmt.Sprintf("Forcing version to %d...", version), "force failed", "Version forced.",
		func(ctx context.Context) error { return c.migrator.Force(ctx, version) })
}

// RunVersion shows the current migration version
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
		return nil
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	fmt.Fprintf(c.output, "Current version: %d%s\n", version, suffix)
	return nil
}

// RunStatus prints one row per migration followed by totals.
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		state := "Pending"
		switch {
		case s.Dirty:
			state = "Dirty"
		case s.Applied:
			state = "Applied"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	_ = w.Flush()

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return nil
}

// RunInfo shows detailed migration information
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}
	fmt.Fprintf(c.output, "Sync schema\n  version: %d (dirty: %v)\n  migrations: %d total, %d applied, %d pending\n",
		info.CurrentVersion, info.Dirty, info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return nil
}
