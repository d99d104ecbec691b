// Command pgqueue-migrate applies or rolls back the queue's versioned
// schema migrations using golang-migrate, an alternative to the
// idempotent CREATE TABLE IF NOT EXISTS queue.InitializeDatabase
// performs at process start. Use this tool when a deployment wants
// explicit, reviewable schema changes (adding an index, a column)
// instead of relying on the core's always-current DDL. It supersedes
// an earlier hand-rolled migration runner in this codebase.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const migrationsPath = "file://cmd/pgqueue-migrate/migrations"

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: pgqueue-migrate <up|down>")
		return 1
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		fmt.Fprintf(os.Stderr, "invalid direction %q (must be \"up\" or \"down\")\n", direction)
		return 1
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL must be set")
		return 1
	}

	m, err := migrate.New(migrationsPath, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create migrate instance: %v\n", err)
		return 1
	}
	defer func() { _, _ = m.Close() }()

	if err := runMigration(m, direction); err != nil {
		fmt.Fprintf(os.Stderr, "migration %s failed: %v\n", direction, err)
		return 1
	}

	fmt.Printf("migration %s completed successfully\n", direction)
	return 0
}

func runMigration(m *migrate.Migrate, direction string) error {
	var err error
	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("no migrations to apply")
		return nil
	}
	return err
}
