package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where `cmd/migrate create` writes new files.
const DefaultDir = "pkg/migrate/migrations"

const embeddedDir = "migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations exposes the SQL files compiled into the binary.
func Migrations() fs.FS {
	return embedded
}

// Runner applies goose commands against a Postgres database. Files are read
// from the embedded set unless Dir points at a directory on disk.
type Runner struct {
	DB  *sql.DB
	Dir string
}

func (r Runner) prepare() (string, error) {
	if r.DB == nil {
		return "", fmt.Errorf("db is required")
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return "", fmt.Errorf("set goose dialect: %w", err)
	}
	if r.Dir != "" {
		goose.SetBaseFS(nil)
		return r.Dir, nil
	}
	goose.SetBaseFS(embedded)
	return embeddedDir, nil
}

// Run executes a goose command such as up, down, status or redo.
func (r Runner) Run(ctx context.Context, command string, args ...string) error {
	dir, err := r.prepare()
	if err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, r.DB, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateTo moves the schema up or down to the given YYYYMMDDHHMMSS version.
func (r Runner) MigrateTo(ctx context.Context, targetVersion string) error {
	if targetVersion == "" {
		return fmt.Errorf("targetVersion is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	dir, err := r.prepare()
	if err != nil {
		return err
	}
	current, err := goose.GetDBVersionContext(ctx, r.DB)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil
	case current < target:
		if err := goose.UpToContext(ctx, r.DB, dir, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
	default:
		if err := goose.DownToContext(ctx, r.DB, dir, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	return nil
}
