package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"
)

//go:embed migrations
var migrations embed.FS

// Schema names a directory under migrations/.
type Schema string

const (
	SchemaReservations Schema = "reservations"
	SchemaBilling      Schema = "billing"
)

// Migrate applies the .sql files of schema that are not yet recorded in
// schema_migrations, in file name order.  Each file may hold several
// statements separated by semicolons.
func Migrate(ctx context.Context, db *sql.DB, schema Schema, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    VARCHAR(128) NOT NULL PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := migrationFiles(migrations, string(schema))
	if err != nil {
		return err
	}
	for _, name := range files {
		version := string(schema) + "/" + name
		var seen int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&seen); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if seen > 0 {
			continue
		}
		body, err := fs.ReadFile(migrations, path.Join("migrations", string(schema), name))
		if err != nil {
			return err
		}
		for _, stmt := range splitStatements(string(body)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s: %w", version, err)
			}
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		log.Info("migration applied", zap.String("version", version))
	}
	return nil
}

func migrationFiles(fsys fs.FS, schema string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, path.Join("migrations", schema))
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", schema, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// splitStatements cuts a migration on semicolons that end a line.  The
// migrations never put semicolons inside string literals.
func splitStatements(body string) []string {
	var out []string
	for _, part := range strings.Split(body, ";") {
		var lines []string
		for _, l := range strings.Split(part, "\n") {
			if t := strings.TrimSpace(l); t != "" && !strings.HasPrefix(t, "--") {
				lines = append(lines, l)
			}
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
