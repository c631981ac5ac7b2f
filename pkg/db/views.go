package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed views/*.sql
var viewsFS embed.FS

var viewNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ViewDefinition is a named, parameterless read query.
type ViewDefinition struct {
	Name string
	Body string
}

// TxBeginner starts transactions. *pgxpool.Pool and pgxmock pools satisfy it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DefaultViews returns the view definitions shipped with the binary.
func DefaultViews() ([]ViewDefinition, error) {
	return LoadViewDefinitions(viewsFS, "views")
}

// LoadViewsDir reads view definitions from a directory on disk. A missing
// directory yields no definitions.
func LoadViewsDir(dir string) ([]ViewDefinition, error) {
	return LoadViewDefinitions(os.DirFS(dir), ".")
}

// LoadViewDefinitions turns every *.sql file of dir into a view named after
// the file stem. Bodies are trimmed of surrounding whitespace and trailing
// semicolons. Definitions are returned sorted by file name.
func LoadViewDefinitions(fsys fs.FS, dir string) ([]ViewDefinition, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read views directory: %w", err)
	}

	var defs []ViewDefinition
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".sql")
		if !viewNamePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid view name %q", name)
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read view %s: %w", name, err)
		}

		body := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(string(data)), ";"))
		if body == "" {
			return nil, fmt.Errorf("view %s has an empty definition", name)
		}

		defs = append(defs, ViewDefinition{Name: name, Body: body})
	}

	return defs, nil
}

// EnsureViews drops and recreates every view in one transaction, so
// re-applying the same definitions leaves the catalog unchanged.
func EnsureViews(ctx context.Context, conn TxBeginner, defs []ViewDefinition) error {
	if len(defs) == 0 {
		return nil
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, v := range defs {
		if !viewNamePattern.MatchString(v.Name) {
			return fmt.Errorf("invalid view name %q", v.Name)
		}
		ident := pgx.Identifier{v.Name}.Sanitize()

		if _, err := tx.Exec(ctx, "DROP VIEW IF EXISTS "+ident); err != nil {
			return fmt.Errorf("failed to drop view %s: %w", v.Name, err)
		}
		if _, err := tx.Exec(ctx, "CREATE VIEW "+ident+" AS "+v.Body); err != nil {
			return fmt.Errorf("failed to create view %s: %w", v.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit views: %w", err)
	}
	return nil
}

// EnsureViews applies defs on the pool and logs the refreshed views.
func (d *DB) EnsureViews(ctx context.Context, defs []ViewDefinition) error {
	if err := EnsureViews(ctx, d.Pool, defs); err != nil {
		return err
	}

	names := make([]string, len(defs))
	for i, v := range defs {
		names[i] = v.Name
	}
	d.logger.Info("views refreshed", slog.Any("views", names))
	return nil
}
