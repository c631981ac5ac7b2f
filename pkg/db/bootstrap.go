package db

import (
	"context"
	"fmt"
)

// ResolveViews returns the definitions in dir, or the embedded definitions
// when dir is empty.
func ResolveViews(dir string) ([]ViewDefinition, error) {
	if dir == "" {
		return DefaultViews()
	}
	return LoadViewsDir(dir)
}

// Bootstrap brings the schema up to date and then refreshes the views, so
// views can rely on every table existing.
func (d *DB) Bootstrap(ctx context.Context, viewsDir string) error {
	if err := d.RunMigrations(ctx); err != nil {
		return err
	}

	defs, err := ResolveViews(viewsDir)
	if err != nil {
		return fmt.Errorf("failed to load views: %w", err)
	}
	if err := d.EnsureViews(ctx, defs); err != nil {
		return fmt.Errorf("failed to refresh views: %w", err)
	}
	return nil
}
