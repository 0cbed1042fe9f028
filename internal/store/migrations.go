package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hyperengineering/entsync/internal/plugin"
	"github.com/hyperengineering/entsync/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies the embedded base migrations using goose, then the
// migrations of every registered plugin.
func RunMigrations(db *sql.DB) error {
	// Disable goose's default logging to avoid stdout noise
	goose.SetLogger(goose.NopLogger())

	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	for _, p := range plugin.Plugins() {
		if err := applyPluginMigrations(context.Background(), db, p); err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
	}

	return nil
}

// applyPluginMigrations applies pending plugin migrations in Version order,
// each in its own transaction, recording them in plugin_migrations.
func applyPluginMigrations(ctx context.Context, db *sql.DB, p plugin.DomainPlugin) error {
	pending := append([]plugin.Migration(nil), p.Migrations()...)
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		var applied int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM plugin_migrations WHERE plugin = ? AND version = ?`,
			p.Name(), m.Version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if applied > 0 {
			continue
		}

		if err := applyPluginMigration(ctx, db, p.Name(), m); err != nil {
			return err
		}
		slog.Info("plugin migration applied",
			"component", "store",
			"action", "plugin_migration",
			"plugin", p.Name(),
			"version", m.Version,
			"name", m.Name,
		)
	}
	return nil
}

func applyPluginMigration(ctx context.Context, db *sql.DB, pluginName string, m plugin.Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plugin_migrations (plugin, version, name, applied_at) VALUES (?, ?, ?, ?)
	`, pluginName, m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}
