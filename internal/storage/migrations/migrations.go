// Package migrations embeds the engine's goose SQL migrations and
// exposes a small helper to apply them, grounded on the pack's
// kubernaut-style "-- +goose Up"/"-- +goose Down" marker convention.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

// Migrate applies every pending migration in FS against db using
// goose's standard "goose_db_version" bookkeeping table.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
