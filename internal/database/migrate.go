package database

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

type gooseRunner struct {
	sqlDB *sql.DB
}

// withGoose opens a database/sql handle on the pool's DSN for goose, which
// does not speak pgxpool directly.
func (db *DB) withGoose(fn func(*gooseRunner) error) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	connString := db.Pool.Config().ConnConfig.ConnString()
	sqlDB, err := goose.OpenDBWithDriver("pgx", connString)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()

	if err := fn(&gooseRunner{sqlDB: sqlDB}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
