package startup

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/migrations"
)

// MigrateResult: итог миграции.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate применяет встроенные миграции из migrations/ к базе пула.
func Migrate(pool *pgxpool.Pool) (*MigrateResult, error) {
	source, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if errors.Is(err, migrate.ErrNoChange) {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Infof("migrations: version=%d dirty=%v changed=%v", version, dirty, changed)
	return &MigrateResult{Version: version, Dirty: dirty, Changed: changed}, nil
}
