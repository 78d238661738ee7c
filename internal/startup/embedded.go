package startup

import (
	"fmt"
	"os"
	"path/filepath"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/chatcore/internal/logger"
)

type EmbeddedConfig struct {
	Port     uint32
	DataDir  string
	User     string
	Password string
	Database string
}

// DefaultEmbedded совпадает с config.DevDatabaseURL.
func DefaultEmbedded() EmbeddedConfig {
	return EmbeddedConfig{
		Port:     5432,
		DataDir:  filepath.Join(".", ".pgdata"),
		User:     "chatcore",
		Password: "chatcore_secret",
		Database: "chatcore",
	}
}

func (c EmbeddedConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", c.User, c.Password, c.Port, c.Database)
}

// StartEmbeddedPostgres поднимает локальный PostgreSQL для режима -dev и тестов.
// Остановить: через Stop() у результата.
func StartEmbeddedPostgres(c EmbeddedConfig) (*embeddedpostgres.EmbeddedPostgres, error) {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(c.Port).
			Username(c.User).
			Password(c.Password).
			Database(c.Database).
			DataPath(c.DataDir).
			RuntimePath(filepath.Join(os.TempDir(), fmt.Sprintf("chatcore-pg-runtime-%d", c.Port))),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start embedded postgres: %w", err)
	}
	logger.Infof("embedded PostgreSQL running on port %d", c.Port)
	return db, nil
}
