package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/chatcore/internal/app"
	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/startup"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep all data in process memory (no PostgreSQL)")
	flag.Parse()

	if *migrate {
		if err := runMigrate(*dev); err != nil {
			logger.Errorf("migrate: %v", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("starting API service")
	app.New(app.Params{Dev: *dev, Memory: *inMemory}).Run()
}

func runMigrate(dev bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := cfg.Database.URL
	if dev {
		ec := startup.DefaultEmbedded()
		db, err := startup.StartEmbeddedPostgres(ec)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
		dsn = ec.DSN()
	}
	return app.RunMigrations(ctx, dsn, cfg.Database.MaxConnections)
}
