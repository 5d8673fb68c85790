package main

import (
	"flag"
	"os"

	"github.com/crm-bulk-import/internal/config"
	"github.com/crm-bulk-import/internal/database"
	"github.com/crm-bulk-import/pkg/logger"
)

// migrate applies, rolls back or pins schema migrations without starting the server.
//
//	migrate            apply all pending migrations
//	migrate -down      roll back the last migration
//	migrate -to 1      migrate up or down to version 1
func main() {
	down := flag.Bool("down", false, "roll back the last migration")
	to := flag.Uint("to", 0, "migrate to this version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New("info", "json")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	path := cfg.Server.MigrationsPath
	switch {
	case *down:
		err = db.MigrateDown(path)
	case *to > 0:
		err = db.MigrateToVersion(path, *to)
	default:
		err = db.RunMigrations(path)
	}
	if err != nil {
		log.Error().Err(err).Msg("Migration failed")
		os.Exit(1)
	}
}
