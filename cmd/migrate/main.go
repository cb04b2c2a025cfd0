package main

import (
	"errors"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	flag "github.com/spf13/pflag"

	"github.com/jamzercise/lidify-fork/internal/config"
)

func main() {
	var step int
	var path string
	var envFile string
	flag.IntVarP(&step, "step", "s", 0, "migrate up if n > 0, down if n < 0; 0 runs up to the latest version")
	flag.StringVarP(&path, "path", "p", "migrations", "directory containing the migration files")
	flag.StringVarP(&envFile, "env-file", "e", ".env", "path to the env file")
	flag.Parse()

	logger := config.NewLogger("dev")

	cfg, err := config.Load(envFile)
	if err != nil {
		logger.Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	srcURL := "file://" + path
	logger.Debug().
		Str("src_url", srcURL).
		Str("dst_url", config.MaskURL(cfg.Postgres.URL)).
		Msg("Migration paths loaded")

	m, err := migrate.New(srcURL, cfg.Postgres.URL)
	if err != nil {
		logger.Err(err).Msg("Failed to initialize migration")
		os.Exit(1)
	}
	defer m.Close()

	if step == 0 {
		logger.Info().Msg("No step specified, running migrations up to latest version")
		err = m.Up()
	} else {
		logger.Info().Int("step", step).Msg("Running migrations by step")
		err = m.Steps(step)
	}
	if err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			logger.Err(err).Msg("Failed to apply migrations")
			os.Exit(1)
		}
		logger.Info().Msg("No new migrations to apply")
	}

	ver, dirty, err := m.Version()
	if err != nil {
		logger.Err(err).Msg("Failed to get migration version")
		os.Exit(1)
	}
	logger.Info().
		Uint("version", ver).
		Bool("is_dirty", dirty).
		Msg("Migration version loaded")
}
