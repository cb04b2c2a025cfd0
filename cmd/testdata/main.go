// Seeds a development environment: synthetic tracks on disk, their rows
// in the library database, and analysis jobs on the queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/jamzercise/lidify-fork/internal/broker"
	"github.com/jamzercise/lidify-fork/internal/config"
	"github.com/jamzercise/lidify-fork/internal/testtools"
)

// The analyzer only reads this table. Run migrations before seeding so
// the analysis columns exist as well.
const createTrackTableSQL = `
CREATE TABLE IF NOT EXISTS "Track" (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    artist     TEXT NOT NULL,
    album      TEXT NOT NULL,
    "filePath" TEXT NOT NULL
)`

const insertTrackSQL = `
INSERT INTO "Track" (id, title, artist, album, "filePath")
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`

func main() {
	var n int
	var seconds float64
	var envFile string
	var skipDB bool
	var skipQueue bool
	flag.IntVarP(&n, "tracks", "n", 25, "number of tracks to generate")
	flag.Float64Var(&seconds, "seconds", 2, "duration of each generated file")
	flag.StringVarP(&envFile, "env-file", "e", ".env", "path to the env file")
	flag.BoolVar(&skipDB, "skip-db", false, "generate files without touching the database")
	flag.BoolVar(&skipQueue, "skip-queue", false, "generate files and rows without queueing jobs")
	flag.Parse()

	logger := config.NewLogger("dev")

	cfg, err := config.Load(envFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()
	gen := testtools.Random{}
	tracks := gen.Tracks(n)
	dur := time.Duration(seconds * float64(time.Second))

	g := new(errgroup.Group)
	g.SetLimit(4)
	for _, track := range tracks {
		g.Go(func() error {
			full := filepath.Join(cfg.Worker.MusicPath, filepath.FromSlash(track.FilePath))
			return testtools.WriteSineWAV(full, gen.Frequency(), dur)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to generate track files")
	}
	logger.Info().
		Int("tracks", n).
		Str("music_path", cfg.Worker.MusicPath).
		Msg("Generated track files")

	if !skipDB {
		conn, err := pgx.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		defer conn.Close(ctx)

		if _, err := conn.Exec(ctx, createTrackTableSQL); err != nil {
			logger.Fatal().Err(err).Msg("Failed to ensure Track table")
		}
		for _, track := range tracks {
			_, err := conn.Exec(ctx, insertTrackSQL,
				track.ID, track.Title, track.Artist, track.Album, track.FilePath)
			if err != nil {
				logger.Fatal().Err(err).Str("track_id", track.ID).Msg("Failed to insert track")
			}
		}
		logger.Info().Int("tracks", n).Msg("Inserted track rows")
	}

	if !skipQueue {
		brk, err := broker.New(ctx, cfg.Broker, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to broker")
		}
		defer brk.Close()

		for _, track := range tracks {
			payload, err := json.Marshal(gen.Job(track))
			if err != nil {
				logger.Fatal().Err(err).Msg("Failed to marshal job")
			}
			if err := brk.Push(ctx, payload); err != nil {
				logger.Fatal().Err(err).Str("track_id", track.ID).Msg("Failed to queue job")
			}
		}
		logger.Info().Int("jobs", n).Str("queue", cfg.Broker.Queue).Msg("Queued analysis jobs")
	}

	for i, track := range tracks {
		if i == 3 {
			fmt.Fprintf(os.Stdout, "... and %d more\n", len(tracks)-i)
			break
		}
		fmt.Fprintf(os.Stdout, "%s  %s - %s\n", track.ID, track.Artist, track.Title)
	}
}
