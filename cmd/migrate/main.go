package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/bizledger/internal/config"
	infraBQ "github.com/dvloznov/bizledger/internal/infra/bigquery"
	"github.com/dvloznov/bizledger/internal/infra/postgres"
	"github.com/dvloznov/bizledger/internal/logger"
	"github.com/joho/godotenv"
)

var (
	status       = flag.Bool("status", false, "Print migration status and exit")
	skipBigQuery = flag.Bool("skip-bigquery", false, "Do not create the BigQuery audit tables")
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.URL, 2)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if *status {
		migrations, err := postgres.Migrations()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read migrations")
		}
		applied, err := db.AppliedMigrations(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read schema_migrations; run migrate once first")
		}
		for _, line := range statusLines(migrations, applied) {
			fmt.Println(line)
		}
		return
	}

	ran, err := db.Migrate(ctx, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	if len(ran) == 0 {
		log.Info().Msg("Database is up to date")
	} else {
		log.Info().Int("applied", len(ran)).Msg("Migrations applied successfully")
	}

	if !cfg.AuditEnabled() || *skipBigQuery {
		return
	}
	rec, err := infraBQ.NewRunRecorder(ctx, cfg.Audit.Project, cfg.Audit.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer rec.Close()
	if err := rec.EnsureTables(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery audit tables")
	}
	log.Info().
		Str("project", cfg.Audit.Project).
		Str("dataset", cfg.Audit.Dataset).
		Msg("BigQuery audit tables ready")
}

// statusLines describes each known migration as applied, pending or changed.
// Applied versions that no longer exist as files are listed as missing.
func statusLines(migrations []postgres.Migration, applied []postgres.AppliedMigration) []string {
	byVersion := make(map[int]postgres.AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	var lines []string
	known := make(map[int]bool, len(migrations))
	for _, m := range migrations {
		known[m.Version] = true
		am, ok := byVersion[m.Version]
		switch {
		case !ok:
			lines = append(lines, fmt.Sprintf("%04d_%s  pending", m.Version, m.Name))
		case am.Checksum != m.Checksum:
			lines = append(lines, fmt.Sprintf("%04d_%s  CHANGED since applied at %s", m.Version, m.Name, am.AppliedAt.Format(time.RFC3339)))
		default:
			lines = append(lines, fmt.Sprintf("%04d_%s  applied at %s", m.Version, m.Name, am.AppliedAt.Format(time.RFC3339)))
		}
	}
	for _, am := range applied {
		if !known[am.Version] {
			lines = append(lines, fmt.Sprintf("%04d_%s  MISSING file", am.Version, am.Name))
		}
	}
	return lines
}
