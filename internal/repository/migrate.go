package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationTimeout = time.Minute

// MigrationCommands lists the commands MigrateCharges understands.
var MigrationCommands = []string{"up", "up-by-one", "down", "status", "version"}

// MigrateCharges runs one goose command against the credit_charges schema and
// logs every migration it touches.
func MigrateCharges(ctx context.Context, dsn, command string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("sql open: %w", err)
	}
	defer func() { _ = db.Close() }()

	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(database.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	switch command {
	case "up":
		results, err := provider.Up(ctx)
		logResults(logger, results...)
		if err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
		if len(results) == 0 {
			logger.Info("Charge audit schema already up to date")
		}
	case "up-by-one":
		res, err := provider.UpByOne(ctx)
		if err != nil {
			return fmt.Errorf("goose up-by-one: %w", err)
		}
		logResults(logger, res)
	case "down":
		res, err := provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
		logResults(logger, res)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
		for _, st := range statuses {
			logger.Info("Migration status",
				zap.Int64("version", st.Source.Version),
				zap.String("path", st.Source.Path),
				zap.String("state", string(st.State)),
				zap.Time("applied_at", st.AppliedAt),
			)
		}
	case "version":
		v, err := provider.GetDBVersion(ctx)
		if err != nil {
			return fmt.Errorf("goose version: %w", err)
		}
		logger.Info("Charge audit schema version", zap.Int64("version", v))
	default:
		return fmt.Errorf("unknown migration command %q, expected one of %v", command, MigrationCommands)
	}
	return nil
}

func logResults(logger *zap.Logger, results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		logger.Info("Migration applied",
			zap.String("direction", r.Direction),
			zap.Int64("version", r.Source.Version),
			zap.String("path", r.Source.Path),
			zap.Duration("took", r.Duration),
		)
	}
}
