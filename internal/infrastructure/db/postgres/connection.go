package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/KretovDmitry/ledger-service/internal/config"
	"github.com/KretovDmitry/ledger-service/pkg/logger"
	_ "github.com/jackc/pgx/v5/stdlib"
	sqldblogger "github.com/simukti/sqldb-logger"
)

// Connect opens the database, logs every query to it
// and checks connectivity and DSN correctness.
func Connect(ctx context.Context, cfg *config.Config, logger logger.Logger) (*sql.DB, error) {
	dsn := cfg.DataSourceName()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open the database: %w", err)
	}

	// Log every query to the database.
	db = sqldblogger.OpenDriver(dsn, db.Driver(), logger,
		sqldblogger.WithMinimumLevel(sqldblogger.LevelDebug),
		sqldblogger.WithSQLQueryAsMessage(true),
	)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	return db, nil
}
