package db

import (
	"time"

	"schedule-import-db/internal/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// NewConnection opens the staging database with the configured driver
// ("mysql" or "postgres") and waits for it to answer.
func NewConnection(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Database.Driver)
	}

	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.Database.ConnectionLifetime)

	if err := ping(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// ping waits for the database to be ready, backing off 100ms more each attempt.
func ping(db *sqlx.DB) error {
	var err error
	for attempt := 1; attempt <= 10; attempt++ {
		if err = db.Ping(); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return errors.Wrap(err, "DB ping timeout")
}
