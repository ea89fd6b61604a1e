package aarma

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	pgdirectory "github.com/parthCJ/Aarma-be/internal/adapters/directory/postgres"
	"github.com/parthCJ/Aarma-be/internal/adapters/store/dynamo"
	pgstore "github.com/parthCJ/Aarma-be/internal/adapters/store/postgres"
)

// Migrate creates the schema the configured store and registry need. It
// returns the names of the backends it touched; memory and pebble need
// nothing.
func Migrate(ctx context.Context, cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var (
		db      *sql.DB
		touched []string
	)
	openDB := func() (*sql.DB, error) {
		if db != nil {
			return db, nil
		}
		var err error
		db, err = pgstore.Open(ctx, cfg.Store.Postgres.ConnString)
		return db, err
	}

	err := func() error {
		switch cfg.Store.Driver {
		case "postgres":
			conn, err := openDB()
			if err != nil {
				return err
			}
			s, err := pgstore.NewStore(conn, cfg.Store.Postgres.Table)
			if err != nil {
				return err
			}
			if err := s.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.Store.Postgres.Table, err)
			}
			touched = append(touched, "postgres:"+cfg.Store.Postgres.Table)
		case "dynamodb":
			s, err := dynamo.Connect(ctx, cfg.Store.DynamoDB)
			if err != nil {
				return err
			}
			if err := s.EnsureTable(ctx); err != nil {
				return fmt.Errorf("create table %s: %w", cfg.Store.DynamoDB.Table, err)
			}
			touched = append(touched, "dynamodb:"+cfg.Store.DynamoDB.Table)
		}

		if cfg.Directory.Driver == "postgres" {
			conn, err := openDB()
			if err != nil {
				return err
			}
			if err := pgdirectory.NewRegistry(conn).Migrate(ctx); err != nil {
				return fmt.Errorf("migrate sensor registry: %w", err)
			}
			touched = append(touched, "postgres:sensors")
		}
		return nil
	}()

	if db != nil {
		err = errors.Join(err, db.Close())
	}
	return touched, err
}
