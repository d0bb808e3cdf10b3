package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the reservation tables if they do not exist
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	// no arguments: pgx uses the simple protocol, which allows multiple statements
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
