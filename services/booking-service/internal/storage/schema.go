package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/md-rashed-zaman/bookingsync/libs/db"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates missing tables and indexes. Every statement is
// idempotent so it is safe to run on each start.
func EnsureSchema(ctx context.Context, pool *db.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
