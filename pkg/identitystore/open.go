package identitystore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open connects to dsn and returns a migrated store. "postgres://" and
// "postgresql://" DSNs use PostgreSQL; "sqlite://path" or a bare path use
// SQLite. The returned close function releases the connection pool.
func Open(ctx context.Context, dsn string) (*Store, func() error, error) {
	driver, source, dialect := "sqlite", strings.TrimPrefix(dsn, "sqlite://"), SQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, source, dialect = "postgres", dsn, Postgres
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to reach %s: %w", driver, err)
	}
	s, err := New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, db.Close, nil
}
