package statemgr

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// OpenSQLStore opens a database/sql connection for driver/dsn, ensures the
// session_records schema exists, and returns a ready-to-use SQLStore.
// driver is "sqlite" (pure-Go, modernc.org/sqlite), "sqlite3" (cgo,
// github.com/mattn/go-sqlite3 — registered only in cgo builds, see
// open_cgo.go), or "postgres" (github.com/lib/pq).
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s state store: %w", driver, err)
	}
	store := NewSQLStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
