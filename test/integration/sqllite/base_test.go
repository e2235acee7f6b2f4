package sqllite

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neokatalyst/approvalflow/internal/migrations"
	"github.com/neokatalyst/approvalflow/test/integration"

	"github.com/golang-migrate/migrate/v4/source/iofs"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

var dbSeq int32

// openTestDatabase creates a fresh SQLite file under the test temp dir,
// applies the embedded migrations and points the config env vars at it.
func openTestDatabase(t *testing.T) (*sql.DB, *integration.FakeClock) {
	t.Helper()
	fileName := filepath.Join(t.TempDir(), fmt.Sprintf("approvalflow-test-%d.db", atomic.AddInt32(&dbSeq, 1)))
	os.Setenv("AFLOW_DATABASE_TYPE", "SQLLITE")
	os.Setenv("AFLOW_DATABASE_SQLLITE_FILE_NAME", fileName)

	if err := runMigrations("sqlite3://" + fileName); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	db, err := sql.Open("sqlite3", fileName)
	if err != nil {
		t.Fatalf("Failed to open SQLite DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db, integration.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
}

func runMigrations(dbURL string) error {
	sub, err := fs.Sub(migrations.FS, "sqllite3")
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
