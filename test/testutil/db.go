package testutil

import (
	"database/sql"
	"os"
	"testing"

	"github.com/xxxsen/voxnote/internal/config"
	"github.com/xxxsen/voxnote/internal/db"
)

func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := db.Open(config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     "voxnote",
		Password: "voxnote_pass",
		DBName:   "voxnote_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}

func Reset(t *testing.T, conn *sql.DB) {
	t.Helper()
	for _, table := range []string{"note_embeddings", "note_jobs", "notes"} {
		if _, err := conn.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
}
