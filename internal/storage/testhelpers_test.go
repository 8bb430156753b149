package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(DefaultDBConfig("sqlite://" + filepath.Join(t.TempDir(), "gateway.db")))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return db
}

func newTestEncryption(t *testing.T) *Encryption {
	t.Helper()

	enc, err := NewEncryption(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewEncryption failed: %v", err)
	}
	return enc
}
