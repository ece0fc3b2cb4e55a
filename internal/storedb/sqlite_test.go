package storedb

import (
	"path/filepath"
	"testing"
)

func openTestHandles(testContext *testing.T) Handles {
	testContext.Helper()
	path := filepath.Join(testContext.TempDir(), "kvsync.db")
	handles, err := Open(path, nil)
	if err != nil {
		testContext.Fatalf("opening test handles: %v", err)
	}
	testContext.Cleanup(func() {
		_ = handles.Close()
	})
	return handles
}

func TestOpenRunsMigrations(testContext *testing.T) {
	handles := openTestHandles(testContext)

	var records []MigrationRecord
	if err := handles.Write.Find(&records).Error; err != nil {
		testContext.Fatalf("reading migration records: %v", err)
	}
	if len(records) != len(KnownMigrations()) {
		testContext.Fatalf("expected %d migration records, got %d", len(KnownMigrations()), len(records))
	}
}

func TestOpenTwiceIsIdempotent(testContext *testing.T) {
	path := filepath.Join(testContext.TempDir(), "kvsync.db")

	first, err := Open(path, nil)
	if err != nil {
		testContext.Fatalf("opening first time: %v", err)
	}
	if err := first.Close(); err != nil {
		testContext.Fatalf("closing first handles: %v", err)
	}

	second, err := Open(path, nil)
	if err != nil {
		testContext.Fatalf("reopening: %v", err)
	}
	defer second.Close()
}

func TestReadHandleRejectsWrites(testContext *testing.T) {
	handles := openTestHandles(testContext)

	author := Author{ID: "author-1", USN: 1, TimestampSeconds: 1}
	if err := handles.Read.Create(&author).Error; err == nil {
		testContext.Fatalf("expected write through read-only handle to fail")
	}
}
