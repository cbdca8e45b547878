package filelock

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSharedLocksCoexist(t *testing.T) {
	testDir := filepath.Join(os.TempDir(), "daemondb_filelock_test")
	os.MkdirAll(testDir, 0755)
	defer os.RemoveAll(testDir)
	dbPath := filepath.Join(testDir, "shared.db")

	a, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()
	b, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if err := a.Shared(); err != nil {
		t.Fatalf("a.Shared: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- b.Shared() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("b.Shared: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second shared lock should not block behind the first")
	}
}

func TestExclusiveLockBlocksOthers(t *testing.T) {
	testDir := filepath.Join(os.TempDir(), "daemondb_filelock_test")
	os.MkdirAll(testDir, 0755)
	defer os.RemoveAll(testDir)
	dbPath := filepath.Join(testDir, "exclusive.db")

	writer, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer writer.Close()
	reader, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	if err := writer.Exclusive(); err != nil {
		t.Fatalf("writer.Exclusive: %v", err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- reader.Shared() }()

	select {
	case <-acquired:
		t.Fatal("expected reader's shared lock to block while writer holds exclusive")
	case <-time.After(200 * time.Millisecond):
		// expected: still blocked
	}

	if err := writer.Unlock(); err != nil {
		t.Fatalf("writer.Unlock: %v", err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("reader.Shared: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader's shared lock should have been granted after writer unlocked")
	}
}
