package txn

import (
	"os"
	"path/filepath"
	"testing"

	"daemondb/filelock"
	"daemondb/page"
	"daemondb/pager"
	"daemondb/wal"
)

type testEnv struct {
	dir string
	p   *pager.Pager
	w   *wal.WAL
	l   *filelock.Lock
	mgr *Manager
}

func newTestEnv(t *testing.T, name string) *testEnv {
	dir := filepath.Join(os.TempDir(), "daemondb_txn_test_"+name)
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)
	t.Cleanup(func() { os.RemoveAll(dir) })

	dbPath := filepath.Join(dir, "data.db")
	p, err := pager.Open(dbPath, 512)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	w, err := wal.Open(filepath.Join(dir, "data.db-wal"), uint32(p.PageSize()), 1, 2)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	l, err := filelock.Open(dbPath)
	if err != nil {
		t.Fatalf("filelock.Open: %v", err)
	}
	mgr := New(p, w, l, nil, 0)
	t.Cleanup(func() {
		p.Close()
		w.Close()
		l.Close()
	})
	return &testEnv{dir: dir, p: p, w: w, l: l, mgr: mgr}
}

func TestTxnCommitAppliesPagesAndReleasesLock(t *testing.T) {
	env := newTestEnv(t, "commit")

	txn, err := env.mgr.Begin(true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	pg, err := env.p.AllocatePage(page.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if err := env.p.WritePage(pg); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// lock must be free for a subsequent exclusive acquisition.
	next, err := env.mgr.Begin(true)
	if err != nil {
		t.Fatalf("second Begin after commit: %v", err)
	}
	if err := next.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
}

func TestTxnRollbackRestoresPagerState(t *testing.T) {
	env := newTestEnv(t, "rollback")

	seed, err := env.mgr.Begin(true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	pg, err := env.p.AllocatePage(page.TypeLeaf)
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	cell := page.EncodeLeafCell([]byte("k"), []byte("v"))
	if err := pg.InsertCellAt(0, cell); err != nil {
		t.Fatalf("InsertCellAt: %v", err)
	}
	if err := env.p.WritePage(pg); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	edit, err := env.mgr.Begin(true)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	reread, err := env.p.ReadPage(pg.ID)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	reread.DeleteCellAt(0)
	if err := env.p.WritePage(reread); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := edit.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	after, err := env.p.ReadPage(pg.ID)
	if err != nil {
		t.Fatalf("ReadPage after rollback: %v", err)
	}
	if after.CellCount() != 1 {
		t.Fatalf("expected rollback to restore the cell, got count %d", after.CellCount())
	}
}

func TestTxnReadOnlyDoesNotTouchPager(t *testing.T) {
	env := newTestEnv(t, "readonly")

	reader, err := env.mgr.Begin(false)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := reader.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// the shared lock must also have been released.
	writer, err := env.mgr.Begin(true)
	if err != nil {
		t.Fatalf("Begin write after read commit: %v", err)
	}
	if err := writer.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
}

func TestTxnAutoCommitChecksFlagSet(t *testing.T) {
	env := newTestEnv(t, "auto")

	txn, err := env.mgr.BeginAuto(true)
	if err != nil {
		t.Fatalf("BeginAuto: %v", err)
	}
	if !txn.autoTxn {
		t.Error("expected autoTxn to be set by BeginAuto")
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
