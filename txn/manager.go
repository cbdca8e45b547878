// Package txn implements the shadow-paging transaction manager: begin,
// commit and rollback, orchestrating the pager's shadow maps, the WAL's
// commit-frame durability and the advisory file lock's single-writer
// isolation, plus a threshold-triggered checkpoint policy and an
// explicit/implicit transaction split for auto-committing statements.
package txn

import (
	"log"
	"sync"

	"daemondb/filelock"
	"daemondb/pager"
	"daemondb/wal"

	"github.com/dustin/go-humanize"
)

// State is a transaction's lifecycle stage.
type State uint8

const (
	Active State = iota
	Committed
	Aborted
)

// Manager owns the pager, WAL and file lock for one open database and
// sequences every transaction through them. Only one transaction may be
// active at a time; the pager and txn state are process-local and not
// thread-safe, so Manager serializes Begin calls with a mutex.
type Manager struct {
	pager *pager.Pager
	wal   *wal.WAL
	lock  *filelock.Lock
	log   *log.Logger

	checkpointThreshold int

	mu      sync.Mutex
	nextID  uint64
	current *Txn
}

// New wires a Manager around already-open collaborators. checkpointThreshold
// is the pending-WAL-frame count at which Commit triggers an automatic
// checkpoint; 0 selects wal.DefaultCheckpointThreshold.
func New(p *pager.Pager, w *wal.WAL, l *filelock.Lock, logger *log.Logger, checkpointThreshold int) *Manager {
	if checkpointThreshold <= 0 {
		checkpointThreshold = wal.DefaultCheckpointThreshold
	}
	return &Manager{
		pager:               p,
		wal:                 w,
		lock:                l,
		log:                 logger,
		checkpointThreshold: checkpointThreshold,
		nextID:              1,
	}
}

// Txn is a single begin-to-commit/rollback scope. It is not safe for
// concurrent use.
type Txn struct {
	mgr     *Manager
	ID      uint64
	State   State
	write   bool
	autoTxn bool
}

// Begin starts a transaction, acquiring the file lock in shared mode for a
// read-only transaction or exclusive mode for a write transaction. Lock
// acquisition blocks with no timeout.
func (m *Manager) Begin(write bool) (*Txn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if write {
		if err := m.lock.Exclusive(); err != nil {
			return nil, err
		}
		m.pager.BeginTxn()
	} else {
		if err := m.lock.Shared(); err != nil {
			return nil, err
		}
	}

	t := &Txn{mgr: m, ID: m.nextID, State: Active, write: write}
	m.nextID++
	m.current = t
	return t, nil
}

// BeginAuto starts an implicit single-statement transaction for a bare
// statement with no explicit BEGIN.
func (m *Manager) BeginAuto(write bool) (*Txn, error) {
	t, err := m.Begin(write)
	if err != nil {
		return nil, err
	}
	t.autoTxn = true
	return t, nil
}

// Commit durably logs every page the transaction modified (empty for a
// read-only transaction), applies the pager's commit and releases the
// file lock. On write transactions this is the crash-atomicity boundary:
// WAL frames are fsynced before the lock is released.
func (t *Txn) Commit() error {
	if t.State != Active {
		return nil
	}
	m := t.mgr

	if t.write {
		ids := m.pager.ModifiedPages()
		if len(ids) > 0 {
			data := make(map[uint32][]byte, len(ids))
			for _, id := range ids {
				data[id] = m.pager.PageData(id)
			}
			if err := m.wal.AppendTxn(ids, data, m.pager.PageCount()); err != nil {
				return err
			}
			if err := m.wal.Sync(); err != nil {
				return err
			}
		}
		m.pager.CommitTxn()
		if err := m.pager.Flush(); err != nil {
			return err
		}
		if m.log != nil && len(ids) > 0 {
			m.log.Printf("txn %d committed, %s across %d pages", t.ID, humanize.Bytes(uint64(len(ids)*m.pager.PageSize())), len(ids))
		}
		if m.wal.PendingFrames() >= m.checkpointThreshold {
			if err := m.checkpointLocked(); err != nil {
				return err
			}
		}
	}

	t.State = Committed
	return t.unlock()
}

// Rollback restores shadow pages (no-op for a read-only transaction) and
// releases the file lock.
func (t *Txn) Rollback() error {
	if t.State != Active {
		return nil
	}
	m := t.mgr
	if t.write {
		if err := m.pager.RollbackTxn(); err != nil {
			return err
		}
	}
	t.State = Aborted
	return t.unlock()
}

func (t *Txn) unlock() error {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	if t.mgr.current == t {
		t.mgr.current = nil
	}
	return t.mgr.lock.Unlock()
}

// Checkpoint forces an out-of-band checkpoint regardless of the pending
// frame count, exposed for the `.checkpoint` dot-command.
func (m *Manager) Checkpoint() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpointLocked()
}

func (m *Manager) checkpointLocked() error {
	if err := wal.Checkpoint(m.wal, m.pager); err != nil {
		return err
	}
	if m.log != nil {
		m.log.Printf("checkpoint applied, wal truncated")
	}
	return nil
}
