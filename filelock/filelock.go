// Package filelock implements an advisory readers-writer lock: shared for
// reads, exclusive for the duration of a write transaction, blocking
// acquisition with no timeout. It locks a sibling ".lock" file rather
// than the database file itself, so a shared reader's open file
// descriptor never has to be upgraded in place, using
// golang.org/x/sys/unix.Flock.
package filelock

import (
	"os"

	"golang.org/x/sys/unix"

	"daemondb/internal/dbutil"
)

// Lock holds an open file descriptor on the sibling lock file and that
// file's path.
type Lock struct {
	file *os.File
	path string
}

// Open opens (creating if absent) the lock file sibling to dbPath, without
// acquiring any lock yet.
func Open(dbPath string) (*Lock, error) {
	path := dbPath + ".lock"
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dbutil.Wrap(dbutil.KindIO, err, "filelock: open %s", path)
	}
	return &Lock{file: f, path: path}, nil
}

// Shared blocks until a shared (read) lock is acquired. Any number of
// shared holders may coexist.
func (l *Lock) Shared() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_SH); err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "filelock: acquire shared lock on %s", l.path)
	}
	return nil
}

// Exclusive blocks until an exclusive (write) lock is acquired. No other
// holder, shared or exclusive, may coexist.
func (l *Lock) Exclusive() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX); err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "filelock: acquire exclusive lock on %s", l.path)
	}
	return nil
}

// Unlock releases whatever lock is currently held.
func (l *Lock) Unlock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "filelock: release lock on %s", l.path)
	}
	return nil
}

// Close releases any held lock and closes the lock file descriptor.
func (l *Lock) Close() error {
	_ = l.Unlock()
	if err := l.file.Close(); err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "filelock: close %s", l.path)
	}
	return nil
}
