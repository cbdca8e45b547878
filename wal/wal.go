// Package wal implements the write-ahead log: frame append on commit,
// redo-only crash recovery, and checkpointing into the main database
// file. Frames live in a single file alongside the database, each
// checksummed with xxhash.
package wal

import (
	"encoding/binary"
	"os"

	"github.com/cespare/xxhash/v2"

	"daemondb/internal/dbutil"
	"daemondb/pager"
)

const (
	walMagic   = "WALv1"
	headerSize = 32
	frameHeaderSize = 24

	// DefaultCheckpointThreshold is the frame count at which the engine
	// should checkpoint.
	DefaultCheckpointThreshold = 1000
)

// WAL is the append-only frame log living next to the database file.
type WAL struct {
	file     *os.File
	path     string
	pageSize int
	salt1    uint32
	salt2    uint32

	pendingFrames int // appended since the last checkpoint/recovery
}

// Open creates path with a fresh header if it does not exist, or validates
// the existing header (and page size match) otherwise.
func Open(path string, pageSize uint32, salt1, salt2 uint32) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dbutil.Wrap(dbutil.KindIO, err, "wal: open %s", path)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, dbutil.Wrap(dbutil.KindIO, err, "wal: stat %s", path)
	}

	w := &WAL{file: file, path: path, pageSize: int(pageSize), salt1: salt1, salt2: salt2}

	if stat.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		return w, nil
	}

	header := make([]byte, headerSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		file.Close()
		return nil, dbutil.Wrap(dbutil.KindIO, err, "wal: read header")
	}
	if string(header[0:5]) != walMagic {
		file.Close()
		return nil, dbutil.New(dbutil.KindCorrupt, "wal: bad magic in %s", path)
	}
	if headerChecksum(header) != binary.LittleEndian.Uint32(header[20:24]) {
		file.Close()
		return nil, dbutil.New(dbutil.KindCorrupt, "wal: header checksum mismatch in %s", path)
	}
	if stored := binary.LittleEndian.Uint32(header[8:12]); stored != pageSize {
		file.Close()
		return nil, dbutil.New(dbutil.KindCorrupt, "wal: page size %d in %s does not match %d", stored, path, pageSize)
	}
	w.pageSize = int(binary.LittleEndian.Uint32(header[8:12]))
	w.salt1 = binary.LittleEndian.Uint32(header[12:16])
	w.salt2 = binary.LittleEndian.Uint32(header[16:20])

	n := (stat.Size() - headerSize) / int64(frameHeaderSize+w.pageSize)
	w.pendingFrames = int(n)
	return w, nil
}

func (w *WAL) writeHeader() error {
	buf := make([]byte, headerSize)
	copy(buf[0:5], walMagic)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(w.pageSize))
	binary.LittleEndian.PutUint32(buf[12:16], w.salt1)
	binary.LittleEndian.PutUint32(buf[16:20], w.salt2)
	binary.LittleEndian.PutUint32(buf[20:24], headerChecksum(buf))
	if _, err := w.file.WriteAt(buf, 0); err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "wal: write header")
	}
	return w.file.Sync()
}

func headerChecksum(buf []byte) uint32 {
	return uint32(xxhash.Sum64(buf[0:20]))
}

func frameChecksum(pageID, dbSize, salt1, salt2 uint32, data []byte) uint32 {
	h := xxhash.New()
	var scratch [16]byte
	binary.LittleEndian.PutUint32(scratch[0:4], pageID)
	binary.LittleEndian.PutUint32(scratch[4:8], dbSize)
	binary.LittleEndian.PutUint32(scratch[8:12], salt1)
	binary.LittleEndian.PutUint32(scratch[12:16], salt2)
	h.Write(scratch[:])
	h.Write(data)
	return uint32(h.Sum64())
}

// Frame is one decoded WAL frame.
type Frame struct {
	PageID          uint32
	DBSizeAfterCommit uint32
	Data            []byte
}

// IsCommit reports whether this frame terminates a transaction.
func (f Frame) IsCommit() bool { return f.DBSizeAfterCommit != 0 }

// AppendTxn appends one frame per page in pages (in the given id order),
// the last frame carrying dbSizeAfterCommit to mark the commit boundary.
// It does not fsync; callers call Sync afterward to complete the commit.
func (w *WAL) AppendTxn(pageIDs []uint32, pageData map[uint32][]byte, dbSizeAfterCommit uint32) error {
	stat, err := w.file.Stat()
	if err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "wal: stat")
	}
	offset := stat.Size()

	for i, id := range pageIDs {
		data := pageData[id]
		dbSize := uint32(0)
		if i == len(pageIDs)-1 {
			dbSize = dbSizeAfterCommit
		}
		frame := make([]byte, frameHeaderSize+w.pageSize)
		binary.LittleEndian.PutUint32(frame[0:4], id)
		binary.LittleEndian.PutUint32(frame[4:8], dbSize)
		binary.LittleEndian.PutUint32(frame[8:12], w.salt1)
		binary.LittleEndian.PutUint32(frame[12:16], w.salt2)
		binary.LittleEndian.PutUint32(frame[16:20], frameChecksum(id, dbSize, w.salt1, w.salt2, data))
		copy(frame[frameHeaderSize:], data)

		if _, err := w.file.WriteAt(frame, offset); err != nil {
			return dbutil.Wrap(dbutil.KindIO, err, "wal: append frame for page %d", id)
		}
		offset += int64(len(frame))
		w.pendingFrames++
	}
	return nil
}

// Sync fsyncs the WAL file.
func (w *WAL) Sync() error {
	if err := w.file.Sync(); err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "wal: sync")
	}
	return nil
}

// PendingFrames returns the number of frames appended since the last
// checkpoint or recovery, used to decide whether to checkpoint.
func (w *WAL) PendingFrames() int { return w.pendingFrames }

// scan reads every frame in the file, in order.
func (w *WAL) scan() ([]Frame, error) {
	stat, err := w.file.Stat()
	if err != nil {
		return nil, dbutil.Wrap(dbutil.KindIO, err, "wal: stat")
	}
	frameSize := int64(frameHeaderSize + w.pageSize)
	count := (stat.Size() - headerSize) / frameSize
	if count <= 0 {
		return nil, nil
	}

	frames := make([]Frame, 0, count)
	buf := make([]byte, frameSize)
	for i := int64(0); i < count; i++ {
		offset := headerSize + i*frameSize
		if _, err := w.file.ReadAt(buf, offset); err != nil {
			return frames, dbutil.Wrap(dbutil.KindIO, err, "wal: read frame %d", i)
		}
		pageID := binary.LittleEndian.Uint32(buf[0:4])
		dbSize := binary.LittleEndian.Uint32(buf[4:8])
		salt1 := binary.LittleEndian.Uint32(buf[8:12])
		salt2 := binary.LittleEndian.Uint32(buf[12:16])
		checksum := binary.LittleEndian.Uint32(buf[16:20])
		data := append([]byte(nil), buf[frameHeaderSize:]...)

		if frameChecksum(pageID, dbSize, salt1, salt2, data) != checksum {
			// a corrupt or partially-written tail frame ends the usable log;
			// treat everything collected so far as the full picture.
			break
		}
		frames = append(frames, Frame{PageID: pageID, DBSizeAfterCommit: dbSize, Data: data})
	}
	return frames, nil
}

// Recover scans the log, groups frames into transactions delimited by
// commit frames, applies every fully-committed transaction's pages to p in
// order (last write to a page id within a committed transaction wins),
// drops any trailing incomplete transaction, then truncates the log.
func Recover(w *WAL, p *pager.Pager) error {
	frames, err := w.scan()
	if err != nil {
		return err
	}

	var txn []Frame
	for _, f := range frames {
		txn = append(txn, f)
		if f.IsCommit() {
			for _, applied := range txn {
				if err := p.WriteRawPage(applied.PageID, applied.Data); err != nil {
					return err
				}
			}
			txn = nil
		}
	}
	// any remaining txn frames are an incomplete transaction; dropped.

	if err := p.Flush(); err != nil {
		return err
	}
	return w.truncate()
}

// Checkpoint copies every frame's page into the main file (most recent
// write per page id wins, matching Recover's semantics for committed
// data), fsyncs, then truncates and rewrites the WAL header.
func Checkpoint(w *WAL, p *pager.Pager) error {
	frames, err := w.scan()
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := p.WriteRawPage(f.PageID, f.Data); err != nil {
			return err
		}
	}
	if err := p.Flush(); err != nil {
		return err
	}
	return w.truncate()
}

func (w *WAL) truncate() error {
	if err := w.file.Truncate(0); err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "wal: truncate")
	}
	if err := w.writeHeader(); err != nil {
		return err
	}
	w.pendingFrames = 0
	return nil
}

// Close fsyncs and closes the WAL file.
func (w *WAL) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return dbutil.Wrap(dbutil.KindIO, err, "wal: sync on close")
	}
	if err := w.file.Close(); err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "wal: close")
	}
	return nil
}
