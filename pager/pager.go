// Package pager implements the single-file page manager: file header
// validation, page allocation from a free-list chained through page
// headers, a bounded clean-page cache (ristretto), and the shadow-paging
// machinery a transaction uses for in-memory rollback, all built around
// the file format the catalog and B+Tree share.
package pager

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"daemondb/internal/dbutil"
	"daemondb/page"
)

const (
	magic         = "DSQLv1"
	headerVersion = uint16(1)

	// DefaultPageSize is the page size used when none is given; any value
	// in [512, 65536] is accepted.
	DefaultPageSize = 4096

	minPageSize = 512
	maxPageSize = 65536
)

// fileHeader mirrors page 1 of the database file, byte-exact:
// magic(6) + version(u16 BE) + page_size(u32 BE) + page_count(u32 BE)
// + catalog_root(u32 BE) + free_list_head(u32 BE), remainder reserved.
type fileHeader struct {
	version       uint16
	pageSize      uint32
	pageCount     uint32
	catalogRoot   uint32
	freeListHead  uint32
}

const freeListHeadOffset = 20

func (h *fileHeader) encode(buf []byte) {
	copy(buf[0:6], magic)
	binary.BigEndian.PutUint16(buf[6:8], h.version)
	binary.BigEndian.PutUint32(buf[8:12], h.pageSize)
	binary.BigEndian.PutUint32(buf[12:16], h.pageCount)
	binary.BigEndian.PutUint32(buf[16:20], h.catalogRoot)
	binary.BigEndian.PutUint32(buf[freeListHeadOffset:freeListHeadOffset+4], h.freeListHead)
}

func decodeHeader(buf []byte) (*fileHeader, error) {
	if string(buf[0:6]) != magic {
		return nil, dbutil.New(dbutil.KindCorrupt, "pager: bad magic %q", buf[0:6])
	}
	h := &fileHeader{
		version:      binary.BigEndian.Uint16(buf[6:8]),
		pageSize:     binary.BigEndian.Uint32(buf[8:12]),
		pageCount:    binary.BigEndian.Uint32(buf[12:16]),
		catalogRoot:  binary.BigEndian.Uint32(buf[16:20]),
		freeListHead: binary.BigEndian.Uint32(buf[freeListHeadOffset : freeListHeadOffset+4]),
	}
	if h.version != headerVersion {
		return nil, dbutil.New(dbutil.KindCorrupt, "pager: unsupported format version %d", h.version)
	}
	if h.pageSize < minPageSize || h.pageSize > maxPageSize {
		return nil, dbutil.New(dbutil.KindCorrupt, "pager: invalid page size %d", h.pageSize)
	}
	return h, nil
}

// Pager owns the backing file, the clean-page cache and the dirty/shadow
// maps a transaction needs for rollback. It is process-local and not safe
// for concurrent use without external synchronization.
type Pager struct {
	file     *os.File
	path     string
	pageSize int
	header   *fileHeader

	cache *ristretto.Cache[uint32, []byte]

	mu      sync.Mutex
	dirty   map[uint32][]byte // pageID -> current buffer, pending flush
	inTxn   bool
	shadow  map[uint32][]byte // pageID -> pre-write image, only while inTxn
	touched map[uint32]bool   // pages written during the current txn, in order-independent set form
}

// Open creates the file with a header page if absent, or validates the
// existing header otherwise. pageSize is only consulted on creation.
func Open(path string, pageSize int) (*Pager, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dbutil.Wrap(dbutil.KindIO, err, "pager: open %s", path)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, dbutil.Wrap(dbutil.KindIO, err, "pager: stat %s", path)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[uint32, []byte]{
		NumCounters: 10_000,
		MaxCost:     1 << 25, // 32MiB of clean pages
		BufferItems: 64,
	})
	if err != nil {
		file.Close()
		return nil, dbutil.Wrap(dbutil.KindInternal, err, "pager: init cache")
	}

	p := &Pager{
		file:    file,
		path:    path,
		cache:   cache,
		dirty:   make(map[uint32][]byte),
		shadow:  make(map[uint32][]byte),
		touched: make(map[uint32]bool),
	}

	if stat.Size() == 0 {
		p.pageSize = pageSize
		p.header = &fileHeader{version: headerVersion, pageSize: uint32(pageSize), pageCount: 1}
		headerBuf := make([]byte, pageSize)
		p.header.encode(headerBuf)
		if _, err := p.file.WriteAt(headerBuf, 0); err != nil {
			file.Close()
			return nil, dbutil.Wrap(dbutil.KindIO, err, "pager: write initial header")
		}
		if err := p.file.Sync(); err != nil {
			file.Close()
			return nil, dbutil.Wrap(dbutil.KindIO, err, "pager: sync initial header")
		}
		return p, nil
	}

	probe := make([]byte, 32)
	if _, err := file.ReadAt(probe, 0); err != nil {
		file.Close()
		return nil, dbutil.Wrap(dbutil.KindIO, err, "pager: read header probe")
	}
	if string(probe[0:6]) != magic {
		file.Close()
		return nil, dbutil.New(dbutil.KindCorrupt, "pager: not a database file: %s", path)
	}
	probedSize := binary.BigEndian.Uint32(probe[8:12])
	full := make([]byte, probedSize)
	if _, err := file.ReadAt(full, 0); err != nil {
		file.Close()
		return nil, dbutil.Wrap(dbutil.KindIO, err, "pager: read header page")
	}
	header, err := decodeHeader(full)
	if err != nil {
		file.Close()
		return nil, err
	}
	p.header = header
	p.pageSize = int(header.pageSize)
	return p, nil
}

// PageSize returns the fixed page size for this file.
func (p *Pager) PageSize() int { return p.pageSize }

// PageCount returns the number of pages currently allocated, including page 1.
func (p *Pager) PageCount() uint32 { return p.header.pageCount }

// CatalogRoot returns the root page id of the catalog meta chain, 0 if unset.
func (p *Pager) CatalogRoot() uint32 { return p.header.catalogRoot }

// SetCatalogRoot records the catalog's root page id in the file header.
func (p *Pager) SetCatalogRoot(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.catalogRoot = id
	p.markHeaderDirty()
}

func (p *Pager) markHeaderDirty() {
	buf := make([]byte, p.pageSize)
	p.header.encode(buf)
	p.dirty[1] = buf
}

// ReadPage returns the page with the given id, served from the dirty set or
// the clean cache, falling back to a disk read. Fails InvalidPage if id is
// out of range.
func (p *Pager) ReadPage(id uint32) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readPageLocked(id)
}

func (p *Pager) readPageLocked(id uint32) (*page.Page, error) {
	if id == 0 || id > p.header.pageCount {
		return nil, dbutil.New(dbutil.KindInvalidPage, "pager: page %d out of range (count=%d)", id, p.header.pageCount)
	}
	if buf, ok := p.dirty[id]; ok {
		return page.New(id, buf), nil
	}
	if buf, ok := p.cache.Get(id); ok {
		return page.New(id, append([]byte(nil), buf...)), nil
	}
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, int64(id-1)*int64(p.pageSize)); err != nil {
		return nil, dbutil.Wrap(dbutil.KindIO, err, "pager: read page %d", id)
	}
	p.cache.Set(id, append([]byte(nil), buf...), int64(p.pageSize))
	return page.New(id, buf), nil
}

// WritePage buffers pg in the dirty set. In transaction mode, the first
// write to a given page id captures the page's current on-disk/cache image
// into the shadow map before the new bytes take effect.
func (p *Pager) WritePage(pg *page.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inTxn {
		if _, saved := p.shadow[pg.ID]; !saved {
			original, err := p.readPageLocked(pg.ID)
			if err != nil {
				return err
			}
			p.shadow[pg.ID] = append([]byte(nil), original.Buf...)
		}
		p.touched[pg.ID] = true
	}
	p.dirty[pg.ID] = append([]byte(nil), pg.Buf...)
	p.cache.Del(pg.ID)
	return nil
}

// AllocatePage returns a pre-zeroed page of the given type, taking an id
// from the free-list first, else extending the file at EOF.
func (p *Pager) AllocatePage(typ page.Type) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var id uint32
	if p.header.freeListHead != 0 {
		id = p.header.freeListHead
		freed, err := p.readPageLocked(id)
		if err != nil {
			return nil, err
		}
		p.header.freeListHead = freed.RightChild()
		p.markHeaderDirty()
	} else {
		p.header.pageCount++
		id = p.header.pageCount
		p.markHeaderDirty()
	}

	buf := make([]byte, p.pageSize)
	pg := page.Init(id, buf, typ)
	p.dirty[id] = append([]byte(nil), buf...)
	p.cache.Del(id)
	if p.inTxn {
		// a freshly allocated page has no prior on-disk image to shadow.
		// RollbackTxn does not undo the allocation: the page is not
		// returned to the free-list, and the header's page count and
		// free-list head keep their new values.
		p.touched[id] = true
	}
	return pg, nil
}

// FreePage links id onto the free-list, chained through the freed page's
// own right_child header field.
func (p *Pager) FreePage(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, p.pageSize)
	freePg := page.Init(id, buf, page.TypeFree)
	freePg.SetRightChild(p.header.freeListHead)

	if p.inTxn {
		if _, saved := p.shadow[id]; !saved {
			original, err := p.readPageLocked(id)
			if err != nil {
				return err
			}
			p.shadow[id] = append([]byte(nil), original.Buf...)
		}
		p.touched[id] = true
	}

	p.dirty[id] = append([]byte(nil), buf...)
	p.cache.Del(id)
	p.header.freeListHead = id
	p.markHeaderDirty()
	return nil
}

// Flush writes every dirty page to the file and fsyncs.
func (p *Pager) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

func (p *Pager) flushLocked() error {
	for id, buf := range p.dirty {
		if _, err := p.file.WriteAt(buf, int64(id-1)*int64(p.pageSize)); err != nil {
			return dbutil.Wrap(dbutil.KindIO, err, "pager: flush page %d", id)
		}
		p.cache.Set(id, append([]byte(nil), buf...), int64(p.pageSize))
	}
	p.dirty = make(map[uint32][]byte)
	if err := p.file.Sync(); err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "pager: fsync")
	}
	return nil
}

// BeginTxn switches the pager into transaction mode: subsequent first
// writes to any page capture a shadow image for Rollback.
func (p *Pager) BeginTxn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inTxn = true
	p.shadow = make(map[uint32][]byte)
	p.touched = make(map[uint32]bool)
}

// ModifiedPages returns the set of page ids written since BeginTxn, used by
// the WAL to know which pages to append as frames on commit.
func (p *Pager) ModifiedPages() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uint32, 0, len(p.touched))
	for id := range p.touched {
		ids = append(ids, id)
	}
	return ids
}

// PageData returns the current buffered bytes for a page id known to be
// dirty (i.e. present in ModifiedPages), for the WAL to copy into a frame.
func (p *Pager) PageData(id uint32) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.dirty[id]...)
}

// CommitTxn leaves transaction mode without touching any page contents; the
// caller (txn.Manager) is responsible for having durably logged the
// modified pages to the WAL first.
func (p *Pager) CommitTxn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inTxn = false
	p.shadow = make(map[uint32][]byte)
	p.touched = make(map[uint32]bool)
}

// RollbackTxn restores every shadowed page to its pre-transaction image and
// leaves transaction mode.
func (p *Pager) RollbackTxn() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, original := range p.shadow {
		p.dirty[id] = append([]byte(nil), original...)
		p.cache.Del(id)
	}
	p.inTxn = false
	p.shadow = make(map[uint32][]byte)
	p.touched = make(map[uint32]bool)
	return nil
}

// WriteRawPage forces buf onto disk at id's offset immediately, bypassing
// the dirty set, and drops any cached or dirty copy of the page so the next
// read comes from disk. Used by WAL recovery and checkpointing to apply
// committed frames back into the main file.
func (p *Pager) WriteRawPage(id uint32, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.file.WriteAt(buf, int64(id-1)*int64(p.pageSize)); err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "pager: write raw page %d", id)
	}
	p.cache.Del(id)
	delete(p.dirty, id)
	return nil
}

// Close flushes and closes the backing file.
func (p *Pager) Close() error {
	if err := p.Flush(); err != nil {
		p.file.Close()
		return err
	}
	p.cache.Close()
	if err := p.file.Close(); err != nil {
		return dbutil.Wrap(dbutil.KindIO, err, "pager: close")
	}
	return nil
}

// String implements a human-readable summary for logging.
func (p *Pager) String() string {
	return fmt.Sprintf("pager(%s, pageSize=%d, pages=%d)", p.path, p.pageSize, p.header.pageCount)
}
