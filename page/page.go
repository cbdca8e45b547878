// Package page implements the fixed-size page layout shared by every page
// in the database file: a 12-byte page header, a cell-pointer array growing
// upward from the header, and cells growing downward from the end of the
// page, the slotted-page layout B+Tree leaf and interior pages share.
package page

import (
	"encoding/binary"

	"daemondb/internal/dbutil"
	"daemondb/internal/varint"
)

// Type tags the page's role.
type Type byte

const (
	TypeLeaf     Type = 1
	TypeInterior Type = 2
	TypeOverflow Type = 3
	TypeFree     Type = 4
	TypeMeta     Type = 5
)

// HeaderSize is the fixed 12-byte page header: type, reserved, cell_count,
// content_offset, fragmented_bytes, right_child.
const HeaderSize = 12

// Page wraps a fixed-size buffer (Pager-owned) with typed accessors over the
// page header, the cell-pointer array, and the cell region.
type Page struct {
	ID   uint32
	Size int
	Buf  []byte
}

// New wraps an existing, already-sized buffer (as read from disk or handed
// out by the Pager) without copying it.
func New(id uint32, buf []byte) *Page {
	return &Page{ID: id, Size: len(buf), Buf: buf}
}

// Init formats buf as an empty page of the given type and size, in place.
func Init(id uint32, buf []byte, typ Type) *Page {
	for i := range buf {
		buf[i] = 0
	}
	p := &Page{ID: id, Size: len(buf), Buf: buf}
	p.SetType(typ)
	p.SetCellCount(0)
	p.SetContentOffset(uint16(len(buf)))
	p.SetFragmented(0)
	p.SetRightChild(0)
	return p
}

func (p *Page) Type() Type             { return Type(p.Buf[0]) }
func (p *Page) SetType(t Type)         { p.Buf[1] = 0; p.Buf[0] = byte(t) }
func (p *Page) CellCount() int         { return int(binary.LittleEndian.Uint16(p.Buf[2:4])) }
func (p *Page) SetCellCount(n int)     { binary.LittleEndian.PutUint16(p.Buf[2:4], uint16(n)) }
func (p *Page) ContentOffset() uint16  { return binary.LittleEndian.Uint16(p.Buf[4:6]) }
func (p *Page) SetContentOffset(v uint16) { binary.LittleEndian.PutUint16(p.Buf[4:6], v) }
func (p *Page) Fragmented() uint16     { return binary.LittleEndian.Uint16(p.Buf[6:8]) }
func (p *Page) SetFragmented(v uint16) { binary.LittleEndian.PutUint16(p.Buf[6:8], v) }
func (p *Page) RightChild() uint32     { return binary.LittleEndian.Uint32(p.Buf[8:12]) }
func (p *Page) SetRightChild(v uint32) { binary.LittleEndian.PutUint32(p.Buf[8:12], v) }

// cellPtrOffset returns the byte offset of the i'th entry in the
// cell-pointer array.
func cellPtrOffset(i int) int { return HeaderSize + 2*i }

func (p *Page) cellOffsetAt(i int) uint16 {
	off := cellPtrOffset(i)
	return binary.LittleEndian.Uint16(p.Buf[off : off+2])
}

func (p *Page) setCellOffsetAt(i int, v uint16) {
	off := cellPtrOffset(i)
	binary.LittleEndian.PutUint16(p.Buf[off:off+2], v)
}

// FreeSpace returns the number of bytes available between the end of the
// cell-pointer array and the start of the cell region.
func (p *Page) FreeSpace() int {
	arrayEnd := cellPtrOffset(p.CellCount())
	return int(p.ContentOffset()) - arrayEnd
}

// UsedBytes returns the number of bytes occupied by cell payloads (not
// counting the header or pointer array), used for occupancy calculations.
func (p *Page) UsedBytes() int {
	return p.Size - int(p.ContentOffset())
}

// rawCellAt returns the raw bytes of the i'th cell, addressed via the
// cell-pointer array. The cell's own length must be parsed by the caller
// (leaf and interior cells are self-describing).
func (p *Page) rawCellAt(i int) []byte {
	return p.Buf[p.cellOffsetAt(i):]
}

// InsertCellAt inserts raw cell bytes at pointer-array slot idx, shifting
// later pointers right for unique-key, sorted cell-pointer arrays. Fails
// with KindInternal if there is insufficient free space (callers must check
// FreeSpace first, e.g. before deciding to split).
func (p *Page) InsertCellAt(idx int, cell []byte) error {
	need := len(cell) + 2
	if p.FreeSpace() < need {
		return dbutil.New(dbutil.KindInternal, "page: insufficient free space for %d-byte cell", len(cell))
	}
	newOffset := p.ContentOffset() - uint16(len(cell))
	copy(p.Buf[newOffset:], cell)

	count := p.CellCount()
	for i := count; i > idx; i-- {
		p.setCellOffsetAt(i, p.cellOffsetAt(i-1))
	}
	p.setCellOffsetAt(idx, newOffset)
	p.SetCellCount(count + 1)
	p.SetContentOffset(newOffset)
	return nil
}

// DeleteCellAt removes the pointer-array entry at idx. The cell bytes
// themselves become fragmentation; Defrag reclaims them.
func (p *Page) DeleteCellAt(idx int) {
	cellLen := p.cellLenAt(idx)
	count := p.CellCount()
	for i := idx; i < count-1; i++ {
		p.setCellOffsetAt(i, p.cellOffsetAt(i+1))
	}
	p.SetCellCount(count - 1)
	p.SetFragmented(p.Fragmented() + uint16(cellLen))
}

// cellLenAt returns the byte length of the i'th cell by parsing its
// self-describing prefix, dispatched by page type.
func (p *Page) cellLenAt(i int) int {
	raw := p.rawCellAt(i)
	switch p.Type() {
	case TypeLeaf:
		return leafCellLen(raw)
	case TypeInterior:
		return interiorCellLen(raw)
	default:
		return 0
	}
}

// Defrag compacts all live cells to the end of the buffer, eliminating
// fragmentation produced by deletes. It rewrites the cell-pointer array in
// place, preserving order.
func (p *Page) Defrag() {
	count := p.CellCount()
	if count == 0 {
		p.SetContentOffset(uint16(p.Size))
		p.SetFragmented(0)
		return
	}
	cells := make([][]byte, count)
	for i := 0; i < count; i++ {
		length := p.cellLenAt(i)
		cells[i] = append([]byte(nil), p.rawCellAt(i)[:length]...)
	}
	offset := uint16(p.Size)
	for i := 0; i < count; i++ {
		offset -= uint16(len(cells[i]))
		copy(p.Buf[offset:], cells[i])
		p.setCellOffsetAt(i, offset)
	}
	p.SetContentOffset(offset)
	p.SetFragmented(0)
}

// ---- Leaf cells: {key_len varint, key_bytes, payload_len varint, record} ----

func EncodeLeafCell(key, payload []byte) []byte {
	var scratch [varint.MaxLen]byte
	buf := make([]byte, 0, len(key)+len(payload)+2*varint.MaxLen)
	n := varint.Put(scratch[:], uint64(len(key)))
	buf = append(buf, scratch[:n]...)
	buf = append(buf, key...)
	n = varint.Put(scratch[:], uint64(len(payload)))
	buf = append(buf, scratch[:n]...)
	buf = append(buf, payload...)
	return buf
}

// DecodeLeafCell parses a leaf cell, returning its key and payload as
// sub-slices of raw (no copy).
func DecodeLeafCell(raw []byte) (key, payload []byte, err error) {
	keyLen, n, err := varint.Get(raw)
	if err != nil {
		return nil, nil, dbutil.Wrap(dbutil.KindCorrupt, err, "page: bad leaf cell key length")
	}
	raw = raw[n:]
	if uint64(len(raw)) < keyLen {
		return nil, nil, dbutil.New(dbutil.KindCorrupt, "page: truncated leaf cell key")
	}
	key = raw[:keyLen]
	raw = raw[keyLen:]

	payloadLen, n, err := varint.Get(raw)
	if err != nil {
		return nil, nil, dbutil.Wrap(dbutil.KindCorrupt, err, "page: bad leaf cell payload length")
	}
	raw = raw[n:]
	if uint64(len(raw)) < payloadLen {
		return nil, nil, dbutil.New(dbutil.KindCorrupt, "page: truncated leaf cell payload")
	}
	payload = raw[:payloadLen]
	return key, payload, nil
}

func leafCellLen(raw []byte) int {
	keyLen, n, err := varint.Get(raw)
	if err != nil {
		return 0
	}
	off := n + int(keyLen)
	payloadLen, n2, err := varint.Get(raw[off:])
	if err != nil {
		return 0
	}
	return off + n2 + int(payloadLen)
}

// LeafKeyAt returns the key of the i'th cell on a leaf page.
func (p *Page) LeafKeyAt(i int) ([]byte, error) {
	key, _, err := DecodeLeafCell(p.rawCellAt(i))
	return key, err
}

// LeafCellAt returns the decoded key and payload of the i'th cell on a leaf
// page.
func (p *Page) LeafCellAt(i int) (key, payload []byte, err error) {
	return DecodeLeafCell(p.rawCellAt(i))
}

// ---- Interior cells: {child_page_id u32 BE, key_len varint, key_bytes} ----

func EncodeInteriorCell(childPageID uint32, key []byte) []byte {
	var scratch [varint.MaxLen]byte
	buf := make([]byte, 4, 4+len(key)+varint.MaxLen)
	binary.BigEndian.PutUint32(buf[0:4], childPageID)
	n := varint.Put(scratch[:], uint64(len(key)))
	buf = append(buf, scratch[:n]...)
	buf = append(buf, key...)
	return buf
}

func DecodeInteriorCell(raw []byte) (childPageID uint32, key []byte, err error) {
	if len(raw) < 4 {
		return 0, nil, dbutil.New(dbutil.KindCorrupt, "page: truncated interior cell child id")
	}
	childPageID = binary.BigEndian.Uint32(raw[0:4])
	raw = raw[4:]
	keyLen, n, err := varint.Get(raw)
	if err != nil {
		return 0, nil, dbutil.Wrap(dbutil.KindCorrupt, err, "page: bad interior cell key length")
	}
	raw = raw[n:]
	if uint64(len(raw)) < keyLen {
		return 0, nil, dbutil.New(dbutil.KindCorrupt, "page: truncated interior cell key")
	}
	return childPageID, raw[:keyLen], nil
}

func interiorCellLen(raw []byte) int {
	if len(raw) < 4 {
		return 0
	}
	keyLen, n, err := varint.Get(raw[4:])
	if err != nil {
		return 0
	}
	return 4 + n + int(keyLen)
}

// InteriorChildAt returns the child page id of the i'th cell on an interior
// page.
func (p *Page) InteriorChildAt(i int) (uint32, error) {
	child, _, err := DecodeInteriorCell(p.rawCellAt(i))
	return child, err
}

// InteriorKeyAt returns the separator key of the i'th cell on an interior
// page.
func (p *Page) InteriorKeyAt(i int) ([]byte, error) {
	_, key, err := DecodeInteriorCell(p.rawCellAt(i))
	return key, err
}
