package record

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"daemondb/internal/dbutil"
	"daemondb/internal/varint"
)

// Encode serializes values into the on-disk record format: a varint value
// count, a run of one-byte type tags, then the payloads in order. Integers
// are zigzag+varint, reals are big-endian IEEE 754, text/blob are
// varint-length-prefixed bytes.
func Encode(values []Value) []byte {
	buf := make([]byte, 0, 16+8*len(values))

	var countBuf [varint.MaxLen]byte
	n := varint.Put(countBuf[:], uint64(len(values)))
	buf = append(buf, countBuf[:n]...)

	for _, v := range values {
		buf = append(buf, byte(v.kind))
	}

	var scratch [varint.MaxLen]byte
	for _, v := range values {
		switch v.kind {
		case Null:
			// no payload
		case Integer:
			n := varint.PutSigned(scratch[:], v.i)
			buf = append(buf, scratch[:n]...)
		case Real:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(v.r))
			buf = append(buf, b[:]...)
		case Text:
			n := varint.Put(scratch[:], uint64(len(v.s)))
			buf = append(buf, scratch[:n]...)
			buf = append(buf, v.s...)
		case Blob:
			n := varint.Put(scratch[:], uint64(len(v.b)))
			buf = append(buf, scratch[:n]...)
			buf = append(buf, v.b...)
		}
	}
	return buf
}

// Decode parses the record format produced by Encode. It fails with a
// dbutil.Error of KindCorrupt if buf is truncated or malformed.
func Decode(buf []byte) ([]Value, error) {
	count, n, err := varint.Get(buf)
	if err != nil {
		return nil, dbutil.Wrap(dbutil.KindCorrupt, err, "record: bad value count")
	}
	buf = buf[n:]

	if uint64(len(buf)) < count {
		return nil, dbutil.New(dbutil.KindCorrupt, "record: truncated type tags")
	}
	tags := make([]Kind, count)
	for i := range tags {
		tags[i] = Kind(buf[i])
	}
	buf = buf[count:]

	values := make([]Value, count)
	for i, k := range tags {
		switch k {
		case Null:
			values[i] = Value{kind: Null}
		case Integer:
			iv, n, err := varint.GetSigned(buf)
			if err != nil {
				return nil, dbutil.Wrap(dbutil.KindCorrupt, err, "record: bad integer at field %d", i)
			}
			values[i] = Value{kind: Integer, i: iv}
			buf = buf[n:]
		case Real:
			if len(buf) < 8 {
				return nil, dbutil.New(dbutil.KindCorrupt, "record: truncated real at field %d", i)
			}
			bits := binary.BigEndian.Uint64(buf[:8])
			values[i] = Value{kind: Real, r: math.Float64frombits(bits)}
			buf = buf[8:]
		case Text:
			length, n, err := varint.Get(buf)
			if err != nil {
				return nil, dbutil.Wrap(dbutil.KindCorrupt, err, "record: bad text length at field %d", i)
			}
			buf = buf[n:]
			if uint64(len(buf)) < length {
				return nil, dbutil.New(dbutil.KindCorrupt, "record: truncated text at field %d", i)
			}
			if !utf8.Valid(buf[:length]) {
				return nil, dbutil.New(dbutil.KindCorrupt, "record: invalid UTF-8 in text at field %d", i)
			}
			values[i] = Value{kind: Text, s: string(buf[:length])}
			buf = buf[length:]
		case Blob:
			length, n, err := varint.Get(buf)
			if err != nil {
				return nil, dbutil.Wrap(dbutil.KindCorrupt, err, "record: bad blob length at field %d", i)
			}
			buf = buf[n:]
			if uint64(len(buf)) < length {
				return nil, dbutil.New(dbutil.KindCorrupt, "record: truncated blob at field %d", i)
			}
			values[i] = Value{kind: Blob, b: append([]byte(nil), buf[:length]...)}
			buf = buf[length:]
		default:
			return nil, dbutil.New(dbutil.KindCorrupt, "record: unknown type tag %d at field %d", k, i)
		}
	}
	return values, nil
}

// EncodedLen returns len(Encode(values)) without allocating the buffer,
// used by the page layer to size cells before writing them.
func EncodedLen(values []Value) int {
	n := varint.Len(uint64(len(values))) + len(values)
	for _, v := range values {
		switch v.kind {
		case Integer:
			n += varint.LenSigned(v.i)
		case Real:
			n += 8
		case Text:
			n += varint.Len(uint64(len(v.s))) + len(v.s)
		case Blob:
			n += varint.Len(uint64(len(v.b))) + len(v.b)
		}
	}
	return n
}

// RowIDKey encodes a table rowid as the big-endian 8-byte key used by leaf
// cells, per the fixed rowid-key convention.
func RowIDKey(rowid int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(rowid))
	return b[:]
}

// DecodeRowIDKey reverses RowIDKey.
func DecodeRowIDKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key))
}
