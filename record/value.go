// Package record implements the typed Value union and the varint-encoded
// record format described by the storage layer: NULL/INTEGER/REAL/TEXT/BLOB
// values with a total order for keys and ORDER BY.
package record

import (
	"bytes"
	"math"
)

// Kind tags the dynamic type of a Value.
type Kind byte

const (
	Null Kind = iota
	Integer
	Real
	Text
	Blob
)

// Value is one of Null, Integer(i64), Real(f64), Text(utf8) or Blob(bytes).
type Value struct {
	kind Kind
	i    int64
	r    float64
	s    string
	b    []byte
}

func NewNull() Value           { return Value{kind: Null} }
func NewInt(v int64) Value     { return Value{kind: Integer, i: v} }
func NewReal(v float64) Value  { return Value{kind: Real, r: v} }
func NewText(v string) Value   { return Value{kind: Text, s: v} }
func NewBlob(v []byte) Value   { return Value{kind: Blob, b: append([]byte(nil), v...)} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == Null }
func (v Value) Int() int64     { return v.i }
func (v Value) Real() float64  { return v.r }
func (v Value) Text() string   { return v.s }
func (v Value) Blob() []byte   { return v.b }

// AsFloat coerces Integer or Real to float64; it returns 0 for other kinds
// (callers must check Kind first).
func (v Value) AsFloat() float64 {
	if v.kind == Integer {
		return float64(v.i)
	}
	return v.r
}

func (v Value) Equal(o Value) bool {
	return Compare(v, o) == 0
}

// rank gives the coarse ordering bucket: NULL < numeric < TEXT < BLOB.
func rank(k Kind) int {
	switch k {
	case Null:
		return 0
	case Integer, Real:
		return 1
	case Text:
		return 2
	case Blob:
		return 3
	default:
		return 4
	}
}

// Compare implements the total order over Values: NULLs sort first, Integer
// and Real compare numerically (with Integer coerced to Real when mixed),
// Text compares lexicographically, Blob compares byte-for-byte.
func Compare(a, b Value) int {
	ra, rb := rank(a.kind), rank(b.kind)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.kind {
	case Null:
		return 0
	case Integer, Real:
		af, bf := a.AsFloat(), b.AsFloat()
		if a.kind == Integer && b.kind == Integer {
			if a.i < b.i {
				return -1
			} else if a.i > b.i {
				return 1
			}
			return 0
		}
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case Text:
		return compareStrings(a.s, b.s)
	case Blob:
		return bytes.Compare(a.b, b.b)
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Truthy implements WHERE truthiness: only a nonzero Integer or a nonzero
// numeric Real is truthy; NULL and everything else is not.
func (v Value) Truthy() bool {
	switch v.kind {
	case Integer:
		return v.i != 0
	case Real:
		return v.r != 0 && !math.IsNaN(v.r)
	default:
		return false
	}
}
