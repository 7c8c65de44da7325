package decoder

import (
	"encoding/binary"
	"math/big"

	"defmtitm/internal/symtab"
)

// reader walks a frame body. Every read fails with a truncated error rather
// than reading past the end.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) bytes(n int, what string) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, truncated("%s needs %d bytes, %d left", what, n, r.remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) fixedUint(size int, what string) (uint64, error) {
	b, err := r.bytes(size, what)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

func (r *reader) fixedInt(size int, what string) (int64, error) {
	v, err := r.fixedUint(size, what)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - 8*size)
	return int64(v<<shift) >> shift, nil
}

func (r *reader) uint128(what string) (*big.Int, error) {
	b, err := r.bytes(16, what)
	if err != nil {
		return nil, err
	}
	be := make([]byte, 16)
	for i := range b {
		be[15-i] = b[i]
	}
	return new(big.Int).SetBytes(be), nil
}

var two128 = new(big.Int).Lsh(big.NewInt(1), 128)

func (r *reader) int128(what string) (*big.Int, error) {
	v, err := r.uint128(what)
	if err != nil {
		return nil, err
	}
	if v.Bit(127) == 1 {
		v.Sub(v, two128)
	}
	return v, nil
}

func (r *reader) uleb(what string) (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	switch {
	case n == 0:
		return 0, truncated("%s: incomplete leb128", what)
	case n < 0:
		return 0, malformed("%s: leb128 overflows 64 bits", what)
	}
	r.pos += n
	return v, nil
}

func (r *reader) sleb(what string) (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	switch {
	case n == 0:
		return 0, truncated("%s: incomplete leb128", what)
	case n < 0:
		return 0, malformed("%s: leb128 overflows 64 bits", what)
	}
	r.pos += n
	return v, nil
}

// lenPrefixed reads a uleb128 length followed by that many bytes.
func (r *reader) lenPrefixed(what string) ([]byte, error) {
	n, err := r.uleb(what + " length")
	if err != nil {
		return nil, err
	}
	if n > uint64(r.remaining()) {
		return nil, truncated("%s needs %d bytes, %d left", what, n, r.remaining())
	}
	return r.bytes(int(n), what)
}

// bitField reads the bytes covering bits and shifts them into place.
func (r *reader) bitField(bits symtab.BitRange, what string) (any, error) {
	size, shift := bits.WireSize(), bits.WireShift()
	if bits.End <= 64 {
		v, err := r.fixedUint(size, what)
		if err != nil {
			return nil, err
		}
		return v << shift, nil
	}
	b, err := r.bytes(size, what)
	if err != nil {
		return nil, err
	}
	be := make([]byte, size)
	for i := range b {
		be[size-1-i] = b[i]
	}
	return new(big.Int).Lsh(new(big.Int).SetBytes(be), shift), nil
}
