// Package wire implements the binary record envelope used by blob-shaped
// durable stores (badger, redis). The key is not part of the envelope; it is
// the store's own key.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("wire: corrupt record")
	magic4     = [...]byte{'S', 'L', 'B', 'C'}
)

const header = 4 + 1 + 4 + 4 + 4 + 4 // magic | ver | flags | exptime | hash | vlen

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode lays out: magic(4) | ver(1) | flags(u32 be) | exptime(u32 be) |
// hash(u32 be) | vlen(u32 be) | value(vlen).
func Encode(flags, exptime, hash uint32, value []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(header + len(value))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], flags)
	buf.Write(u4[:])
	binary.BigEndian.PutUint32(u4[:], exptime)
	buf.Write(u4[:])
	binary.BigEndian.PutUint32(u4[:], hash)
	buf.Write(u4[:])
	binary.BigEndian.PutUint32(u4[:], uint32(len(value)))
	buf.Write(u4[:])

	buf.Write(value)
	return buf.Bytes()
}

func Decode(b []byte) (flags, exptime, hash uint32, value []byte, err error) {
	if len(b) < header || !hasMagic(b) || b[4] != version {
		return 0, 0, 0, nil, ErrCorrupt
	}

	off := 5
	flags = binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	exptime = binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	hash = binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // overflow-safe bound check
		return 0, 0, 0, nil, ErrCorrupt
	}

	return flags, exptime, hash, b[off : off+vlen], nil
}
