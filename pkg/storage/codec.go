package storage

import (
	"encoding/binary"

	"github.com/holiman/uint256"
)

// EncodeUint64 returns the 8-byte big-endian form of v, which sorts the same
// way as the integer.
func EncodeUint64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

// DecodeUint64 is the inverse of EncodeUint64. Short input decodes to 0.
func DecodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// EncodeAmount stores a 256-bit amount as 32 big-endian bytes.
func EncodeAmount(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

// DecodeAmount is the inverse of EncodeAmount. Missing values decode to zero.
func DecodeAmount(b []byte) *uint256.Int {
	return new(uint256.Int).SetBytes(b)
}
