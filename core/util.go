package core

import "encoding/binary"

// ZeroFill returns a buffer of size n filled with 0x00, the fill byte used
// when formatting DOS 3.3/ProDOS/Pascal/HFS/MFS regions.
func ZeroFill(n int) []byte {
	return make([]byte, n)
}

// E5Fill returns a buffer of size n filled with 0xE5, the CP/M "unused
// directory slot" fill byte used when formatting CP/M volumes.
func E5Fill(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 0xE5
	}
	return buf
}

// IsAllZero reports whether buf is entirely 0x00. Used by FileDescriptor
// write paths to decide whether a full-block write of zeros should be
// stored as a sparse hole instead of materialized on disk.
func IsAllZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// LE16/LE32/BE16/BE32 are the byte-order helpers drivers use when decoding
// on-disk fields: little-endian everywhere except HFS/MFS, which are
// big-endian (§6).
func LE16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func LE32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func BE16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func BE32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

func PutLE16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func PutLE32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func PutBE16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func PutBE32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
