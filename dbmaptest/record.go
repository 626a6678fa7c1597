package dbmaptest

import "encoding/binary"

// RecordSize is the encoded size of a Record in bytes.
const RecordSize = 15

// Record is a fixed-layout binary value used by the suite to exercise typed
// transforms: one byte, one 16-bit, one 32-bit and one 64-bit field, all
// big-endian.
type Record struct {
	Byte uint8
	Word uint16
	Long uint32
	Quad uint64
}

// Encode returns the 15-byte big-endian encoding of r.
func (r Record) Encode() []byte {
	buf := make([]byte, RecordSize)
	buf[0] = r.Byte
	binary.BigEndian.PutUint16(buf[1:3], r.Word)
	binary.BigEndian.PutUint32(buf[3:7], r.Long)
	binary.BigEndian.PutUint64(buf[7:15], r.Quad)
	return buf
}

// DecodeRecord parses a value written by Encode. It is pure, so it is safe
// to use as a GetAs/ReplaceAs transform.
func DecodeRecord(b []byte) Record {
	return Record{
		Byte: b[0],
		Word: binary.BigEndian.Uint16(b[1:3]),
		Long: binary.BigEndian.Uint32(b[3:7]),
		Quad: binary.BigEndian.Uint64(b[7:15]),
	}
}
