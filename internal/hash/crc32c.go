package hash

import "hash/crc32"

// crc32cTable is pre-computed once; MakeTable is not free and upload
// paths checksum every part.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data. Go's crc32
// package dispatches to hardware instructions (SSE4.2, ARM CRC) when
// available.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}
