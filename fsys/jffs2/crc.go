package jffs2

import "hash/crc32"

// CRC computes the checksum JFFS2 stores in its nodes: the IEEE CRC-32
// polynomial with a zero seed and no final inversion.
func CRC(p []byte) uint32 {
	return ^crc32.Update(0xFFFFFFFF, crc32.IEEETable, p)
}
