package mpegts

import (
	"errors"
	"fmt"
)

// ErrChecksum reports a PSI section whose CRC does not verify.
var ErrChecksum = errors.New("mpegts: section checksum mismatch")

// crcTable is the MSB-first table for the MPEG-2 polynomial 0x04C11DB7.
var crcTable = func() (t [256]uint32) {
	for n := range t {
		c := uint32(n) << 24
		for range 8 {
			c = c<<1 ^ 0x04C11DB7*(c>>31)
		}
		t[n] = c
	}
	return t
}()

// CRC32 computes the MPEG-2 CRC of data. A section with its trailing CRC
// appended checks to zero.
func CRC32(data []byte) uint32 {
	c := ^uint32(0)
	for _, b := range data {
		c = c<<8 ^ crcTable[byte(c>>24)^b]
	}
	return c
}

func checkSection(table string, data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("mpegts: %s section of %d bytes has no CRC", table, len(data))
	}
	if CRC32(data) != 0 {
		return fmt.Errorf("%w in %s", ErrChecksum, table)
	}
	return nil
}
