// Package crc implements the CRC-16 CCITT checksum used by SDO block transfers.
// Polynomial x^16 + x^12 + x^5 + 1, initial value 0, no reflection.
package crc

type CRC16 uint16

var table [256]uint16

func init() {
	for i := range table {
		c := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if c&0x8000 != 0 {
				c = c<<1 ^ 0x1021
			} else {
				c <<= 1
			}
		}
		table[i] = c
	}
}

// Update crc with a single byte
func (crc *CRC16) Single(b byte) {
	*crc = CRC16(uint16(*crc)<<8 ^ table[byte(uint16(*crc)>>8)^b])
}

// Update crc with a block of bytes
func (crc *CRC16) Block(data []byte) {
	for _, b := range data {
		crc.Single(b)
	}
}

// Compute the crc of data, starting from 0
func Compute(data []byte) CRC16 {
	var crc CRC16
	crc.Block(data)
	return crc
}
