// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

// Polynomial is the reflected form of x^8+x^7+x^6+x^4+x^2+1.
const Polynomial = 0xD5

var table = makeTable()

func makeTable() (t [256]byte) {
	for i := range t {
		v := byte(i)
		for bit := 0; bit < 8; bit++ {
			if v&0x01 != 0 {
				v = (v >> 1) ^ Polynomial
			} else {
				v >>= 1
			}
		}
		t[i] = v
	}
	return
}

// CRC is the 8 bit checksum carried by every drive frame.
type CRC struct {
	value byte
}

func (crc *CRC) Reset() *CRC {
	crc.value = 0xFF
	return crc
}

func (crc *CRC) PushByte(b byte) *CRC {
	crc.value = table[crc.value^b]
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	for _, b := range bs {
		crc.PushByte(b)
	}
	return crc
}

func (crc *CRC) Value() byte {
	return crc.value
}
