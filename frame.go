// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tmc5072

import (
	"encoding/binary"
	"fmt"
)

// frameLen is the size of one SPI datagram: one address byte followed by a
// 32 bit payload.
const frameLen = 5

const (
	// writeFlag is set in bit 7 of the address byte for write datagrams.
	writeFlag = 0x80
	// addrMask covers the 7 bit register address space.
	addrMask = 0x7F
)

// encodeFrame packs a single SPI datagram. The payload is transmitted
// big-endian, most significant byte first.
func encodeFrame(addr uint8, write bool, payload uint32) [frameLen]byte {
	var buf [frameLen]byte
	buf[0] = addr & addrMask
	if write {
		buf[0] |= writeFlag
	}
	binary.BigEndian.PutUint32(buf[1:], payload)
	return buf
}

// decodeFrame splits a response datagram into the chip status byte and the
// 32 bit payload. Note that the chip pipelines read data by one datagram:
// the payload in a response belongs to the previous read request, while the
// status byte is current.
func decodeFrame(buf []byte) (uint8, uint32, error) {
	if len(buf) != frameLen {
		return 0, 0, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameLength, len(buf), frameLen)
	}
	return buf[0], binary.BigEndian.Uint32(buf[1:]), nil
}
