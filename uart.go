// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tmc5072

import (
	"fmt"
	"io"

	"github.com/tarm/serial"
	"periph.io/x/conn/v3"
)

const (
	// uartSync is the synchronization nibble opening every datagram. The
	// upper nibble is reserved and ignored on receive.
	uartSync = 0x05
	// uartMasterAddr is the address slaves reply to.
	uartMasterAddr = 0xFF
)

// OpenPort opens a serial port suitable for NewUART. The chip auto detects
// baud rates from 9600 up to half its internal clock on the single wire
// interface.
func OpenPort(name string, baud int) (io.ReadWriteCloser, error) {
	return serial.OpenPort(&serial.Config{Name: name, Baud: baud})
}

// NewUART returns a driver talking to the chip over its single wire UART
// interface at the given slave address, 0..255.
//
// The SPI status byte does not exist on this interface, so LastStatus
// always reports zero. Reads are a complete request and reply cycle each,
// without the SPI read pipelining.
func NewUART(rw io.ReadWriter, slave uint8, opts *Opts) (*Dev, error) {
	return newDev(&uartConn{rw: rw, slave: slave}, false, opts)
}

// uartConn speaks the chip's UART datagram format behind the 5 byte
// register transaction contract of Dev: a register write becomes a 64 bit
// write datagram, a register read becomes a 32 bit request followed by a
// 64 bit reply.
type uartConn struct {
	rw    io.ReadWriter
	slave uint8
}

// String implements conn.Conn.
func (u *uartConn) String() string {
	return fmt.Sprintf("UART(%d)", u.slave)
}

// Duplex implements conn.Conn.
func (u *uartConn) Duplex() conn.Duplex {
	return conn.Half
}

// Tx implements conn.Conn.
func (u *uartConn) Tx(w, r []byte) error {
	if len(w) != frameLen || len(r) != frameLen {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameLength, len(w), frameLen)
	}
	for i := range r {
		r[i] = 0
	}
	if w[0]&writeFlag != 0 {
		return u.write(w[0]&addrMask, w[1:])
	}
	return u.read(w[0], r[1:])
}

func (u *uartConn) write(addr uint8, data []byte) error {
	buf := [8]byte{uartSync, u.slave, addr | writeFlag}
	copy(buf[3:7], data)
	buf[7] = crc8(buf[:7])
	if _, err := u.rw.Write(buf[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrBus, err)
	}
	return nil
}

func (u *uartConn) read(addr uint8, data []byte) error {
	req := [4]byte{uartSync, u.slave, addr}
	req[3] = crc8(req[:3])
	if _, err := u.rw.Write(req[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrBus, err)
	}
	var reply [8]byte
	if _, err := io.ReadFull(u.rw, reply[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrBus, err)
	}
	if want := crc8(reply[:7]); reply[7] != want {
		return fmt.Errorf("%w: reply crc 0x%02X, want 0x%02X", ErrBus, reply[7], want)
	}
	if reply[0]&0x0F != uartSync || reply[1] != uartMasterAddr || reply[2]&addrMask != addr {
		return fmt.Errorf("%w: malformed reply % X", ErrBus, reply[:])
	}
	copy(data, reply[3:7])
	return nil
}

// crc8 computes the CRC8-ATM checksum over a datagram prefix: polynomial
// x^8 + x^2 + x + 1, initial value 0, data bit 0 first.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 0; i < 8; i++ {
			if (crc>>7)^(b&1) != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
			b >>= 1
		}
	}
	return crc
}

var _ conn.Conn = &uartConn{}
