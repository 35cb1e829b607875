// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tmc5072

import (
	"errors"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	for _, test := range []struct {
		name    string
		addr    uint8
		write   bool
		payload uint32
		want    [frameLen]byte
	}{
		{
			name: "read gconf",
			addr: 0x00,
			want: [frameLen]byte{0x00, 0x00, 0x00, 0x00, 0x00},
		},
		{
			name:    "write gconf",
			addr:    0x00,
			write:   true,
			payload: 0x00000001,
			want:    [frameLen]byte{0x80, 0x00, 0x00, 0x00, 0x01},
		},
		{
			name:    "write xtarget2 big endian",
			addr:    0x4D,
			write:   true,
			payload: 0x0001C350,
			want:    [frameLen]byte{0xCD, 0x00, 0x01, 0xC3, 0x50},
		},
		{
			name:    "top address all ones payload",
			addr:    0x7F,
			write:   true,
			payload: 0xFFFFFFFF,
			want:    [frameLen]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		},
		{
			name:    "write flag masked out of address",
			addr:    0xA7,
			payload: 0x80000000,
			want:    [frameLen]byte{0x27, 0x80, 0x00, 0x00, 0x00},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := encodeFrame(test.addr, test.write, test.payload); got != test.want {
				t.Fatalf("encodeFrame(0x%02X, %t, 0x%08X) = % X, want % X",
					test.addr, test.write, test.payload, got, test.want)
			}
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := []uint32{0x00000000, 0xFFFFFFFF, 0x80000000, 0x00000001, 0x7FFFFFFF}
	for addr := 0; addr <= int(addrMask); addr++ {
		for _, payload := range payloads {
			write := addr&1 == 0
			buf := encodeFrame(uint8(addr), write, payload)
			first, got, err := decodeFrame(buf[:])
			if err != nil {
				t.Fatalf("decodeFrame(0x%02X, 0x%08X): %v", addr, payload, err)
			}
			if got != payload {
				t.Fatalf("payload 0x%08X round tripped to 0x%08X", payload, got)
			}
			if first&addrMask != uint8(addr) {
				t.Fatalf("address 0x%02X round tripped to 0x%02X", addr, first&addrMask)
			}
			if (first&writeFlag != 0) != write {
				t.Fatalf("write flag lost for address 0x%02X", addr)
			}
		}
	}
}

func TestDecodeFrameLength(t *testing.T) {
	for _, n := range []int{0, 1, 4, 6, 40} {
		if _, _, err := decodeFrame(make([]byte, n)); !errors.Is(err, ErrFrameLength) {
			t.Fatalf("decodeFrame of %d bytes: got %v, want ErrFrameLength", n, err)
		}
	}
}
