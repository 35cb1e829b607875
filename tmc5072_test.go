// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tmc5072

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi/spitest"
)

// busOp is one transaction seen by the fake chip.
type busOp struct {
	write bool
	addr  uint8
	value uint32
}

// fakeChip emulates the register core behind the transaction contract: the
// one transaction deep read pipeline, the status byte in every reply and
// the event latches that clear on any write.
type fakeChip struct {
	regs   map[uint8]uint32
	pipe   uint32
	status byte
	ops    []busOp
	failAt int // fail the nth transaction from now when positive
}

// Event latch addresses: GSTAT, RAMP_STAT and ENC_STATUS of both motors.
var clearOnWrite = map[uint8]bool{
	0x01: true,
	0x35: true, 0x55: true,
	0x3B: true, 0x5B: true,
}

func newFakeChip() *fakeChip {
	return &fakeChip{regs: map[uint8]uint32{0x04: 0x10000000}}
}

func (f *fakeChip) String() string {
	return "fakechip"
}

func (f *fakeChip) Duplex() conn.Duplex {
	return conn.Full
}

func (f *fakeChip) Tx(w, r []byte) error {
	if len(w) != frameLen || len(r) != frameLen {
		return fmt.Errorf("fakechip: %d byte frame", len(w))
	}
	if f.failAt > 0 {
		f.failAt--
		if f.failAt == 0 {
			return errors.New("fakechip: injected failure")
		}
	}
	addr := w[0] & addrMask
	write := w[0]&writeFlag != 0
	value := binary.BigEndian.Uint32(w[1:])
	f.ops = append(f.ops, busOp{write: write, addr: addr, value: value})
	// Every reply carries the status byte and the data of the previous
	// read request.
	r[0] = f.status
	binary.BigEndian.PutUint32(r[1:], f.pipe)
	if write {
		if clearOnWrite[addr] {
			f.regs[addr] = 0
		} else {
			f.regs[addr] = value
		}
	} else {
		f.pipe = f.regs[addr]
	}
	return nil
}

// testDev builds a Dev on a fake chip and drops the version probe
// transactions from the log.
func testDev(t *testing.T, f *fakeChip) *Dev {
	t.Helper()
	d, err := newDev(f, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.ops = nil
	return d
}

// playbackDev builds a Dev directly on a playback connection, without the
// version probe transactions.
func playbackDev(c conn.Conn, pipelined bool) *Dev {
	d := &Dev{c: c, opts: DefaultOpts, pipelined: pipelined}
	for i := range d.motors {
		d.motors[i] = Motor{d: d, index: i, mode: Hold}
	}
	return d
}

func readFrame(addr uint8) []byte {
	return []byte{addr, 0, 0, 0, 0}
}

func TestNewSPI(t *testing.T) {
	for _, test := range []struct {
		name      string
		ops       []conntest.IO
		expectErr bool
	}{
		{
			name: "success",
			ops: []conntest.IO{
				{W: readFrame(0x04), R: []byte{0x00, 0xAA, 0xBB, 0xCC, 0xDD}},
				{W: readFrame(0x04), R: []byte{0x02, 0x10, 0x00, 0x01, 0xC3}},
			},
		},
		{
			name: "wrong version",
			ops: []conntest.IO{
				{W: readFrame(0x04), R: []byte{0x00, 0x00, 0x00, 0x00, 0x00}},
				{W: readFrame(0x04), R: []byte{0x00, 0x21, 0x00, 0x00, 0x00}},
			},
			expectErr: true,
		},
		{
			name:      "bus failure",
			ops:       nil,
			expectErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			pb := &spitest.Playback{Playback: conntest.Playback{Ops: test.ops, DontPanic: true}}
			defer pb.Close()

			d, err := NewSPI(pb, nil)
			if test.expectErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			// The probe replies already updated the passive status.
			if got := d.LastStatus(); got != ChipStatus(0x02) {
				t.Fatalf("LastStatus = %s, want 0x02", got)
			}
		})
	}
}

func TestNewBadVersion(t *testing.T) {
	f := newFakeChip()
	f.regs[0x04] = 0x11000000
	if _, err := newDev(f, true, nil); err == nil {
		t.Fatal("expected a version error")
	}
}

func TestNewVersionIgnoresPinBits(t *testing.T) {
	// The INPUT register mixes the version with live pin levels.
	f := newFakeChip()
	f.regs[0x04] = 0x100001FF
	if _, err := newDev(f, true, nil); err != nil {
		t.Fatal(err)
	}
}

func TestVersion(t *testing.T) {
	d := testDev(t, newFakeChip())
	v, err := d.Version()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x10 {
		t.Fatalf("version 0x%02X, want 0x10", v)
	}
}

func TestReadRegisterPipelined(t *testing.T) {
	// A pipelined read issues the same request twice and the data comes
	// from the second reply only.
	pb := conntest.Playback{
		Ops: []conntest.IO{
			{W: readFrame(0x21), R: []byte{0x00, 0xDE, 0xAD, 0xBE, 0xEF}},
			{W: readFrame(0x21), R: []byte{0x00, 0x00, 0x01, 0xC3, 0x50}},
		},
		DontPanic: true,
	}
	defer pb.Close()

	d := playbackDev(&pb, true)
	got, err := d.ReadRegister(RegXActual[0])
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x0001C350 {
		t.Fatalf("read 0x%08X, want the second reply 0x0001C350", got)
	}
}

func TestReadRegisterUnpipelined(t *testing.T) {
	// UART style transports answer within the transaction.
	pb := conntest.Playback{
		Ops: []conntest.IO{
			{W: readFrame(0x21), R: []byte{0x00, 0x00, 0x01, 0xC3, 0x50}},
		},
		DontPanic: true,
	}
	defer pb.Close()

	d := playbackDev(&pb, false)
	got, err := d.ReadRegister(RegXActual[0])
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x0001C350 {
		t.Fatalf("read 0x%08X, want 0x0001C350", got)
	}
}

func TestReadRegisterPipelineOrder(t *testing.T) {
	// Back to back reads of different registers must not leak the first
	// register's data into the second result.
	f := newFakeChip()
	f.regs[0x21] = 0x11111111
	f.regs[0x41] = 0x22222222
	d := testDev(t, f)

	got1, err := d.ReadRegister(RegXActual[0])
	if err != nil {
		t.Fatal(err)
	}
	got2, err := d.ReadRegister(RegXActual[1])
	if err != nil {
		t.Fatal(err)
	}
	if got1 != 0x11111111 || got2 != 0x22222222 {
		t.Fatalf("reads 0x%08X, 0x%08X leaked across the pipeline", got1, got2)
	}
	if len(f.ops) != 4 {
		t.Fatalf("%d transactions for two pipelined reads, want 4", len(f.ops))
	}
}

func TestAccessViolations(t *testing.T) {
	f := newFakeChip()
	d := testDev(t, f)
	for _, test := range []struct {
		name string
		op   func() error
	}{
		{"read write-only", func() error { _, err := d.ReadRegister(RegVMax[0]); return err }},
		{"read value write-only", func() error { _, err := d.ReadValue(RegVStart[1]); return err }},
		{"read field write-only", func() error { _, err := d.ReadField(RegIHoldIRun[0], FieldIRun); return err }},
		{"write read-only", func() error { return d.WriteRegister(RegInput, 0) }},
		{"write value read-only", func() error { return d.WriteValue(RegVActual[0], 0) }},
		{"write field read-only", func() error { return d.WriteField(RegDrvStatus[1], FieldSGResult, 0) }},
	} {
		t.Run(test.name, func(t *testing.T) {
			if err := test.op(); !errors.Is(err, ErrAccessViolation) {
				t.Fatalf("got %v, want ErrAccessViolation", err)
			}
			if len(f.ops) != 0 {
				t.Fatalf("%d transactions reached the bus", len(f.ops))
			}
		})
	}
}

func TestWriteValidatesBeforeBus(t *testing.T) {
	f := newFakeChip()
	d := testDev(t, f)
	for _, test := range []struct {
		name string
		op   func() error
	}{
		{"value too wide", func() error { return d.WriteValue(RegVMax[0], 1<<23) }},
		{"value negative", func() error { return d.WriteValue(RegVMax[0], -1) }},
		// A field write normally starts with a read-modify-write cycle; the
		// range check must reject before that read.
		{"field too wide", func() error { return d.WriteField(RegChopConf[0], FieldMRes, 16) }},
		{"field negative", func() error { return d.WriteField(RegChopConf[0], FieldTOff, -1) }},
	} {
		t.Run(test.name, func(t *testing.T) {
			if err := test.op(); !errors.Is(err, ErrValueOutOfRange) {
				t.Fatalf("got %v, want ErrValueOutOfRange", err)
			}
			if len(f.ops) != 0 {
				t.Fatalf("%d transactions reached the bus", len(f.ops))
			}
		})
	}
}

func TestWriteField(t *testing.T) {
	f := newFakeChip()
	f.regs[0x6C] = 0x000100C5
	d := testDev(t, f)

	// Patch mres to half stepping, everything else stays.
	if err := d.WriteField(RegChopConf[0], FieldMRes, int64(StepMode2)); err != nil {
		t.Fatal(err)
	}
	if got := f.regs[0x6C]; got != 0x070100C5 {
		t.Fatalf("CHOPCONF 0x%08X, want 0x070100C5", got)
	}
	// Two reads for the pipelined RMW cycle plus the write back.
	if len(f.ops) != 3 {
		t.Fatalf("%d transactions, want 3", len(f.ops))
	}
	if last := f.ops[2]; !last.write || last.addr != 0x6C {
		t.Fatalf("last transaction %+v, want write of 0x6C", last)
	}
}

func TestReadField(t *testing.T) {
	f := newFakeChip()
	f.regs[0x6F] = 0x011F03FF
	d := testDev(t, f)

	sg, err := d.ReadField(RegDrvStatus[0], FieldSGResult)
	if err != nil {
		t.Fatal(err)
	}
	if sg != 1023 {
		t.Fatalf("sg_result %d, want 1023", sg)
	}
	cs, err := d.ReadField(RegDrvStatus[0], FieldCSActual)
	if err != nil {
		t.Fatal(err)
	}
	if cs != 31 {
		t.Fatalf("cs_actual %d, want 31", cs)
	}
}

func TestEventLatches(t *testing.T) {
	// Reading a latched event register must not clear it; any write must.
	f := newFakeChip()
	f.regs[0x35] = uint32(RampStatEventPosReached | RampStatPositionReached)
	d := testDev(t, f)
	m, err := d.Motor(0)
	if err != nil {
		t.Fatal(err)
	}

	first, err := m.RampStatus()
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.RampStatus()
	if err != nil {
		t.Fatal(err)
	}
	if first != second || first != RampStatEventPosReached|RampStatPositionReached {
		t.Fatalf("reads %04X, %04X changed the latch", first, second)
	}
	if err := m.ClearRampEvents(); err != nil {
		t.Fatal(err)
	}
	third, err := m.RampStatus()
	if err != nil {
		t.Fatal(err)
	}
	if third != 0 {
		t.Fatalf("latch %04X after clear, want 0", third)
	}
}

func TestGlobalStatus(t *testing.T) {
	f := newFakeChip()
	f.regs[0x01] = 0x7
	d := testDev(t, f)

	want := GlobalStatus{Reset: true, DriverError: [2]bool{true, true}}
	for i := 0; i < 2; i++ {
		got, err := d.GlobalStatus()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("read %d: %+v, want %+v", i, got, want)
		}
	}
	if err := d.ClearGlobalStatus(); err != nil {
		t.Fatal(err)
	}
	got, err := d.GlobalStatus()
	if err != nil {
		t.Fatal(err)
	}
	if got != (GlobalStatus{}) {
		t.Fatalf("status %+v after clear, want zero", got)
	}
}

func TestLastStatus(t *testing.T) {
	f := newFakeChip()
	f.status = 0b10000001
	d := testDev(t, f)

	// The passive status updates on every transaction, including writes.
	if err := d.WriteRegister(RegXTarget[0], 0); err != nil {
		t.Fatal(err)
	}
	s := d.LastStatus()
	if !s.Reset() || !s.DriverError() {
		t.Fatalf("LastStatus = %s, want reset and driver error", s)
	}

	f.status = 0
	if _, err := d.ReadRegister(RegGConf); err != nil {
		t.Fatal(err)
	}
	if got := d.LastStatus(); got != 0 {
		t.Fatalf("LastStatus = %s, want ok", got)
	}
}

func TestBusFailure(t *testing.T) {
	f := newFakeChip()
	d := testDev(t, f)
	f.failAt = 1
	if err := d.WriteRegister(RegXTarget[0], 1); !errors.Is(err, ErrBus) {
		t.Fatalf("got %v, want ErrBus", err)
	}
	// Second transaction of a pipelined read fails.
	f.failAt = 2
	if _, err := d.ReadRegister(RegXActual[0]); !errors.Is(err, ErrBus) {
		t.Fatalf("got %v, want ErrBus", err)
	}
}

func TestMotor(t *testing.T) {
	d := testDev(t, newFakeChip())
	m0, err := d.Motor(0)
	if err != nil {
		t.Fatal(err)
	}
	m1, err := d.Motor(1)
	if err != nil {
		t.Fatal(err)
	}
	if m0.Index() != 0 || m1.Index() != 1 {
		t.Fatalf("indices %d, %d", m0.Index(), m1.Index())
	}
	again, err := d.Motor(0)
	if err != nil {
		t.Fatal(err)
	}
	if again != m0 {
		t.Fatal("Motor(0) returned a different channel")
	}
	for _, index := range []int{-1, 2, 7} {
		if _, err := d.Motor(index); !errors.Is(err, ErrInvalidMotor) {
			t.Fatalf("Motor(%d): got %v, want ErrInvalidMotor", index, err)
		}
	}
}

func TestHalt(t *testing.T) {
	f := newFakeChip()
	d := testDev(t, f)
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	want := []busOp{
		{write: true, addr: 0x20, value: uint32(Hold)},
		{write: true, addr: 0x40, value: uint32(Hold)},
	}
	if len(f.ops) != len(want) {
		t.Fatalf("%d transactions, want %d", len(f.ops), len(want))
	}
	for i, op := range f.ops {
		if op != want[i] {
			t.Fatalf("transaction %d: %+v, want %+v", i, op, want[i])
		}
	}
}

func TestEnable(t *testing.T) {
	pin := &gpiotest.Pin{N: "DRV_ENN"}
	f := newFakeChip()
	d, err := newDev(f, true, &Opts{SenseResistor: DefaultOpts.SenseResistor, EnablePin: pin})
	if err != nil {
		t.Fatal(err)
	}

	// DRV_ENN is active low.
	if err := d.Enable(true); err != nil {
		t.Fatal(err)
	}
	if pin.Read() != gpio.Low {
		t.Fatal("enable left DRV_ENN high")
	}
	if err := d.Enable(false); err != nil {
		t.Fatal(err)
	}
	if pin.Read() != gpio.High {
		t.Fatal("disable left DRV_ENN low")
	}
}

func TestEnableWithoutPin(t *testing.T) {
	d := testDev(t, newFakeChip())
	if err := d.Enable(true); err == nil {
		t.Fatal("expected an error without an enable pin")
	}
}

func TestDevString(t *testing.T) {
	d := testDev(t, newFakeChip())
	if got := d.String(); got != "TMC5072{fakechip}" {
		t.Fatalf("String() = %q", got)
	}
}
