// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tmc5072

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// icVersion is the VERSION field value the INPUT register reports.
const icVersion = 0x10

var (
	// ErrBus is returned when the underlying transport fails. The driver
	// never retries; retry policy belongs to the caller, who knows whether
	// the affected register is safe to retry.
	ErrBus = errors.New("tmc5072: bus failure")

	// ErrFrameLength is returned when a datagram has the wrong size.
	ErrFrameLength = errors.New("tmc5072: bad frame length")

	// ErrAccessViolation is returned on writes to read-only registers and
	// reads of write-only registers.
	ErrAccessViolation = errors.New("tmc5072: register access violation")

	// ErrValueOutOfRange is returned when a value does not fit the target
	// field's bit width. The check happens before any bus traffic.
	ErrValueOutOfRange = errors.New("tmc5072: value out of range")

	// ErrInvalidMotor is returned for motor indices other than 0 and 1.
	ErrInvalidMotor = errors.New("tmc5072: invalid motor index")
)

func errInvalidMotor(motor int) error {
	return fmt.Errorf("%w: %d", ErrInvalidMotor, motor)
}

// Opts holds the device configuration.
type Opts struct {
	// SenseResistor is the value of the external sense resistors. It scales
	// the full scale motor current. The TMC5072-BOB breakout carries 220 mΩ.
	SenseResistor physic.ElectricResistance

	// EnablePin, when set, is driven by Enable to control the DRV_ENN
	// input. DRV_ENN is active low: a low level powers the motor outputs.
	EnablePin gpio.PinOut
}

// DefaultOpts is the recommended default configuration.
var DefaultOpts = Opts{
	SenseResistor: 220 * physic.MilliOhm,
}

// Dev is a handle to a TMC5072 dual stepper motor controller.
//
// The driver is synchronous and performs no internal locking: the bus
// carries at most one transaction at a time, and callers driving the
// device or its two Motor channels from multiple goroutines must serialize
// access themselves.
type Dev struct {
	c    conn.Conn
	opts Opts
	// pipelined is set for SPI, where read data arrives one datagram after
	// the request.
	pipelined bool
	status    ChipStatus
	motors    [2]Motor
}

// NewSPI returns a device handle talking to the chip over SPI.
//
// The port is connected in mode 3 at 4 MHz. Pass nil for opts to use
// DefaultOpts. The constructor probes the INPUT register and fails if the
// IC version does not match.
func NewSPI(p spi.Port, opts *Opts) (*Dev, error) {
	c, err := p.Connect(4*physic.MegaHertz, spi.Mode3, 8)
	if err != nil {
		return nil, fmt.Errorf("tmc5072: %w", err)
	}
	return newDev(c, true, opts)
}

func newDev(c conn.Conn, pipelined bool, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{c: c, opts: *opts, pipelined: pipelined}
	for i := range d.motors {
		d.motors[i] = Motor{d: d, index: i, mode: Hold}
	}
	v, err := d.Version()
	if err != nil {
		return nil, fmt.Errorf("tmc5072: version probe: %w", err)
	}
	if v != icVersion {
		return nil, fmt.Errorf("tmc5072: unexpected IC version 0x%02X, want 0x%02X", v, icVersion)
	}
	return d, nil
}

// String implements conn.Resource.
func (d *Dev) String() string {
	return fmt.Sprintf("TMC5072{%s}", d.c)
}

// Halt soft stops both motors.
//
// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	for i := range d.motors {
		if err := d.motors[i].Stop(); err != nil {
			return err
		}
	}
	return nil
}

// Motor returns the motion channel for the given motor index, 0 or 1. Both
// channels share the device's bus connection.
func (d *Dev) Motor(index int) (*Motor, error) {
	if index < 0 || index > 1 {
		return nil, errInvalidMotor(index)
	}
	return &d.motors[index], nil
}

// Version reads the IC version from the INPUT register. The TMC5072
// reports 0x10.
func (d *Dev) Version() (uint8, error) {
	v, err := d.ReadField(RegInput, FieldVersion)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

// GlobalStatus reads the GSTAT flags. They stay latched across reads until
// ClearGlobalStatus is called.
func (d *Dev) GlobalStatus() (GlobalStatus, error) {
	raw, err := d.ReadRegister(RegGStat)
	if err != nil {
		return GlobalStatus{}, err
	}
	return decodeGlobalStatus(raw), nil
}

// ClearGlobalStatus clears the GSTAT latch. Any write to the register
// clears all of its flags.
func (d *Dev) ClearGlobalStatus() error {
	return d.WriteRegister(RegGStat, 0)
}

// LastStatus returns the chip status decoded from the most recent
// datagram. The chip reports its state as of the previous transaction, one
// datagram behind the response that carried it. Over UART no status byte
// exists and the zero value is returned.
func (d *Dev) LastStatus() ChipStatus {
	return d.status
}

// Enable drives the DRV_ENN input low (on) or high (off). It fails when no
// enable pin was configured in Opts.
func (d *Dev) Enable(on bool) error {
	if d.opts.EnablePin == nil {
		return errors.New("tmc5072: no enable pin configured")
	}
	level := gpio.High
	if on {
		level = gpio.Low
	}
	return d.opts.EnablePin.Out(level)
}

// ReadRegister returns a register's raw 32 bit payload.
//
// Over SPI the chip pipelines read data by one datagram, so a read costs
// two exchanges: the first sends the request and its response payload is
// discarded, the second carries the value. Callers see a single
// synchronous call.
func (d *Dev) ReadRegister(r *Register) (uint32, error) {
	if !r.access.canRead() {
		return 0, fmt.Errorf("%w: %s is %s", ErrAccessViolation, r, r.access)
	}
	v, err := d.exchange(r.addr, false, 0)
	if err != nil {
		return 0, err
	}
	if !d.pipelined {
		return v, nil
	}
	return d.exchange(r.addr, false, 0)
}

// WriteRegister writes a register's raw 32 bit payload. Writing a
// ReadWriteClear register clears its latch, whatever the value.
func (d *Dev) WriteRegister(r *Register, value uint32) error {
	if !r.access.canWrite() {
		return fmt.Errorf("%w: %s is %s", ErrAccessViolation, r, r.access)
	}
	_, err := d.exchange(r.addr, true, value)
	return err
}

// ReadValue reads a register holding a single value and decodes it, sign
// extending signed registers from their field width.
func (d *Dev) ReadValue(r *Register) (int64, error) {
	raw, err := d.ReadRegister(r)
	if err != nil {
		return 0, err
	}
	return r.value().Decode(raw), nil
}

// WriteValue encodes a value into a register holding a single value.
// Values that do not fit the register's field width fail with
// ErrValueOutOfRange before touching the bus.
func (d *Dev) WriteValue(r *Register, value int64) error {
	raw, err := r.value().Encode(0, value)
	if err != nil {
		return err
	}
	return d.WriteRegister(r, raw)
}

// ReadField reads a register and extracts one of its fields.
func (d *Dev) ReadField(r *Register, f Field) (int64, error) {
	raw, err := d.ReadRegister(r)
	if err != nil {
		return 0, err
	}
	return f.Decode(raw), nil
}

// WriteField updates one field of a readable register with a
// read-modify-write cycle. For write-only registers compose the full
// payload and use WriteRegister instead.
func (d *Dev) WriteField(r *Register, f Field, value int64) error {
	// Validate before the read so a bad value causes no bus traffic.
	if _, err := f.Encode(0, value); err != nil {
		return err
	}
	raw, err := d.ReadRegister(r)
	if err != nil {
		return err
	}
	raw, err = f.Encode(raw, value)
	if err != nil {
		return err
	}
	return d.WriteRegister(r, raw)
}

// exchange clocks one datagram through the bus and returns the response
// payload. The status byte piggybacked on every response is decoded and
// kept for LastStatus.
func (d *Dev) exchange(addr uint8, write bool, payload uint32) (uint32, error) {
	w := encodeFrame(addr, write, payload)
	var r [frameLen]byte
	if err := d.c.Tx(w[:], r[:]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBus, err)
	}
	status, v, err := decodeFrame(r[:])
	if err != nil {
		return 0, err
	}
	d.status = DecodeChipStatus(status)
	return v, nil
}

var _ conn.Resource = &Dev{}
