// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tmc5072

import (
	"fmt"
)

// Access describes the transfer directions a register supports.
type Access uint8

const (
	// ReadOnly registers reject writes.
	ReadOnly Access = iota
	// WriteOnly registers reject reads; the chip returns undefined data for
	// them, so the driver refuses the transaction outright.
	WriteOnly
	// ReadWrite registers support both directions.
	ReadWrite
	// ReadWriteClear registers latch event flags. Reading returns the latch
	// without clearing it; any write, even of zero, clears the whole latch.
	ReadWriteClear
)

// String implements fmt.Stringer.
func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "R"
	case WriteOnly:
		return "W"
	case ReadWrite:
		return "RW"
	case ReadWriteClear:
		return "RW+C"
	}
	return "?"
}

func (a Access) canRead() bool {
	return a != WriteOnly
}

func (a Access) canWrite() bool {
	return a != ReadOnly
}

// Field describes one sub-value packed inside a 32 bit register payload.
//
// Signed fields use two's complement within their declared width and are
// sign extended on decode.
type Field struct {
	name   string
	offset uint8
	width  uint8
	signed bool
}

func unsignedField(name string, offset, width uint8) Field {
	return Field{name: name, offset: offset, width: width}
}

func signedField(name string, offset, width uint8) Field {
	return Field{name: name, offset: offset, width: width, signed: true}
}

func flagField(name string, b uint8) Field {
	return Field{name: name, offset: b, width: 1}
}

// Name returns the datasheet name of the field.
func (f Field) Name() string {
	return f.name
}

// Offset returns the bit position of the field's least significant bit.
func (f Field) Offset() uint8 {
	return f.offset
}

// Width returns the field width in bits.
func (f Field) Width() uint8 {
	return f.width
}

// Signed reports whether the field is a two's complement value.
func (f Field) Signed() bool {
	return f.signed
}

// mask returns the field's bit positions within the payload.
func (f Field) mask() uint32 {
	if f.width >= 32 {
		return 0xFFFFFFFF
	}
	return ((1 << f.width) - 1) << f.offset
}

// bounds returns the inclusive value range the field can hold.
func (f Field) bounds() (int64, int64) {
	if f.signed {
		return -(int64(1) << (f.width - 1)), int64(1)<<(f.width-1) - 1
	}
	return 0, int64(1)<<f.width - 1
}

// Decode extracts the field from a raw payload, sign extending signed
// fields from their declared width.
func (f Field) Decode(payload uint32) int64 {
	raw := int64((payload & f.mask()) >> f.offset)
	if f.signed && raw >= int64(1)<<(f.width-1) {
		raw -= int64(1) << f.width
	}
	return raw
}

// Encode returns payload with the field replaced by value. Values that need
// more bits than the field width fail with ErrValueOutOfRange before any
// bus activity can happen.
func (f Field) Encode(payload uint32, value int64) (uint32, error) {
	lo, hi := f.bounds()
	if value < lo || value > hi {
		return 0, fmt.Errorf("%w: %s=%d, valid range [%d, %d]", ErrValueOutOfRange, f.name, value, lo, hi)
	}
	raw := uint32(value) << f.offset & f.mask()
	return payload&^f.mask() | raw, nil
}

// Register is the immutable descriptor of one chip register: its datasheet
// name, bus address, access mode and field layout. Descriptors are shared
// static data; the per-motor register banks are materialized as pairs
// indexed by motor number.
type Register struct {
	name   string
	addr   uint8
	access Access
	fields []Field
}

// Name returns the datasheet register name. Per-motor registers carry the
// datasheet's 1-based motor suffix even though the driver API uses 0-based
// motor indices.
func (r *Register) Name() string {
	return r.name
}

// Addr returns the 7 bit bus address.
func (r *Register) Addr() uint8 {
	return r.addr
}

// Access returns the register's access mode.
func (r *Register) Access() Access {
	return r.access
}

// Fields returns the register's field layout.
func (r *Register) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

// String implements fmt.Stringer.
func (r *Register) String() string {
	return fmt.Sprintf("%s(0x%02X)", r.name, r.addr)
}

// value returns the field spanning the register's single value. Only valid
// for registers that hold exactly one value.
func (r *Register) value() Field {
	return r.fields[0]
}

// allRegisters collects every descriptor for table-wide checks.
var allRegisters []*Register

func newReg(name string, addr uint8, access Access, fields ...Field) *Register {
	r := &Register{name: name, addr: addr, access: access, fields: fields}
	allRegisters = append(allRegisters, r)
	return r
}

// motorPair materializes the two per-motor copies of a register bank entry.
// stride is the address distance between the motor 1 and motor 2 banks:
// 0x20 for ramp generator registers, 0x10 for motor driver registers and
// 0x08 for the stealthChop registers.
func motorPair(name string, addr, stride uint8, access Access, fields ...Field) [2]*Register {
	return [2]*Register{
		newReg(name+"1", addr, access, fields...),
		newReg(name+"2", addr+stride, access, fields...),
	}
}

// Fields referenced by the typed driver API.
var (
	// INPUT
	FieldVersion = unsignedField("version", 24, 8)

	// IHOLD_IRUN
	FieldIHold      = unsignedField("ihold", 0, 5)
	FieldIRun       = unsignedField("irun", 8, 5)
	FieldIHoldDelay = unsignedField("iholddelay", 16, 4)

	// CHOPCONF
	FieldTOff   = unsignedField("toff", 0, 4)
	FieldHStrt  = unsignedField("hstrt", 4, 3)
	FieldHEnd   = unsignedField("hend", 7, 4)
	FieldRndTF  = flagField("rndtf", 13)
	FieldTBL    = unsignedField("tbl", 15, 2)
	FieldVSense = flagField("vsense", 17)
	FieldMRes   = unsignedField("mres", 24, 4)

	// COOLCONF
	FieldSEMin  = unsignedField("semin", 0, 4)
	FieldSEUp   = unsignedField("seup", 5, 2)
	FieldSEMax  = unsignedField("semax", 8, 4)
	FieldSEDn   = unsignedField("sedn", 13, 2)
	FieldSEIMin = flagField("seimin", 15)
	FieldSGT    = signedField("sgt", 16, 7)
	FieldSFilt  = flagField("sfilt", 24)

	// DRV_STATUS
	FieldSGResult = unsignedField("sg_result", 0, 10)
	FieldCSActual = unsignedField("cs_actual", 16, 5)
)

// General configuration registers, shared by both motors.
var (
	RegGConf = newReg("GCONF", 0x00, ReadWrite,
		flagField("single_driver", 0),
		flagField("stepdir1_enable", 1),
		flagField("stepdir2_enable", 2),
		flagField("poscmp_enable", 3),
		flagField("enc1_refsel", 4),
		flagField("enc2_enable", 5),
		flagField("enc2_refsel", 6),
		flagField("test_mode", 7),
		flagField("shaft1", 8),
		flagField("shaft2", 9),
		flagField("lock_gconf", 10),
		flagField("dc_sync", 11),
	)
	RegGStat = newReg("GSTAT", 0x01, ReadWriteClear,
		flagField("reset", 0),
		flagField("drv_err1", 1),
		flagField("drv_err2", 2),
		flagField("uv_cp", 3),
	)
	RegIFCnt = newReg("IFCNT", 0x02, ReadOnly,
		unsignedField("ifcnt", 0, 8),
	)
	RegSlaveConf = newReg("SLAVECONF", 0x03, WriteOnly,
		unsignedField("slaveaddr", 0, 8),
		unsignedField("senddelay", 8, 4),
	)
	// INPUT and OUTPUT share address 0x04: reads return the pin levels and
	// the IC version, writes drive the I/O port.
	RegInput = newReg("INPUT", 0x04, ReadOnly,
		flagField("io0_in", 0),
		flagField("io1_in", 1),
		flagField("io2_in", 2),
		flagField("io3_in", 3),
		flagField("iop_in", 4),
		flagField("ion_in", 5),
		flagField("nextaddr_in", 6),
		flagField("drv_enn_in", 7),
		flagField("sw_comp_in", 8),
		FieldVersion,
	)
	RegOutput = newReg("OUTPUT", 0x04, WriteOnly,
		flagField("io0_out", 0),
		flagField("io1_out", 1),
		flagField("io2_out", 2),
		flagField("ioddr0", 8),
		flagField("ioddr1", 9),
		flagField("ioddr2", 10),
	)
	RegXCompare = newReg("X_COMPARE", 0x05, WriteOnly,
		unsignedField("x_compare", 0, 32),
	)
)

// Ramp generator registers, one bank per motor.
var (
	RegRampMode = motorPair("RAMPMODE", 0x20, 0x20, ReadWrite,
		unsignedField("rampmode", 0, 2),
	)
	RegXActual = motorPair("XACTUAL", 0x21, 0x20, ReadWrite,
		signedField("xactual", 0, 32),
	)
	RegVActual = motorPair("VACTUAL", 0x22, 0x20, ReadOnly,
		signedField("vactual", 0, 24),
	)
	RegVStart = motorPair("VSTART", 0x23, 0x20, WriteOnly,
		unsignedField("vstart", 0, 18),
	)
	RegA1 = motorPair("A1", 0x24, 0x20, WriteOnly,
		unsignedField("a1", 0, 16),
	)
	RegV1 = motorPair("V1", 0x25, 0x20, WriteOnly,
		unsignedField("v1", 0, 20),
	)
	RegAMax = motorPair("AMAX", 0x26, 0x20, WriteOnly,
		unsignedField("amax", 0, 16),
	)
	RegVMax = motorPair("VMAX", 0x27, 0x20, WriteOnly,
		unsignedField("vmax", 0, 23),
	)
	RegDMax = motorPair("DMAX", 0x28, 0x20, WriteOnly,
		unsignedField("dmax", 0, 16),
	)
	RegD1 = motorPair("D1", 0x2A, 0x20, WriteOnly,
		unsignedField("d1", 0, 16),
	)
	RegVStop = motorPair("VSTOP", 0x2B, 0x20, WriteOnly,
		unsignedField("vstop", 0, 18),
	)
	RegTZeroWait = motorPair("TZEROWAIT", 0x2C, 0x20, WriteOnly,
		unsignedField("tzerowait", 0, 16),
	)
	RegXTarget = motorPair("XTARGET", 0x2D, 0x20, ReadWrite,
		signedField("xtarget", 0, 32),
	)
)

// Ramp generator driver feature control registers, one bank per motor.
var (
	RegIHoldIRun = motorPair("IHOLD_IRUN", 0x30, 0x20, WriteOnly,
		FieldIHold,
		FieldIRun,
		FieldIHoldDelay,
	)
	RegVCoolThrs = motorPair("VCOOLTHRS", 0x31, 0x20, WriteOnly,
		unsignedField("vcoolthrs", 0, 23),
	)
	RegVHigh = motorPair("VHIGH", 0x32, 0x20, WriteOnly,
		unsignedField("vhigh", 0, 23),
	)
	RegVDCMin = motorPair("VDCMIN", 0x33, 0x20, WriteOnly,
		unsignedField("vdcmin", 0, 23),
	)
	RegSWMode = motorPair("SW_MODE", 0x34, 0x20, ReadWrite,
		flagField("stop_l_enable", 0),
		flagField("stop_r_enable", 1),
		flagField("pol_stop_l", 2),
		flagField("pol_stop_r", 3),
		flagField("swap_lr", 4),
		flagField("latch_l_active", 5),
		flagField("latch_l_inactive", 6),
		flagField("latch_r_active", 7),
		flagField("latch_r_inactive", 8),
		flagField("en_latch_encoder", 9),
		flagField("sg_stop", 10),
		flagField("en_softstop", 11),
	)
	RegRampStat = motorPair("RAMP_STAT", 0x35, 0x20, ReadWriteClear,
		flagField("status_stop_l", 0),
		flagField("status_stop_r", 1),
		flagField("status_latch_l", 2),
		flagField("status_latch_r", 3),
		flagField("event_stop_l", 4),
		flagField("event_stop_r", 5),
		flagField("event_stop_sg", 6),
		flagField("event_pos_reached", 7),
		flagField("velocity_reached", 8),
		flagField("position_reached", 9),
		flagField("vzero", 10),
		flagField("t_zerowait_active", 11),
		flagField("second_move", 12),
		flagField("status_sg", 13),
	)
	RegXLatch = motorPair("XLATCH", 0x36, 0x20, ReadOnly,
		unsignedField("xlatch", 0, 32),
	)
)

// Encoder registers, one bank per motor.
var (
	RegEncMode = motorPair("ENCMODE", 0x38, 0x20, ReadWrite,
		flagField("pol_a", 0),
		flagField("pol_b", 1),
		flagField("pol_n", 2),
		flagField("ignore_ab", 3),
		flagField("clr_cont", 4),
		flagField("clr_once", 5),
		flagField("pos_edge", 6),
		flagField("neg_edge", 7),
		flagField("clr_enc_x", 8),
		flagField("latch_x_act", 9),
		flagField("enc_sel_decimal", 10),
		flagField("latch_now", 11),
	)
	RegXEnc = motorPair("X_ENC", 0x39, 0x20, ReadWrite,
		signedField("x_enc", 0, 32),
	)
	RegEncConst = motorPair("ENC_CONST", 0x3A, 0x20, WriteOnly,
		unsignedField("enc_const_frac", 0, 16),
		signedField("enc_const_int", 16, 16),
	)
	RegEncStatus = motorPair("ENC_STATUS", 0x3B, 0x20, ReadWriteClear,
		flagField("enc_n_event", 0),
	)
	RegEncLatch = motorPair("ENC_LATCH", 0x3C, 0x20, ReadOnly,
		signedField("enc_latch", 0, 32),
	)
)

// Microstep table registers, shared by both motors.
var (
	RegMSLUT = [8]*Register{
		newReg("MSLUT0", 0x60, WriteOnly, unsignedField("mslut0", 0, 32)),
		newReg("MSLUT1", 0x61, WriteOnly, unsignedField("mslut1", 0, 32)),
		newReg("MSLUT2", 0x62, WriteOnly, unsignedField("mslut2", 0, 32)),
		newReg("MSLUT3", 0x63, WriteOnly, unsignedField("mslut3", 0, 32)),
		newReg("MSLUT4", 0x64, WriteOnly, unsignedField("mslut4", 0, 32)),
		newReg("MSLUT5", 0x65, WriteOnly, unsignedField("mslut5", 0, 32)),
		newReg("MSLUT6", 0x66, WriteOnly, unsignedField("mslut6", 0, 32)),
		newReg("MSLUT7", 0x67, WriteOnly, unsignedField("mslut7", 0, 32)),
	}
	RegMSLUTSel = newReg("MSLUTSEL", 0x68, WriteOnly,
		unsignedField("w0", 0, 2),
		unsignedField("w1", 2, 2),
		unsignedField("w2", 4, 2),
		unsignedField("w3", 6, 2),
		unsignedField("x1", 8, 8),
		unsignedField("x2", 16, 8),
		unsignedField("x3", 24, 8),
	)
	RegMSLUTStart = newReg("MSLUTSTART", 0x69, WriteOnly,
		unsignedField("start_sin", 0, 8),
		unsignedField("start_sin90", 8, 8),
	)
)

// Motor driver registers, one bank per motor.
var (
	RegMSCnt = motorPair("MSCNT", 0x6A, 0x10, ReadOnly,
		unsignedField("mscnt", 0, 10),
	)
	RegMSCurAct = motorPair("MSCURACT", 0x6B, 0x10, ReadOnly,
		signedField("cur_a", 0, 9),
		signedField("cur_b", 16, 9),
	)
	RegChopConf = motorPair("CHOPCONF", 0x6C, 0x10, ReadWrite,
		FieldTOff,
		FieldHStrt,
		FieldHEnd,
		flagField("fd3", 11),
		flagField("disfdcc", 12),
		FieldRndTF,
		flagField("chm", 14),
		FieldTBL,
		FieldVSense,
		flagField("vhighfs", 18),
		flagField("vhighchm", 19),
		FieldMRes,
		flagField("intpol16", 28),
		flagField("dedge", 29),
		flagField("diss2g", 30),
	)
	RegCoolConf = motorPair("COOLCONF", 0x6D, 0x10, WriteOnly,
		FieldSEMin,
		FieldSEUp,
		FieldSEMax,
		FieldSEDn,
		FieldSEIMin,
		FieldSGT,
		FieldSFilt,
	)
	RegDCCtrl = motorPair("DCCTRL", 0x6E, 0x10, WriteOnly,
		unsignedField("dc_time", 0, 8),
		unsignedField("dc_sg", 8, 8),
	)
	RegDrvStatus = motorPair("DRV_STATUS", 0x6F, 0x10, ReadOnly,
		FieldSGResult,
		flagField("fsactive", 15),
		FieldCSActual,
		flagField("stallguard", 24),
		flagField("ot", 25),
		flagField("otpw", 26),
		flagField("s2ga", 27),
		flagField("s2gb", 28),
		flagField("ola", 29),
		flagField("olb", 30),
		flagField("stst", 31),
	)
)

// Voltage PWM mode stealthChop registers, one bank per motor.
var (
	RegPWMConf = motorPair("PWMCONF", 0x10, 0x08, WriteOnly,
		unsignedField("pwm_ampl", 0, 8),
		unsignedField("pwm_grad", 8, 8),
		unsignedField("pwm_freq", 16, 2),
		flagField("pwm_autoscale", 18),
		unsignedField("freewheel", 20, 2),
	)
	RegPWMStatus = motorPair("PWM_STATUS", 0x11, 0x08, ReadOnly,
		unsignedField("pwm_status", 0, 8),
	)
)
