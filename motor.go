// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tmc5072

import (
	"fmt"
	"math"

	"periph.io/x/conn/v3/physic"
)

// RampMode selects how the ramp generator interprets its targets. The
// values match the chip's RAMPMODE register encoding.
type RampMode uint8

const (
	// Positioning runs the ramp generator toward XTARGET using the full
	// eight point motion profile.
	Positioning RampMode = 0
	// VelocityPositive accelerates to VMAX in positive direction.
	VelocityPositive RampMode = 1
	// VelocityNegative accelerates to VMAX in negative direction.
	VelocityNegative RampMode = 2
	// Hold forces the ramp target velocity to zero, stopping the motor
	// with the configured deceleration while keeping the motion profile.
	Hold RampMode = 3
)

// String implements fmt.Stringer.
func (r RampMode) String() string {
	switch r {
	case Positioning:
		return "positioning"
	case VelocityPositive:
		return "velocity+"
	case VelocityNegative:
		return "velocity-"
	case Hold:
		return "hold"
	}
	return "invalid"
}

// RampConfig is the eight point motion profile of one motor plus the ramp
// settle time. All values are in ramp generator units of the internal
// clock.
type RampConfig struct {
	// VStart is the start velocity, 18 bit. Keep VStop ≥ VStart.
	VStart uint32
	// A1 is the acceleration between VStart and V1.
	A1 uint16
	// V1 is the threshold velocity between the A1/D1 and AMax/DMax ramp
	// segments, 20 bit. Zero disables the first segment.
	V1 uint32
	// AMax is the acceleration between V1 and VMax.
	AMax uint16
	// VMax is the cruise target velocity, 23 bit.
	VMax uint32
	// DMax is the deceleration between VMax and V1.
	DMax uint16
	// D1 is the deceleration between V1 and VStop. Do not leave it zero,
	// even when V1 is zero.
	D1 uint16
	// VStop is the stop velocity, 18 bit. Do not leave it zero.
	VStop uint32
	// TZeroWait is the waiting time after ramping down to zero before the
	// next movement or direction reversal starts.
	TZeroWait uint16
}

// CoolStepConfig bundles the smart current control and stallGuard2 tuning
// of one motor.
type CoolStepConfig struct {
	// SEMin enables coolStep when non zero: current is increased once the
	// stallGuard value falls below SEMin*32.
	SEMin uint8
	// SEUp is the current increment step width, 0..3.
	SEUp uint8
	// SEMax: current is decreased when the stallGuard value is above
	// (SEMin+SEMax+1)*32.
	SEMax uint8
	// SEDn is the number of stallGuard readings per current decrement, 0..3.
	SEDn uint8
	// SEIMin sets the minimum coolStep current to 1/4 instead of 1/2 of
	// IRUN.
	SEIMin bool
	// SGT is the stallGuard2 threshold, -64..63. Higher values mean less
	// sensitivity.
	SGT int8
	// SGFilter enables stallGuard2 filtering for more stable readings at
	// the price of one fullstep latency.
	SGFilter bool
}

// ChopperConfig holds the spreadCycle chopper timing of one motor. The
// microstep resolution and current sense range share the same register and
// are controlled through SetMicrostepResolution and SetCurrent.
type ChopperConfig struct {
	// TOff is the slow decay time, 1..15. Zero would disable the driver;
	// use DisableDriver for that.
	TOff uint8
	// HStrt is the hysteresis start value, 0..7.
	HStrt uint8
	// HEnd is the hysteresis end value, 0..15, offset by -3.
	HEnd uint8
	// TBL is the comparator blank time select, 0..3.
	TBL uint8
	// RandomTOff modulates the slow decay time to avoid audible beat
	// frequencies between both motors.
	RandomTOff bool
}

// PWMConfig holds the stealthChop voltage PWM settings of one motor.
type PWMConfig struct {
	// Amplitude is the user defined PWM amplitude when Autoscale is off,
	// or the maximum amplitude limit when it is on.
	Amplitude uint8
	// Gradient is the velocity dependent amplitude gradient.
	Gradient uint8
	// Freq selects the PWM frequency, 0..3.
	Freq uint8
	// Autoscale enables automatic current regulation.
	Autoscale bool
	// Freewheel selects the standstill mode when the hold current is zero,
	// 0..3.
	Freewheel uint8
}

// SwitchConfig configures the reference switch inputs of one motor.
type SwitchConfig struct {
	// StopLeftEnable and StopRightEnable activate the switch inputs as
	// motion end points.
	StopLeftEnable  bool
	StopRightEnable bool
	// InvertLeft and InvertRight set the active polarity to low.
	InvertLeft  bool
	InvertRight bool
	// SwapLeftRight exchanges the two switch inputs.
	SwapLeftRight bool
	// Latch* select which switch edges latch XACTUAL into XLATCH.
	LatchLeftActive    bool
	LatchLeftInactive  bool
	LatchRightActive   bool
	LatchRightInactive bool
	// LatchEncoder latches the encoder position into ENC_LATCH together
	// with XLATCH.
	LatchEncoder bool
	// StallGuardStop stops the motor on a stallGuard2 event.
	StallGuardStop bool
	// SoftStop uses the deceleration ramp for switch stops instead of a
	// hard stop.
	SoftStop bool
}

// StepMode is the microstep resolution of one motor.
type StepMode uint8

const (
	StepMode256 StepMode = 0
	StepMode128 StepMode = 1
	StepMode64  StepMode = 2
	StepMode32  StepMode = 3
	StepMode16  StepMode = 4
	StepMode8   StepMode = 5
	StepMode4   StepMode = 6
	StepMode2   StepMode = 7
	// StepModeFull disables microstepping.
	StepModeFull StepMode = 8
)

// Microsteps returns the number of microsteps per fullstep.
func (s StepMode) Microsteps() int {
	if s > StepModeFull {
		return 0
	}
	return 256 >> uint(s)
}

// String implements fmt.Stringer.
func (s StepMode) String() string {
	if s > StepModeFull {
		return "invalid"
	}
	return fmt.Sprintf("1/%d", s.Microsteps())
}

// Full scale sense resistor voltages for the two vsense ranges.
const (
	senseVoltageLow  = 0.325 // vsense=0
	senseVoltageHigh = 0.180 // vsense=1
)

// iHoldDelay is the power down ramp time written by SetCurrent, in
// multiples of 2^18 clocks per current step.
const iHoldDelay = 7

// Motor is one of the chip's two motion channels. It issues register
// transactions on the shared bus of its Dev; the same external
// serialization obligation applies.
//
// The channel tracks the requested ramp mode only. The chip's achieved
// motion state lags behind during ramps and is reported by Status.
type Motor struct {
	d     *Dev
	index int
	mode  RampMode
	// coolconf mirrors the write-only COOLCONF register so the stallGuard
	// threshold and the coolStep window can be changed independently.
	coolconf uint32
}

// String implements fmt.Stringer.
func (m *Motor) String() string {
	return fmt.Sprintf("motor%d", m.index+1)
}

// Index returns the motor index, 0 or 1.
func (m *Motor) Index() int {
	return m.index
}

// Mode returns the ramp mode last requested through this channel. It is
// initialized to Hold and never inferred from hardware reads.
func (m *Motor) Mode() RampMode {
	return m.mode
}

// reg selects this motor's bank of a per-motor register pair.
func (m *Motor) reg(pair [2]*Register) *Register {
	return pair[m.index]
}

func (m *Motor) setMode(mode RampMode) error {
	if err := m.d.WriteValue(m.reg(RegRampMode), int64(mode)); err != nil {
		return err
	}
	m.mode = mode
	return nil
}

// SetTargetPosition switches the motor to positioning mode and makes the
// ramp generator move to the given absolute position, in microsteps.
func (m *Motor) SetTargetPosition(position int32) error {
	if err := m.setMode(Positioning); err != nil {
		return err
	}
	return m.d.WriteValue(m.reg(RegXTarget), int64(position))
}

// TargetPosition reads back the ramp generator's target position.
func (m *Motor) TargetPosition() (int32, error) {
	v, err := m.d.ReadValue(m.reg(RegXTarget))
	return int32(v), err
}

// ActualPosition reads the current microstep position.
func (m *Motor) ActualPosition() (int32, error) {
	v, err := m.d.ReadValue(m.reg(RegXActual))
	return int32(v), err
}

// SetActualPosition redefines the current position, e.g. to zero the axis
// after homing. Do this at standstill only.
func (m *Motor) SetActualPosition(position int32) error {
	return m.d.WriteValue(m.reg(RegXActual), int64(position))
}

// ActualVelocity reads the signed velocity the ramp generator currently
// drives, in ramp units.
func (m *Motor) ActualVelocity() (int32, error) {
	v, err := m.d.ReadValue(m.reg(RegVActual))
	return int32(v), err
}

// SetTargetVelocity switches the motor to velocity mode toward the given
// signed velocity, in ramp units. The sign selects the direction, the
// magnitude is written as the new VMAX.
func (m *Motor) SetTargetVelocity(velocity int32) error {
	target := int64(velocity)
	if target < 0 {
		target = -target
	}
	// Validate the magnitude before switching modes so an oversized value
	// leaves the chip untouched.
	if _, err := m.reg(RegVMax).value().Encode(0, target); err != nil {
		return err
	}
	mode := VelocityPositive
	if velocity < 0 {
		mode = VelocityNegative
	}
	if err := m.setMode(mode); err != nil {
		return err
	}
	return m.d.WriteValue(m.reg(RegVMax), target)
}

// Stop soft stops the motor: a single ramp mode write forces the target
// velocity to zero and the ramp generator decelerates along the configured
// profile. VMAX and the rest of the profile stay untouched, so the next
// motion command reuses them. The channel mode switches to Hold
// immediately; the actual standstill is observable via Status.
func (m *Motor) Stop() error {
	return m.setMode(Hold)
}

// StopImmediate hard stops the motor by zeroing VSTART and VMAX,
// terminating the ramp without deceleration. This clobbers the configured
// motion profile; run ConfigureRamp before the next move. Prefer Stop
// unless the mechanics require an emergency stop.
func (m *Motor) StopImmediate() error {
	if err := m.d.WriteValue(m.reg(RegVStart), 0); err != nil {
		return err
	}
	if err := m.d.WriteValue(m.reg(RegVMax), 0); err != nil {
		return err
	}
	m.mode = Hold
	return nil
}

// ConfigureRamp writes the full motion profile, one register per field, in
// the datasheet's initialization order. All values are validated against
// their register widths before the first write; a later bus failure leaves
// the chip with a partially applied profile which the driver does not roll
// back.
func (m *Motor) ConfigureRamp(cfg RampConfig) error {
	writes := []struct {
		pair  [2]*Register
		value int64
	}{
		{RegVStart, int64(cfg.VStart)},
		{RegA1, int64(cfg.A1)},
		{RegV1, int64(cfg.V1)},
		{RegAMax, int64(cfg.AMax)},
		{RegVMax, int64(cfg.VMax)},
		{RegDMax, int64(cfg.DMax)},
		{RegD1, int64(cfg.D1)},
		{RegVStop, int64(cfg.VStop)},
		{RegTZeroWait, int64(cfg.TZeroWait)},
	}
	for _, w := range writes {
		if _, err := m.reg(w.pair).value().Encode(0, w.value); err != nil {
			return err
		}
	}
	for _, w := range writes {
		if err := m.d.WriteValue(m.reg(w.pair), w.value); err != nil {
			return err
		}
	}
	return nil
}

// Status reads the motor's power stage diagnostics and ramp flags and
// returns them decoded.
func (m *Motor) Status() (MotorStatus, error) {
	drv, err := m.d.ReadRegister(m.reg(RegDrvStatus))
	if err != nil {
		return MotorStatus{}, err
	}
	ramp, err := m.d.ReadRegister(m.reg(RegRampStat))
	if err != nil {
		return MotorStatus{}, err
	}
	return DecodeMotorStatus(composeMotorStatus(drv, RampStat(ramp), m.index), m.index)
}

// RampStatus reads the raw RAMP_STAT flags. The event flags stay latched
// until ClearRampEvents is called.
func (m *Motor) RampStatus() (RampStat, error) {
	raw, err := m.d.ReadRegister(m.reg(RegRampStat))
	return RampStat(raw), err
}

// ClearRampEvents clears the latched RAMP_STAT event flags. Any write to
// the register clears the latch.
func (m *Motor) ClearRampEvents() error {
	return m.d.WriteRegister(m.reg(RegRampStat), 0)
}

// LatchedPosition reads the position latched on the last configured switch
// or encoder event, see SwitchConfig.
func (m *Motor) LatchedPosition() (int32, error) {
	raw, err := m.d.ReadRegister(m.reg(RegXLatch))
	return int32(raw), err
}

// StallGuardResult reads the current stallGuard2 load value. Lower values
// mean higher mechanical load; 0 in combination with the StallGuard status
// flag means overload.
func (m *Motor) StallGuardResult() (uint16, error) {
	v, err := m.d.ReadField(m.reg(RegDrvStatus), FieldSGResult)
	return uint16(v), err
}

// SetCurrent programs the run and hold RMS currents from the configured
// sense resistor value. The high sensitivity sense range is used whenever
// the run current fits it, for the best scale resolution. The hold current
// should not exceed the run current.
func (m *Motor) SetCurrent(run, hold physic.ElectricCurrent) error {
	rs := float64(m.d.opts.SenseResistor) / float64(physic.Ohm)
	if rs <= 0 {
		return fmt.Errorf("%w: sense resistor not configured", ErrValueOutOfRange)
	}
	vsense := true
	irun := currentScale(run, rs, senseVoltageHigh)
	if irun > 31 {
		vsense = false
		irun = currentScale(run, rs, senseVoltageLow)
	}
	if irun < 0 || irun > 31 {
		return fmt.Errorf("%w: run current %s not reachable with %s sense resistor",
			ErrValueOutOfRange, run, m.d.opts.SenseResistor)
	}
	vfs := senseVoltageLow
	if vsense {
		vfs = senseVoltageHigh
	}
	ihold := currentScale(hold, rs, vfs)
	if ihold < 0 {
		ihold = 0
	}
	if ihold > 31 {
		return fmt.Errorf("%w: hold current %s above run current range", ErrValueOutOfRange, hold)
	}
	var vs int64
	if vsense {
		vs = 1
	}
	if err := m.d.WriteField(m.reg(RegChopConf), FieldVSense, vs); err != nil {
		return err
	}
	return m.SetCurrentScale(uint8(irun), uint8(ihold), iHoldDelay)
}

// SetCurrentScale writes the raw IHOLD_IRUN register: run and hold current
// scales of 0..31 and the hold delay of 0..15. Use SetCurrent for a
// current based API.
func (m *Motor) SetCurrentScale(irun, ihold, delay uint8) error {
	var raw uint32
	var err error
	if raw, err = FieldIHold.Encode(raw, int64(ihold)); err != nil {
		return err
	}
	if raw, err = FieldIRun.Encode(raw, int64(irun)); err != nil {
		return err
	}
	if raw, err = FieldIHoldDelay.Encode(raw, int64(delay)); err != nil {
		return err
	}
	return m.d.WriteRegister(m.reg(RegIHoldIRun), raw)
}

// currentScale converts an RMS current into a 5 bit scale value for the
// given full scale sense voltage. Returns -1 when the current is too small
// for the range's lowest scale.
func currentScale(i physic.ElectricCurrent, senseOhm, vfs float64) int {
	amps := float64(i) / float64(physic.Ampere)
	if amps <= 0 {
		return -1
	}
	cs := int(math.Round(amps*math.Sqrt2*32*senseOhm/vfs)) - 1
	return cs
}

// SetStallGuard sets the stallGuard2 threshold and filter while keeping
// the coolStep window last written through this channel. COOLCONF is write
// only, so the driver tracks its last written value.
func (m *Motor) SetStallGuard(threshold int8, filter bool) error {
	cc, err := FieldSGT.Encode(m.coolconf, int64(threshold))
	if err != nil {
		return err
	}
	cc &^= FieldSFilt.mask()
	if filter {
		cc |= FieldSFilt.mask()
	}
	if err := m.d.WriteRegister(m.reg(RegCoolConf), cc); err != nil {
		return err
	}
	m.coolconf = cc
	return nil
}

// ConfigureCoolStep writes the full coolStep and stallGuard2
// configuration. A zero SEMin switches coolStep off.
func (m *Motor) ConfigureCoolStep(cfg CoolStepConfig) error {
	var raw uint32
	var err error
	if raw, err = FieldSEMin.Encode(raw, int64(cfg.SEMin)); err != nil {
		return err
	}
	if raw, err = FieldSEUp.Encode(raw, int64(cfg.SEUp)); err != nil {
		return err
	}
	if raw, err = FieldSEMax.Encode(raw, int64(cfg.SEMax)); err != nil {
		return err
	}
	if raw, err = FieldSEDn.Encode(raw, int64(cfg.SEDn)); err != nil {
		return err
	}
	if cfg.SEIMin {
		raw |= FieldSEIMin.mask()
	}
	if raw, err = FieldSGT.Encode(raw, int64(cfg.SGT)); err != nil {
		return err
	}
	if cfg.SGFilter {
		raw |= FieldSFilt.mask()
	}
	if err := m.d.WriteRegister(m.reg(RegCoolConf), raw); err != nil {
		return err
	}
	m.coolconf = raw
	return nil
}

// SetCoolStepThreshold sets the lower velocity threshold for coolStep and
// the stallGuard stop. Below it, both features are disabled.
func (m *Motor) SetCoolStepThreshold(v uint32) error {
	return m.d.WriteValue(m.reg(RegVCoolThrs), int64(v))
}

// ConfigureChopper updates the spreadCycle timing, preserving the
// microstep resolution and sense range bits sharing the register.
func (m *Motor) ConfigureChopper(cfg ChopperConfig) error {
	if cfg.TOff == 0 {
		return fmt.Errorf("%w: toff=0 switches the driver off, use DisableDriver", ErrValueOutOfRange)
	}
	patches := []struct {
		f Field
		v int64
	}{
		{FieldTOff, int64(cfg.TOff)},
		{FieldHStrt, int64(cfg.HStrt)},
		{FieldHEnd, int64(cfg.HEnd)},
		{FieldTBL, int64(cfg.TBL)},
	}
	for _, p := range patches {
		if _, err := p.f.Encode(0, p.v); err != nil {
			return err
		}
	}
	raw, err := m.d.ReadRegister(m.reg(RegChopConf))
	if err != nil {
		return err
	}
	for _, p := range patches {
		raw, _ = p.f.Encode(raw, p.v)
	}
	raw &^= FieldRndTF.mask()
	if cfg.RandomTOff {
		raw |= FieldRndTF.mask()
	}
	return m.d.WriteRegister(m.reg(RegChopConf), raw)
}

// ConfigureStealthChop writes the voltage PWM configuration. stealthChop
// is active below the VCOOLTHRS velocity threshold.
func (m *Motor) ConfigureStealthChop(cfg PWMConfig) error {
	if cfg.Freq > 3 {
		return fmt.Errorf("%w: pwm_freq=%d, valid range [0, 3]", ErrValueOutOfRange, cfg.Freq)
	}
	if cfg.Freewheel > 3 {
		return fmt.Errorf("%w: freewheel=%d, valid range [0, 3]", ErrValueOutOfRange, cfg.Freewheel)
	}
	raw := uint32(cfg.Amplitude) | uint32(cfg.Gradient)<<8 | uint32(cfg.Freq)<<16 | uint32(cfg.Freewheel)<<20
	if cfg.Autoscale {
		raw |= 1 << 18
	}
	return m.d.WriteRegister(m.reg(RegPWMConf), raw)
}

// EnableDriver switches the power stage on with the given slow decay time,
// 1..15.
func (m *Motor) EnableDriver(toff uint8) error {
	if toff == 0 {
		return fmt.Errorf("%w: toff=0 keeps the driver off", ErrValueOutOfRange)
	}
	return m.d.WriteField(m.reg(RegChopConf), FieldTOff, int64(toff))
}

// DisableDriver switches the power stage off by zeroing the slow decay
// time. The ramp generator keeps running.
func (m *Motor) DisableDriver() error {
	return m.d.WriteField(m.reg(RegChopConf), FieldTOff, 0)
}

// SetMicrostepResolution sets the microstep resolution, preserving the
// chopper configuration sharing the register.
func (m *Motor) SetMicrostepResolution(mode StepMode) error {
	if mode > StepModeFull {
		return fmt.Errorf("%w: microstep mode %d, valid range [0, %d]", ErrValueOutOfRange, mode, StepModeFull)
	}
	return m.d.WriteField(m.reg(RegChopConf), FieldMRes, int64(mode))
}

// MicrostepResolution reads the current microstep resolution.
func (m *Motor) MicrostepResolution() (StepMode, error) {
	v, err := m.d.ReadField(m.reg(RegChopConf), FieldMRes)
	return StepMode(v), err
}

// ConfigureStopSwitches writes the reference switch configuration.
func (m *Motor) ConfigureStopSwitches(cfg SwitchConfig) error {
	var raw uint32
	set := func(b bool, bit uint) {
		if b {
			raw |= 1 << bit
		}
	}
	set(cfg.StopLeftEnable, 0)
	set(cfg.StopRightEnable, 1)
	set(cfg.InvertLeft, 2)
	set(cfg.InvertRight, 3)
	set(cfg.SwapLeftRight, 4)
	set(cfg.LatchLeftActive, 5)
	set(cfg.LatchLeftInactive, 6)
	set(cfg.LatchRightActive, 7)
	set(cfg.LatchRightInactive, 8)
	set(cfg.LatchEncoder, 9)
	set(cfg.StallGuardStop, 10)
	set(cfg.SoftStop, 11)
	return m.d.WriteRegister(m.reg(RegSWMode), raw)
}

// SetEncoderConst programs the factor between encoder pulses and
// microsteps as a 16.16 fixed point value. The default of 1.0 matches a
// 65536 count encoder.
func (m *Motor) SetEncoderConst(integer int16, fraction uint16) error {
	raw := uint32(uint16(integer))<<16 | uint32(fraction)
	return m.d.WriteRegister(m.reg(RegEncConst), raw)
}

// EncoderPosition reads the decoded encoder position.
func (m *Motor) EncoderPosition() (int32, error) {
	v, err := m.d.ReadValue(m.reg(RegXEnc))
	return int32(v), err
}

// SetEncoderPosition redefines the encoder position, e.g. after homing.
func (m *Motor) SetEncoderPosition(position int32) error {
	return m.d.WriteValue(m.reg(RegXEnc), int64(position))
}

// LatchedEncoderPosition reads the encoder position latched on the last N
// channel or switch event.
func (m *Motor) LatchedEncoderPosition() (int32, error) {
	v, err := m.d.ReadValue(m.reg(RegEncLatch))
	return int32(v), err
}

// EncoderEvent reports whether an N channel event was latched. The flag
// stays set until ClearEncoderEvent is called.
func (m *Motor) EncoderEvent() (bool, error) {
	raw, err := m.d.ReadRegister(m.reg(RegEncStatus))
	return raw&1 != 0, err
}

// ClearEncoderEvent clears the latched N channel event flag. Any write to
// the register clears it.
func (m *Motor) ClearEncoderEvent() error {
	return m.d.WriteRegister(m.reg(RegEncStatus), 0)
}
