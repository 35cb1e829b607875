// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tmc5072

import "strings"

// ChipStatus is the status byte the chip clocks out in the first byte of
// every SPI response. It reflects the chip state as of the previous
// datagram, not the one being answered.
//
// The UART interface carries no status byte; there LastStatus stays zero.
type ChipStatus uint8

const (
	// StatusReset signals a reset happened since GSTAT was last cleared.
	StatusReset ChipStatus = 1 << 0
	// StatusStallGuard1 mirrors the stallGuard2 threshold state of motor 1.
	StatusStallGuard1 ChipStatus = 1 << 1
	// StatusStandstill1 signals motor 1 is at standstill.
	StatusStandstill1 ChipStatus = 1 << 2
	// StatusStallGuard2 mirrors the stallGuard2 threshold state of motor 2.
	StatusStallGuard2 ChipStatus = 1 << 3
	// StatusStandstill2 signals motor 2 is at standstill.
	StatusStandstill2 ChipStatus = 1 << 4
	// StatusDriverError signals a power stage error latched in GSTAT.
	StatusDriverError ChipStatus = 1 << 7
)

// DecodeChipStatus interprets a raw SPI status byte.
func DecodeChipStatus(b byte) ChipStatus {
	return ChipStatus(b)
}

// Reset reports whether the chip signalled a reset.
func (s ChipStatus) Reset() bool {
	return s&StatusReset != 0
}

// DriverError reports whether a power stage error is latched.
func (s ChipStatus) DriverError() bool {
	return s&StatusDriverError != 0
}

// StallGuard reports the stallGuard2 state for the given motor index.
func (s ChipStatus) StallGuard(motor int) (bool, error) {
	switch motor {
	case 0:
		return s&StatusStallGuard1 != 0, nil
	case 1:
		return s&StatusStallGuard2 != 0, nil
	}
	return false, errInvalidMotor(motor)
}

// Standstill reports the standstill state for the given motor index.
func (s ChipStatus) Standstill(motor int) (bool, error) {
	switch motor {
	case 0:
		return s&StatusStandstill1 != 0, nil
	case 1:
		return s&StatusStandstill2 != 0, nil
	}
	return false, errInvalidMotor(motor)
}

// String implements fmt.Stringer.
func (s ChipStatus) String() string {
	if s == 0 {
		return "ok"
	}
	names := []struct {
		bit  ChipStatus
		name string
	}{
		{StatusReset, "reset"},
		{StatusStallGuard1, "sg1"},
		{StatusStandstill1, "stst1"},
		{StatusStallGuard2, "sg2"},
		{StatusStandstill2, "stst2"},
		{StatusDriverError, "drv_err"},
	}
	var parts []string
	for _, n := range names {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// GlobalStatus is the decoded GSTAT register. The register latches its
// flags: reading leaves them set, any write to GSTAT clears them.
type GlobalStatus struct {
	// Reset is set when the chip went through a reset since the last clear.
	Reset bool
	// DriverError is set per motor when its power stage shut down.
	DriverError [2]bool
	// Undervoltage is set on a charge pump undervoltage condition.
	Undervoltage bool
}

func decodeGlobalStatus(raw uint32) GlobalStatus {
	return GlobalStatus{
		Reset:        raw&(1<<0) != 0,
		DriverError:  [2]bool{raw&(1<<1) != 0, raw&(1<<2) != 0},
		Undervoltage: raw&(1<<3) != 0,
	}
}

// RampStat holds the raw RAMP_STAT flags of one motor. The event flags
// (RampStatEvent*) latch until the register is written; the remaining flags
// track live controller state.
type RampStat uint32

const (
	RampStatStopL           RampStat = 1 << 0
	RampStatStopR           RampStat = 1 << 1
	RampStatLatchL          RampStat = 1 << 2
	RampStatLatchR          RampStat = 1 << 3
	RampStatEventStopL      RampStat = 1 << 4
	RampStatEventStopR      RampStat = 1 << 5
	RampStatEventStopSG     RampStat = 1 << 6
	RampStatEventPosReached RampStat = 1 << 7
	RampStatVelocityReached RampStat = 1 << 8
	RampStatPositionReached RampStat = 1 << 9
	RampStatVZero           RampStat = 1 << 10
	RampStatTZeroWait       RampStat = 1 << 11
	RampStatSecondMove      RampStat = 1 << 12
	RampStatSG              RampStat = 1 << 13
)

// MotorStatus is the decoded condition of one motor, combining the ramp
// controller flags with the power stage diagnostics.
type MotorStatus struct {
	// Standstill is set when no step pulses are generated.
	Standstill bool
	// PositionReached is set when the ramp generator reached XTARGET.
	PositionReached bool
	// VelocityReached is set when the ramp generator reached VMAX.
	VelocityReached bool
	// StallGuard is set when the stallGuard2 load value hit the threshold.
	StallGuard bool
	// OvertempWarning is set above the warning temperature.
	OvertempWarning bool
	// OvertempShutdown is set when the thermal shutdown tripped.
	OvertempShutdown bool
	// ShortToGroundA and ShortToGroundB flag shorted motor outputs.
	ShortToGroundA bool
	ShortToGroundB bool
	// OpenLoadA and OpenLoadB flag open motor connections. They are only
	// meaningful while the motor moves slowly.
	OpenLoadA bool
	OpenLoadB bool
}

// The condensed status word packs one motor's flags per 16 bit half, motor
// 1 in the low half, motor 2 in the high half.
const (
	motorStatusStandstill      = 1 << 0
	motorStatusPosReached      = 1 << 1
	motorStatusVelReached      = 1 << 2
	motorStatusStallGuard      = 1 << 3
	motorStatusOvertempWarning = 1 << 4
	motorStatusOvertemp        = 1 << 5
	motorStatusShortA          = 1 << 6
	motorStatusShortB          = 1 << 7
	motorStatusOpenLoadA       = 1 << 8
	motorStatusOpenLoadB       = 1 << 9

	motorStatusShift = 16
)

// composeMotorStatus condenses one motor's DRV_STATUS and RAMP_STAT values
// into the motor's half of the condensed status word.
func composeMotorStatus(drvStatus uint32, rampStat RampStat, motor int) uint32 {
	var half uint32
	if drvStatus&(1<<31) != 0 {
		half |= motorStatusStandstill
	}
	if rampStat&RampStatPositionReached != 0 {
		half |= motorStatusPosReached
	}
	if rampStat&RampStatVelocityReached != 0 {
		half |= motorStatusVelReached
	}
	if drvStatus&(1<<24) != 0 {
		half |= motorStatusStallGuard
	}
	if drvStatus&(1<<26) != 0 {
		half |= motorStatusOvertempWarning
	}
	if drvStatus&(1<<25) != 0 {
		half |= motorStatusOvertemp
	}
	if drvStatus&(1<<27) != 0 {
		half |= motorStatusShortA
	}
	if drvStatus&(1<<28) != 0 {
		half |= motorStatusShortB
	}
	if drvStatus&(1<<29) != 0 {
		half |= motorStatusOpenLoadA
	}
	if drvStatus&(1<<30) != 0 {
		half |= motorStatusOpenLoadB
	}
	return half << (motorStatusShift * uint(motor))
}

// DecodeMotorStatus unpacks one motor's flags from a condensed status word
// as produced by Motor.Status. motor selects the 16 bit half: 0 for motor
// 1, 1 for motor 2.
func DecodeMotorStatus(payload uint32, motor int) (MotorStatus, error) {
	if motor < 0 || motor > 1 {
		return MotorStatus{}, errInvalidMotor(motor)
	}
	half := payload >> (motorStatusShift * uint(motor)) & 0xFFFF
	return MotorStatus{
		Standstill:       half&motorStatusStandstill != 0,
		PositionReached:  half&motorStatusPosReached != 0,
		VelocityReached:  half&motorStatusVelReached != 0,
		StallGuard:       half&motorStatusStallGuard != 0,
		OvertempWarning:  half&motorStatusOvertempWarning != 0,
		OvertempShutdown: half&motorStatusOvertemp != 0,
		ShortToGroundA:   half&motorStatusShortA != 0,
		ShortToGroundB:   half&motorStatusShortB != 0,
		OpenLoadA:        half&motorStatusOpenLoadA != 0,
		OpenLoadB:        half&motorStatusOpenLoadB != 0,
	}, nil
}
