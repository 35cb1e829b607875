// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tmc5072 controls a Trinamic TMC5072 dual stepper motor driver
// via SPI or its single wire UART interface.
//
// The chip integrates two complete motion controllers. Each motor channel
// has its own ramp generator with an eight point motion profile, current
// regulation, spreadCycle and stealthChop choppers, stallGuard2 load
// measurement, coolStep current scaling and an incremental encoder
// interface. The driver exposes the channels as two Motor values sharing
// one Dev.
//
// # Register Access
//
// All chip state lives in 32 bit registers carried in 40 bit datagrams.
// On SPI the chip answers one transaction late: a read returns the data of
// the previous transaction, so the driver issues two transactions per
// register read. Every SPI reply also carries a status byte with per motor
// stall and standstill flags, available through LastStatus without extra
// bus traffic. The UART interface has neither the pipelining nor the
// status byte.
//
// Several registers are write only in hardware. The driver validates every
// value against its register width before touching the bus and refuses
// reads of write only registers instead of returning garbage.
//
// # Concurrency
//
// Dev and Motor do no locking. Both motor channels issue transactions on
// the same bus connection, so callers owning more than one goroutine must
// serialize all access to a Dev and its Motors.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/TMC5072_datasheet_rev1.26.pdf
package tmc5072
