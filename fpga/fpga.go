// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package fpga drives the iCE40's reset, CS, and CDONE pins to put it
// into slave or master configuration mode ahead of a bitstream load.
package fpga

import (
	"time"

	"github.com/im-tomu/fomu-flash-go/gpio"
)

// resetSettleDelay is how long reset is held low before being
// released. The timing is not characterized against a datasheet
// value; it is carried over unchanged from the reference tool.
const resetSettleDelay = 10 * time.Millisecond

// configDelay is the SPI slave configuration process window the iCE40
// datasheet (section 13.2) allows after reset is released.
const configDelay = 1200 * time.Microsecond

// Pins names the three GPIO lines a Device drives: RESET, CDONE (an
// input), and CS (shared with the SPI flash bus).
type Pins struct {
	Reset int
	Done  int
	CS    int
}

// Device is an iCE40 FPGA attached over its configuration pins.
type Device struct {
	Backend gpio.Backend
	Pins    Pins
}

// New returns a Device ready to drive the given pins.
func New(backend gpio.Backend, pins Pins) *Device {
	return &Device{Backend: backend, Pins: pins}
}

// Init puts the FPGA into reset and arms CDONE as an input so Done can
// be polled afterward.
func (d *Device) Init() error {
	if err := d.Backend.SetMode(d.Pins.Reset, gpio.Output); err != nil {
		return err
	}
	d.Backend.Write(d.Pins.Reset, gpio.Low)
	return d.Backend.SetMode(d.Pins.Done, gpio.Input)
}

// Done reports whether CDONE is asserted, meaning the FPGA has
// finished loading its configuration bitstream.
func (d *Device) Done() bool {
	return d.Backend.Read(d.Pins.Done) == gpio.High
}

// Reset drives RESET low and leaves it there; it does not bring the
// FPGA back out of reset.
func (d *Device) Reset() error {
	if err := d.Backend.SetMode(d.Pins.Reset, gpio.Output); err != nil {
		return err
	}
	d.Backend.Write(d.Pins.Reset, gpio.Low)
	return nil
}

// ResetSlave cycles reset with CS held low, putting the FPGA into SPI
// slave configuration mode so a bitstream can be streamed to it over
// the shared bus. CS is deliberately left low on return: releasing it
// would wake the SPI flash chip sharing the bus.
func (d *Device) ResetSlave() error {
	return d.resetWithCS(gpio.Low)
}

// ResetMaster cycles reset with CS held high, putting the FPGA into
// "self boot" mode where it reads its configuration directly from the
// attached SPI flash chip.
func (d *Device) ResetMaster() error {
	return d.resetWithCS(gpio.High)
}

func (d *Device) resetWithCS(cs gpio.Level) error {
	if err := d.Backend.SetMode(d.Pins.Reset, gpio.Output); err != nil {
		return err
	}
	d.Backend.Write(d.Pins.Reset, gpio.Low)

	if err := d.Backend.SetMode(d.Pins.CS, gpio.Output); err != nil {
		return err
	}
	d.Backend.Write(d.Pins.CS, cs)

	time.Sleep(resetSettleDelay)

	d.Backend.Write(d.Pins.Reset, gpio.High)

	time.Sleep(configDelay)

	return nil
}
