// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpio abstracts the handful of raw pin operations the rest of
// this module needs: set a pin's direction, read it, drive it. Every
// other package talks to hardware exclusively through the Backend
// interface so that the bit-banged SPI engine and the FPGA controller
// never care whether they're running against real silicon or a fake.
package gpio

import "fmt"

// Mode selects a pin's function. Input and Output are the two modes
// the bit-banged bus actually switches a pin through; Alt0 through
// Alt5 mirror the SoC's alternate-function muxing so a Backend can
// hand a pin to a peripheral (UART, PWM, ...) outside this module's
// own bit-banging.
type Mode int

const (
	Input Mode = iota
	Output
	Alt0
	Alt1
	Alt2
	Alt3
	Alt4
	Alt5
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	case Alt0:
		return "alt0"
	case Alt1:
		return "alt1"
	case Alt2:
		return "alt2"
	case Alt3:
		return "alt3"
	case Alt4:
		return "alt4"
	case Alt5:
		return "alt5"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Level is the electrical state of a pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// String implements fmt.Stringer.
func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Backend is the minimal surface every pin source on the host must
// provide. Pins are addressed by a small integer the caller assigns
// meaning to (a BCM GPIO number, an FTDI D-line index, ...); Backend
// itself is agnostic to what that number means.
type Backend interface {
	// Init prepares the backend for use. It must be called once,
	// before any other method, and is idempotent.
	Init() error

	// SetMode configures the direction of pin n.
	SetMode(n int, mode Mode) error

	// Read returns the current level of pin n. Pin n need not be in
	// Input mode; reading back a pin driven Output is well-defined.
	Read(n int) Level

	// Write drives pin n to the given level. The pin must be in
	// Output mode.
	Write(n int, level Level)
}
