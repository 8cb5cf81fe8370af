// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpio

import "fmt"

// Bus is the synchronous bitbang surface an FTDI device (FT232H,
// FT2232H, ...) exposes once put in bitbang mode: a single byte-wide
// port where every bit is independently an input or an output. It is
// the shape a vendor's own USB-serial library hands back; FTDIBackend
// only delegates to it.
type Bus interface {
	// Direction sets bit n's direction: true for output, false for
	// input.
	Direction(n int, output bool) error
	// Get reads bit n back from the most recent sample.
	Get(n int) bool
	// Set drives bit n when it is configured as an output.
	Set(n int, high bool) error
}

// FTDIBackend adapts an eight-line FTDI synchronous bitbang Bus (D0
// through D7) to Backend. It does no USB I/O of its own — Bus is
// supplied by whatever vendor library the caller links in — it only
// translates pin numbers and records direction the way the bus needs.
type FTDIBackend struct {
	Bus Bus

	numPins int
}

// Init implements Backend.
func (f *FTDIBackend) Init() error {
	if f.Bus == nil {
		return fmt.Errorf("gpio: FTDIBackend has no Bus")
	}
	f.numPins = 8
	return nil
}

func (f *FTDIBackend) check(n int) error {
	if n < 0 || n >= f.numPins {
		return fmt.Errorf("gpio: pin D%d out of range, device has D0..D%d", n, f.numPins-1)
	}
	return nil
}

// SetMode implements Backend.
func (f *FTDIBackend) SetMode(n int, mode Mode) error {
	if err := f.check(n); err != nil {
		return err
	}
	return f.Bus.Direction(n, mode == Output)
}

// Read implements Backend.
func (f *FTDIBackend) Read(n int) Level {
	if f.check(n) != nil {
		return Low
	}
	return Level(f.Bus.Get(n))
}

// Write implements Backend.
func (f *FTDIBackend) Write(n int, level Level) {
	if f.check(n) != nil {
		return
	}
	f.Bus.Set(n, bool(level))
}

var _ Backend = &FTDIBackend{}
