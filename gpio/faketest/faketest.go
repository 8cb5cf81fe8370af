// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package faketest provides an in-memory gpio.Backend for exercising
// the bus, flash, and FPGA packages without any real pins.
package faketest

import (
	"fmt"

	"github.com/im-tomu/fomu-flash-go/gpio"
)

// Backend is a fake gpio.Backend that keeps every pin's mode and level
// in memory and records every call made to it, in order, for
// assertions in tests.
type Backend struct {
	Calls []string

	modes  map[int]gpio.Mode
	levels map[int]gpio.Level

	// Inputs supplies the value Read returns for a pin currently in
	// Input mode. Backend never invents a level on its own.
	Inputs map[int]gpio.Level
}

// New returns a ready Backend.
func New() *Backend {
	return &Backend{
		modes:  map[int]gpio.Mode{},
		levels: map[int]gpio.Level{},
		Inputs: map[int]gpio.Level{},
	}
}

// Init implements gpio.Backend.
func (b *Backend) Init() error {
	b.Calls = append(b.Calls, "Init()")
	return nil
}

// SetMode implements gpio.Backend.
func (b *Backend) SetMode(n int, mode gpio.Mode) error {
	b.Calls = append(b.Calls, fmt.Sprintf("SetMode(%d, %s)", n, mode))
	b.modes[n] = mode
	return nil
}

// Read implements gpio.Backend.
func (b *Backend) Read(n int) gpio.Level {
	b.Calls = append(b.Calls, fmt.Sprintf("Read(%d)", n))
	if b.modes[n] == gpio.Output {
		return b.levels[n]
	}
	return b.Inputs[n]
}

// Write implements gpio.Backend.
func (b *Backend) Write(n int, level gpio.Level) {
	b.Calls = append(b.Calls, fmt.Sprintf("Write(%d, %s)", n, level))
	b.levels[n] = level
}

// Level returns the last level driven to pin n, regardless of mode,
// for assertions that don't want to route through Read's mode check.
func (b *Backend) Level(n int) gpio.Level {
	return b.levels[n]
}

// Mode returns the last mode set on pin n.
func (b *Backend) Mode(n int) gpio.Mode {
	return b.modes[n]
}

var _ gpio.Backend = &Backend{}
