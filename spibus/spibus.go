// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package spibus bit-bangs a SPI bus over raw GPIO pins, supporting
// single, dual, quad, and QPI shift modes on the same six control
// lines plus four data lines. It owns nothing about what's attached to
// the bus; callers issue commands and move bytes, and the bus tracks
// only pin direction and shift width.
package spibus

import (
	"errors"
	"fmt"

	"github.com/im-tomu/fomu-flash-go/gpio"
)

// pinState is the GPIO direction configuration the bus's pins must be
// in for a given shift mode.
type pinState int

const (
	stateUnconfigured pinState = iota
	stateSingle
	stateDualRx
	stateDualTx
	stateQuadRx
	stateQuadTx
	stateHardware
)

// Type selects how many data lines a transfer uses, and whether the
// device on the other end has been switched into QPI (command phase
// also quad-wide, not just data).
type Type int

const (
	Unconfigured Type = iota
	Single
	Dual
	Quad
	QPI
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case Single:
		return "single"
	case Dual:
		return "dual"
	case Quad:
		return "quad"
	case QPI:
		return "qpi"
	default:
		return "unconfigured"
	}
}

// ErrUnsupportedMode is returned by Tx/Rx when the bus is in a Type
// that has no defined shift width (only reachable before SetType has
// ever been called).
var ErrUnsupportedMode = errors.New("spibus: unsupported mode")

// Pins names the ten GPIO lines a Bus drives. D0..D3 double as the
// dual/quad data lines; in Single mode D0 and D1 are unused and MOSI/
// MISO carry the traffic directly.
type Pins struct {
	Clk  int
	CS   int
	MOSI int
	MISO int
	WP   int
	Hold int
	D0   int
	D1   int
	D2   int
	D3   int
}

// Quirks records the vendor-specific deviations from the default
// status-register and quad-enable conventions, derived from
// identification by the flash package and handed down to the bus so
// its status-register primitives and quad-enable step can follow
// them. The bitset itself lives here, in the lower layer, so flash
// can hand it to Bus without either package importing the other's
// domain type.
type Quirks uint8

const (
	// SR2FromSR1 means writing status register 2 is done by issuing
	// opcode 0x01 with the current SR1 value preserved, followed by
	// the new SR2 byte, instead of opcode 0x31 with just the SR2 byte.
	SR2FromSR1 Quirks = 1 << iota
	// SkipSRWel means the volatile status-register write-enable
	// (0x50) is omitted before a status write; only the ordinary
	// write-enable (0x06) is issued.
	SkipSRWel
	// SecurityNybbleShift means the security register index passed
	// to flash.Chip's ReadSecurity/WriteSecurity is pre-shifted left 4 bits
	// before being placed in the address's middle byte.
	SecurityNybbleShift
	// QEInSR1 means the quad-enable bit lives at bit 6 of status
	// register 1 rather than bit 1 of status register 2.
	QEInSR1
	// SR2FromSR3 means writing status register 2 is done by issuing
	// opcode 0x01 with the current SR1 and SR3 values preserved,
	// followed by the new SR2 byte (a three-byte payload).
	SR2FromSR3
)

// Bus is a bit-banged, address-free SPI engine: it knows how to shift
// bytes in the four standard widths and how to arbitrate chip select,
// but nothing about flash or FPGA protocol semantics beyond the
// status-register conventions Quirks lets a caller adjust.
type Bus struct {
	Backend gpio.Backend
	Pins    Pins

	state  pinState
	typ    Type
	quirks Quirks
}

// New returns a Bus ready to have SetType called on it. The caller is
// responsible for calling Backend.Init() first.
func New(backend gpio.Backend, pins Pins) *Bus {
	return &Bus{Backend: backend, Pins: pins}
}

// SetQuirks installs the vendor-specific deviations status-register
// access and quad-enable should follow. Call it after identification,
// before the first SetType(Quad) / SetType(QPI).
func (b *Bus) SetQuirks(q Quirks) {
	b.quirks = q
}

// Quirks returns the bus's currently installed Quirks.
func (b *Bus) Quirks() Quirks {
	return b.quirks
}

// out puts pin n in Output mode and drives it to level; in puts pin n
// in Input mode. Every state below uses these so that entering a state
// always leaves every output-mode pin at its idle level (CLK=0, CS=1,
// MOSI=1, WP=1, HOLD=1 — spec's single-mode idle levels, held the same
// across the dual/quad states whenever the pin stays an output in
// them) instead of merely switching direction and leaving the level
// wherever it last was.
func (b *Bus) out(n int, level gpio.Level) {
	b.Backend.SetMode(n, gpio.Output)
	b.Backend.Write(n, level)
}

func (b *Bus) in(n int) {
	b.Backend.SetMode(n, gpio.Input)
}

func (b *Bus) setState(state pinState) {
	if b.state == state {
		return
	}
	p := b.Pins
	switch state {
	case stateSingle:
		b.out(p.Clk, gpio.Low)
		b.out(p.CS, gpio.High)
		b.out(p.MOSI, gpio.High)
		b.in(p.MISO)
		b.out(p.Hold, gpio.High)
		b.out(p.WP, gpio.High)
	case stateDualRx:
		b.out(p.Clk, gpio.Low)
		b.out(p.CS, gpio.High)
		b.in(p.MOSI)
		b.in(p.MISO)
		b.out(p.Hold, gpio.High)
		b.out(p.WP, gpio.High)
	case stateDualTx:
		b.out(p.Clk, gpio.Low)
		b.out(p.CS, gpio.High)
		b.out(p.MOSI, gpio.High)
		b.out(p.MISO, gpio.High)
		b.out(p.Hold, gpio.High)
		b.out(p.WP, gpio.High)
	case stateQuadRx:
		b.out(p.Clk, gpio.Low)
		b.out(p.CS, gpio.High)
		b.in(p.MOSI)
		b.in(p.MISO)
		b.in(p.Hold)
		b.in(p.WP)
	case stateQuadTx:
		b.out(p.Clk, gpio.Low)
		b.out(p.CS, gpio.High)
		b.out(p.MOSI, gpio.High)
		b.out(p.MISO, gpio.High)
		b.out(p.Hold, gpio.High)
		b.out(p.WP, gpio.High)
	case stateHardware:
		// No dedicated hardware SPI controller is wired up; releasing
		// the bus just means leaving every line as an input so
		// something else (the FPGA) can drive it.
		b.in(p.Clk)
		b.in(p.CS)
		b.in(p.MOSI)
		b.in(p.MISO)
		b.in(p.Hold)
		b.in(p.WP)
	default:
		return
	}
	b.state = state
}

// Begin asserts chip select, always starting from single-wide shift
// so the command phase (which is never wider than QPI, handled
// separately) lands correctly.
func (b *Bus) Begin() {
	b.setState(stateSingle)
	b.Backend.Write(b.Pins.CS, gpio.Low)
}

// End deasserts chip select.
func (b *Bus) End() {
	b.Backend.Write(b.Pins.CS, gpio.High)
}

func (b *Bus) xfer(out byte) byte {
	var in byte
	for bit := 7; bit >= 0; bit-- {
		if out&(1<<uint(bit)) != 0 {
			b.Backend.Write(b.Pins.MOSI, gpio.High)
		} else {
			b.Backend.Write(b.Pins.MOSI, gpio.Low)
		}
		b.Backend.Write(b.Pins.Clk, gpio.High)
		if b.Backend.Read(b.Pins.MISO) == gpio.High {
			in |= 1 << uint(bit)
		}
		b.Backend.Write(b.Pins.Clk, gpio.Low)
	}
	return in
}

func (b *Bus) singleTx(out byte) {
	b.setState(stateSingle)
	b.xfer(out)
}

func (b *Bus) singleRx() byte {
	b.setState(stateSingle)
	return b.xfer(0xff)
}

func (b *Bus) dualTx(out byte) {
	b.setState(stateDualTx)
	for bit := 7; bit >= 0; bit -= 2 {
		b.Backend.Write(b.Pins.D0, level(out, bit-1))
		b.Backend.Write(b.Pins.D1, level(out, bit-0))
		b.Backend.Write(b.Pins.Clk, gpio.High)
		b.Backend.Write(b.Pins.Clk, gpio.Low)
	}
}

func (b *Bus) quadTx(out byte) {
	b.setState(stateQuadTx)
	for bit := 7; bit >= 0; bit -= 4 {
		b.Backend.Write(b.Pins.D0, level(out, bit-3))
		b.Backend.Write(b.Pins.D1, level(out, bit-2))
		b.Backend.Write(b.Pins.D2, level(out, bit-1))
		b.Backend.Write(b.Pins.D3, level(out, bit-0))
		b.Backend.Write(b.Pins.Clk, gpio.High)
		b.Backend.Write(b.Pins.Clk, gpio.Low)
	}
}

func (b *Bus) dualRx() byte {
	var in byte
	b.setState(stateDualRx)
	for bit := 7; bit >= 0; bit -= 2 {
		b.Backend.Write(b.Pins.Clk, gpio.High)
		in |= boolBit(b.Backend.Read(b.Pins.D0), bit-1)
		in |= boolBit(b.Backend.Read(b.Pins.D1), bit-0)
		b.Backend.Write(b.Pins.Clk, gpio.Low)
	}
	return in
}

func (b *Bus) quadRx() byte {
	var in byte
	b.setState(stateQuadRx)
	for bit := 7; bit >= 0; bit -= 4 {
		b.Backend.Write(b.Pins.Clk, gpio.High)
		in |= boolBit(b.Backend.Read(b.Pins.D0), bit-3)
		in |= boolBit(b.Backend.Read(b.Pins.D1), bit-2)
		in |= boolBit(b.Backend.Read(b.Pins.D2), bit-1)
		in |= boolBit(b.Backend.Read(b.Pins.D3), bit-0)
		b.Backend.Write(b.Pins.Clk, gpio.Low)
	}
	return in
}

func level(v byte, bit int) gpio.Level {
	return v&(1<<uint(bit)) != 0
}

func boolBit(l gpio.Level, bit int) byte {
	if l == gpio.High {
		return 1 << uint(bit)
	}
	return 0
}

// Tx shifts one byte out using whatever width the bus's current Type
// calls for.
func (b *Bus) Tx(word byte) error {
	switch b.typ {
	case Single:
		b.singleTx(word)
	case Dual:
		b.dualTx(word)
	case Quad, QPI:
		b.quadTx(word)
	default:
		return ErrUnsupportedMode
	}
	return nil
}

// Rx shifts one byte in using whatever width the bus's current Type
// calls for.
func (b *Bus) Rx() (byte, error) {
	switch b.typ {
	case Single:
		return b.singleRx(), nil
	case Dual:
		return b.dualRx(), nil
	case Quad, QPI:
		return b.quadRx(), nil
	default:
		return 0xff, ErrUnsupportedMode
	}
}

// Command shifts out one command byte. In QPI mode the command phase
// itself is quad-wide; every other mode always sends commands single
// bit at a time.
func (b *Bus) Command(cmd byte) {
	if b.typ == QPI {
		b.quadTx(cmd)
	} else {
		b.singleTx(cmd)
	}
}

// CommandRx reads back one byte during the command phase, honoring
// the same single-vs-quad split as Command.
func (b *Bus) CommandRx() byte {
	if b.typ == QPI {
		return b.quadRx()
	}
	return b.singleRx()
}

// Type returns the bus's current shift mode.
func (b *Bus) Type() Type {
	return b.typ
}

// ReadStatusRegister reads status register 1, 2, or 3 (opcodes 0x05,
// 0x35, 0x15). Reading SR2 on a chip whose Quirks set SR2FromSR1 or
// SR2FromSR3 primes the read with the donor register first and takes
// the following byte, instead of issuing 0x35 directly.
func (b *Bus) ReadStatusRegister(sr int) (byte, error) {
	switch sr {
	case 1:
		b.Begin()
		b.Command(0x05)
		val := b.CommandRx()
		b.End()
		return val, nil

	case 3:
		b.Begin()
		b.Command(0x15)
		val := b.CommandRx()
		b.End()
		return val, nil

	case 2:
		var primer byte
		switch {
		case b.quirks&SR2FromSR1 != 0:
			primer = 0x05
		case b.quirks&SR2FromSR3 != 0:
			primer = 0x15
		default:
			b.Begin()
			b.Command(0x35)
			val := b.CommandRx()
			b.End()
			return val, nil
		}
		b.Begin()
		b.Command(primer)
		_ = b.CommandRx()
		val := b.CommandRx()
		b.End()
		return val, nil

	default:
		return 0xff, fmt.Errorf("spibus: unrecognized status register %d", sr)
	}
}

// WriteStatusRegister writes status register 1, 2, or 3. Before the
// write it always issues 0x06 (write-enable); unless Quirks has
// SkipSRWel set, it follows with 0x50 (volatile status-register write
// enable) as well. Writing SR2 on a chip whose Quirks set SR2FromSR1
// or SR2FromSR3 reissues opcode 0x01 with the donor register(s)
// preserved ahead of the new SR2 byte, instead of opcode 0x31.
func (b *Bus) WriteStatusRegister(sr int, val byte) error {
	if sr != 1 && sr != 2 && sr != 3 {
		return fmt.Errorf("spibus: unrecognized status register %d", sr)
	}

	b.Begin()
	b.Command(0x06)
	b.End()
	if b.quirks&SkipSRWel == 0 {
		b.Begin()
		b.Command(0x50)
		b.End()
	}

	switch sr {
	case 1:
		b.Begin()
		b.Command(0x01)
		b.Command(val)
		b.End()

	case 3:
		b.Begin()
		b.Command(0x11)
		b.Command(val)
		b.End()

	case 2:
		switch {
		case b.quirks&SR2FromSR1 != 0:
			sr1, err := b.ReadStatusRegister(1)
			if err != nil {
				return err
			}
			b.Begin()
			b.Command(0x01)
			b.Command(sr1)
			b.Command(val)
			b.End()

		case b.quirks&SR2FromSR3 != 0:
			sr1, err := b.ReadStatusRegister(1)
			if err != nil {
				return err
			}
			sr3, err := b.ReadStatusRegister(3)
			if err != nil {
				return err
			}
			b.Begin()
			b.Command(0x01)
			b.Command(sr1)
			b.Command(sr3)
			b.Command(val)
			b.End()

		default:
			b.Begin()
			b.Command(0x31)
			b.Command(val)
			b.End()
		}
	}
	return nil
}

// SetType switches the bus's shift mode, issuing whatever QPI enter/
// exit or quad-enable commands are required on the flash's command
// channel to match. It is a no-op if the bus is already in the
// requested Type.
func (b *Bus) SetType(t Type) error {
	if b.typ == t {
		return nil
	}

	exitQPI := func() {
		if b.typ == QPI {
			b.Begin()
			b.Command(0xff)
			b.End()
		}
	}

	switch t {
	case Single:
		exitQPI()
		b.typ = t
		b.setState(stateSingle)

	case Dual:
		exitQPI()
		b.typ = t
		b.setState(stateDualTx)

	case Quad:
		exitQPI()
		if err := b.enableQuadMode(); err != nil {
			return err
		}
		b.typ = t
		b.setState(stateQuadTx)

	case QPI:
		if err := b.enableQuadMode(); err != nil {
			return err
		}
		b.Begin()
		b.Command(0x38)
		b.End()
		b.typ = t
		b.setState(stateQuadTx)

	default:
		return fmt.Errorf("spibus: unrecognized spi type %d", int(t))
	}
	return nil
}

// enableQuadMode sets whichever bit the attached chip uses for quad
// enable: bit 6 of SR1 for chips with QEInSR1 (e.g. Macronix), bit 1
// of SR2 otherwise (the JEDEC-default convention).
func (b *Bus) enableQuadMode() error {
	if b.quirks&QEInSR1 != 0 {
		sr1, err := b.ReadStatusRegister(1)
		if err != nil {
			return err
		}
		if sr1&(1<<6) != 0 {
			return nil
		}
		return b.WriteStatusRegister(1, sr1|(1<<6))
	}
	sr2, err := b.ReadStatusRegister(2)
	if err != nil {
		return err
	}
	if sr2&(1<<1) != 0 {
		return nil
	}
	return b.WriteStatusRegister(2, sr2|(1<<1))
}

// SwapTxRx exchanges the MOSI and MISO pin assignments and forces the
// bus back to Single mode. The FPGA programming dance uses this to
// turn the flash's MOSI/MISO pair into the FPGA's SPI-slave MISO/MOSI
// pair without rewiring anything physically.
func (b *Bus) SwapTxRx() {
	b.Pins.MOSI, b.Pins.MISO = b.Pins.MISO, b.Pins.MOSI
	b.typ = Single
	b.state = stateUnconfigured
	b.setState(stateSingle)
}

// Hold issues the deep power-down command (0xB9), parking the flash
// chip so it ignores the shared bus while the host drives the FPGA.
func (b *Bus) Hold() {
	b.Begin()
	b.Command(0xb9)
	b.End()
}

// Unhold issues the release command (0xAB) handing the bus back.
func (b *Bus) Unhold() {
	b.Begin()
	b.Command(0xab)
	b.End()
}

// Release puts every pin back into a state safe for something else
// (e.g. the FPGA) to drive the bus.
func (b *Bus) Release() {
	b.setState(stateHardware)
}
