// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package flash_test

import (
	"github.com/im-tomu/fomu-flash-go/gpio"
	"github.com/im-tomu/fomu-flash-go/spibus"
)

// fakeChip is a gpio.Backend that also plays the part of a single-wire
// SPI NOR flash chip: it watches CLK/MOSI/CS the same way a real chip's
// shift register would and drives MISO accordingly. It only implements
// the opcodes flash_test.go's fixtures exercise.
type fakeChip struct {
	pins spibus.Pins

	modes  map[int]gpio.Mode
	levels map[int]gpio.Level

	pendingMOSI gpio.Level
	misoOut     gpio.Level

	csActive bool
	bitIndex int
	curByte  byte
	outByte  byte

	header    []byte
	haveOp    bool
	opcode    byte
	headerLen int
	phase     phase
	outIdx    int
	inBuf     []byte

	sr1, sr2, sr3 byte
	mem           []byte
	mfgID, devID  byte
	jedecMfg      byte
	memType       byte
	memSize       byte
	sig           byte
	serial        [4]byte
}

type phase int

const (
	phaseHeader phase = iota
	phaseOutput
	phaseConsume
	phaseNoop
)

func newFakeChip(pins spibus.Pins) *fakeChip {
	return &fakeChip{
		pins:   pins,
		modes:  map[int]gpio.Mode{},
		levels: map[int]gpio.Level{},
		mem:    make([]byte, 1<<20),
	}
}

func (f *fakeChip) Init() error { return nil }

func (f *fakeChip) SetMode(n int, mode gpio.Mode) error {
	f.modes[n] = mode
	return nil
}

func (f *fakeChip) Read(n int) gpio.Level {
	if n == f.pins.MISO {
		return f.misoOut
	}
	return f.levels[n]
}

func (f *fakeChip) Write(n int, level gpio.Level) {
	f.levels[n] = level
	switch n {
	case f.pins.MOSI:
		f.pendingMOSI = level
	case f.pins.CS:
		if level == gpio.Low && !f.csActive {
			f.beginTransaction()
		} else if level == gpio.High && f.csActive {
			f.endTransaction()
		}
		f.csActive = level == gpio.Low
	case f.pins.Clk:
		if level == gpio.High {
			f.risingEdge()
		}
	}
}

func (f *fakeChip) beginTransaction() {
	f.bitIndex = 0
	f.curByte = 0
	f.header = nil
	f.haveOp = false
	f.phase = phaseHeader
	f.outIdx = 0
	f.inBuf = nil
}

func (f *fakeChip) endTransaction() {
	if f.phase != phaseConsume || !f.haveOp {
		return
	}
	f.commit()
}

func (f *fakeChip) risingEdge() {
	if !f.csActive {
		return
	}
	if f.bitIndex == 0 {
		f.outByte = f.nextOutputByte()
	}
	bit := byte(0)
	if f.pendingMOSI == gpio.High {
		bit = 1
	}
	f.curByte = f.curByte<<1 | bit
	if f.outByte&(1<<uint(7-f.bitIndex)) != 0 {
		f.misoOut = gpio.High
	} else {
		f.misoOut = gpio.Low
	}
	f.bitIndex++
	if f.bitIndex == 8 {
		f.byteComplete(f.curByte)
		f.bitIndex = 0
		f.curByte = 0
	}
}

func (f *fakeChip) nextOutputByte() byte {
	if f.phase != phaseOutput {
		return 0xff
	}
	b := f.outputByteAt(f.outIdx)
	f.outIdx++
	return b
}

func (f *fakeChip) outputByteAt(i int) byte {
	addr := f.headerAddr()
	switch f.opcode {
	case 0x90:
		if i == 0 {
			return f.mfgID
		}
		return f.devID
	case 0x9f:
		switch i {
		case 0:
			return f.jedecMfg
		case 1:
			return f.memType
		default:
			return f.memSize
		}
	case 0xab:
		return f.sig
	case 0x4b:
		if i < 4 {
			return f.serial[i]
		}
		return 0xff
	case 0x05:
		if i == 0 {
			return f.sr1
		}
		return f.sr2
	case 0x15:
		if i == 0 {
			return f.sr3
		}
		return f.sr2
	case 0x35:
		return f.sr2
	case 0x0b:
		return f.mem[int(addr)+i]
	default:
		return 0xff
	}
}

func (f *fakeChip) headerAddr() uint32 {
	if len(f.header) < 4 {
		return 0
	}
	return uint32(f.header[1])<<16 | uint32(f.header[2])<<8 | uint32(f.header[3])
}

func (f *fakeChip) byteComplete(b byte) {
	switch f.phase {
	case phaseHeader:
		f.header = append(f.header, b)
		if !f.haveOp {
			f.opcode = b
			f.haveOp = true
			f.headerLen = f.opcodeHeaderLen(b)
		}
		if len(f.header) == f.headerLen {
			f.phase = f.opcodePhase(f.opcode)
			if f.phase == phaseNoop {
				switch f.opcode {
				case 0x20:
					f.eraseBlock(f.headerAddr(), 4096)
				case 0x52:
					f.eraseBlock(f.headerAddr(), 32*1024)
				case 0xd8:
					f.eraseBlock(f.headerAddr(), 64*1024)
				}
			}
		}
	case phaseConsume:
		f.inBuf = append(f.inBuf, b)
	}
}

func (f *fakeChip) opcodeHeaderLen(opcode byte) int {
	switch opcode {
	case 0x90, 0xab:
		return 4
	case 0x4b:
		return 5
	case 0x9f, 0x05, 0x15, 0x35, 0x01, 0x11, 0x31, 0x06, 0x50:
		return 1
	case 0x20, 0x52, 0xd8, 0x02, 0x44, 0x42, 0x48:
		return 4
	case 0x0b:
		return 5
	default:
		return 1
	}
}

func (f *fakeChip) opcodePhase(opcode byte) phase {
	switch opcode {
	case 0x90, 0x9f, 0xab, 0x4b, 0x05, 0x15, 0x35, 0x0b, 0x48:
		return phaseOutput
	case 0x01, 0x11, 0x31, 0x02, 0x42:
		return phaseConsume
	default:
		return phaseNoop
	}
}

func (f *fakeChip) eraseBlock(addr, blockSize uint32) {
	start := (addr / blockSize) * blockSize
	for i := uint32(0); i < blockSize; i++ {
		f.mem[start+i] = 0xff
	}
}

func (f *fakeChip) commit() {
	switch f.opcode {
	case 0x01:
		switch len(f.inBuf) {
		case 1:
			f.sr1 = f.inBuf[0]
		case 2:
			f.sr2 = f.inBuf[1]
		case 3:
			f.sr2 = f.inBuf[2]
		}
	case 0x11:
		if len(f.inBuf) > 0 {
			f.sr3 = f.inBuf[0]
		}
	case 0x31:
		if len(f.inBuf) > 0 {
			f.sr2 = f.inBuf[0]
		}
	case 0x02:
		addr := f.headerAddr()
		for i, b := range f.inBuf {
			f.mem[int(addr)+i] = b
		}
	}
}
