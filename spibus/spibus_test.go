// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package spibus_test

import (
	"bytes"
	"testing"

	"github.com/im-tomu/fomu-flash-go/gpio"
	"github.com/im-tomu/fomu-flash-go/gpio/faketest"
	"github.com/im-tomu/fomu-flash-go/spibus"
)

func newBus() (*spibus.Bus, *faketest.Backend) {
	backend := faketest.New()
	pins := spibus.Pins{Clk: 0, CS: 1, MOSI: 2, MISO: 3, WP: 4, Hold: 5, D0: 6, D1: 7, D2: 8, D3: 9}
	return spibus.New(backend, pins), backend
}

func TestBeginEndTogglesChipSelect(t *testing.T) {
	bus, backend := newBus()
	bus.Begin()
	if backend.Level(1) != gpio.Low {
		t.Errorf("CS should be low after Begin")
	}
	bus.End()
	if backend.Level(1) != gpio.High {
		t.Errorf("CS should be high after End")
	}
}

func TestSingleCommandEchoesMISO(t *testing.T) {
	bus, backend := newBus()
	if err := bus.SetType(spibus.Single); err != nil {
		t.Fatal(err)
	}
	backend.Inputs[3] = gpio.High // MISO pinned high: loopback of all-ones
	bus.Begin()
	bus.Command(0x9f)
	got := bus.CommandRx()
	bus.End()
	if got != 0xff {
		t.Errorf("CommandRx() = %#x, want 0xff", got)
	}
}

func TestSetTypeQuadDefaultTogglesSR2Bit1(t *testing.T) {
	bus, backend := newBus()
	backend.Inputs[3] = gpio.Low // SR2 reads back as 0x00
	if err := bus.SetType(spibus.Quad); err != nil {
		t.Fatal(err)
	}
	if bus.Type() != spibus.Quad {
		t.Errorf("Type() = %v, want Quad", bus.Type())
	}
	if sent := sentBytes(backend.Calls); !bytes.HasSuffix(sent, []byte{0x31, 0x02}) {
		t.Errorf("bytes sent = % x, want them to end with the SR2 write 31 02", sent)
	}
}

func TestSetTypeQuadQEInSR1TogglesBit6(t *testing.T) {
	bus, backend := newBus()
	bus.SetQuirks(spibus.QEInSR1 | spibus.SR2FromSR3)
	backend.Inputs[3] = gpio.Low
	if err := bus.SetType(spibus.Quad); err != nil {
		t.Fatal(err)
	}
	if bus.Type() != spibus.Quad {
		t.Errorf("Type() = %v, want Quad", bus.Type())
	}
	if sent := sentBytes(backend.Calls); !bytes.HasSuffix(sent, []byte{0x01, 0x40}) {
		t.Errorf("bytes sent = % x, want them to end with the SR1 write 01 40", sent)
	}
}

func TestSwapTxRxExchangesPins(t *testing.T) {
	bus, _ := newBus()
	before := bus.Pins
	bus.SwapTxRx()
	if bus.Pins.MOSI != before.MISO || bus.Pins.MISO != before.MOSI {
		t.Errorf("SwapTxRx did not exchange MOSI/MISO: got %+v", bus.Pins)
	}
	if bus.Type() != spibus.Single {
		t.Errorf("SwapTxRx should reset Type to Single, got %v", bus.Type())
	}
}

// sentBytes decodes the single-bit traffic shifted out on MOSI (pin 2)
// from the recorded calls: each rising CLK edge (pin 0) samples the last
// level written to MOSI, eight edges to a byte.
func sentBytes(calls []string) []byte {
	var out []byte
	var cur, mosi byte
	bits := 0
	for _, c := range calls {
		switch c {
		case "Write(2, high)":
			mosi = 1
		case "Write(2, low)":
			mosi = 0
		case "Write(0, high)":
			cur = cur<<1 | mosi
			bits++
			if bits == 8 {
				out = append(out, cur)
				cur, bits = 0, 0
			}
		}
	}
	return out
}

func countBegins(calls []string) int {
	n := 0
	for _, c := range calls {
		if c == "Write(1, low)" {
			n++
		}
	}
	return n
}

func TestWriteStatusRegisterSkipSRWelOmitsVolatileEnable(t *testing.T) {
	bus, backend := newBus()
	if err := bus.WriteStatusRegister(2, 0x02); err != nil {
		t.Fatal(err)
	}
	withWel := countBegins(backend.Calls)

	bus2, backend2 := newBus()
	bus2.SetQuirks(spibus.SkipSRWel)
	if err := bus2.WriteStatusRegister(2, 0x02); err != nil {
		t.Fatal(err)
	}
	withoutWel := countBegins(backend2.Calls)

	if withoutWel != withWel-1 {
		t.Errorf("SkipSRWel should drop exactly one transaction (the 0x50), got %d vs %d", withoutWel, withWel)
	}
}

func TestTxRxUnconfiguredIsError(t *testing.T) {
	bus, _ := newBus()
	if err := bus.Tx(0x00); err != spibus.ErrUnsupportedMode {
		t.Errorf("Tx() on unconfigured bus = %v, want ErrUnsupportedMode", err)
	}
	if _, err := bus.Rx(); err != spibus.ErrUnsupportedMode {
		t.Errorf("Rx() on unconfigured bus = %v, want ErrUnsupportedMode", err)
	}
}
