// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package fpga_test

import (
	"testing"

	"github.com/im-tomu/fomu-flash-go/fpga"
	"github.com/im-tomu/fomu-flash-go/gpio"
	"github.com/im-tomu/fomu-flash-go/gpio/faketest"
)

func newDevice() (*fpga.Device, *faketest.Backend) {
	backend := faketest.New()
	pins := fpga.Pins{Reset: 0, Done: 1, CS: 2}
	return fpga.New(backend, pins), backend
}

func TestInitDrivesResetLowAndArmsDoneAsInput(t *testing.T) {
	dev, backend := newDevice()
	if err := dev.Init(); err != nil {
		t.Fatal(err)
	}
	if backend.Level(0) != gpio.Low {
		t.Errorf("reset pin = %v after Init, want Low", backend.Level(0))
	}
	if backend.Mode(1) != gpio.Input {
		t.Errorf("done pin mode = %v after Init, want Input", backend.Mode(1))
	}
}

func TestDoneReflectsBackendLevel(t *testing.T) {
	dev, backend := newDevice()
	backend.Inputs[1] = gpio.High
	if !dev.Done() {
		t.Errorf("Done() = false, want true")
	}
	backend.Inputs[1] = gpio.Low
	if dev.Done() {
		t.Errorf("Done() = true, want false")
	}
}

func TestResetSlaveLeavesCSLow(t *testing.T) {
	dev, backend := newDevice()
	if err := dev.ResetSlave(); err != nil {
		t.Fatal(err)
	}
	if backend.Level(2) != gpio.Low {
		t.Errorf("CS = %v after ResetSlave, want Low", backend.Level(2))
	}
	if backend.Level(0) != gpio.High {
		t.Errorf("reset = %v after ResetSlave, want High (released)", backend.Level(0))
	}
}

func TestResetMasterLeavesCSHigh(t *testing.T) {
	dev, backend := newDevice()
	if err := dev.ResetMaster(); err != nil {
		t.Fatal(err)
	}
	if backend.Level(2) != gpio.High {
		t.Errorf("CS = %v after ResetMaster, want High", backend.Level(2))
	}
}

func TestResetOnlyDrivesResetPin(t *testing.T) {
	dev, backend := newDevice()
	backend.Calls = nil
	if err := dev.Reset(); err != nil {
		t.Fatal(err)
	}
	if backend.Level(0) != gpio.Low {
		t.Errorf("reset = %v after Reset, want Low", backend.Level(0))
	}
	for _, c := range backend.Calls {
		if c != "SetMode(0, output)" && c != "Write(0, low)" {
			t.Errorf("Reset made call %q, want only calls on the reset pin", c)
		}
	}
}
