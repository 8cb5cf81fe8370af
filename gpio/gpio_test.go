// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpio_test

import (
	"testing"

	"github.com/im-tomu/fomu-flash-go/gpio"
	"github.com/im-tomu/fomu-flash-go/gpio/faketest"
)

func TestBackendWriteReadBack(t *testing.T) {
	b := faketest.New()
	if err := b.SetMode(5, gpio.Output); err != nil {
		t.Fatal(err)
	}
	b.Write(5, gpio.High)
	if got := b.Read(5); got != gpio.High {
		t.Errorf("Read(5) = %s, want high", got)
	}
}

func TestBackendInputReadsInjectedLevel(t *testing.T) {
	b := faketest.New()
	if err := b.SetMode(2, gpio.Input); err != nil {
		t.Fatal(err)
	}
	b.Inputs[2] = gpio.High
	if got := b.Read(2); got != gpio.High {
		t.Errorf("Read(2) = %s, want high", got)
	}
}

func TestModeString(t *testing.T) {
	if gpio.Input.String() != "input" || gpio.Output.String() != "output" {
		t.Errorf("unexpected Mode.String() values")
	}
}

func TestModeStringAltFunctions(t *testing.T) {
	alts := []gpio.Mode{gpio.Alt0, gpio.Alt1, gpio.Alt2, gpio.Alt3, gpio.Alt4, gpio.Alt5}
	want := []string{"alt0", "alt1", "alt2", "alt3", "alt4", "alt5"}
	for i, m := range alts {
		if m.String() != want[i] {
			t.Errorf("Mode(%d).String() = %q, want %q", int(m), m.String(), want[i])
		}
	}
}
