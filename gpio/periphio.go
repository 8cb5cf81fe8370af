// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpio

import (
	"fmt"
	"sync"

	"github.com/gofrs/flock"
	periphgpio "periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// DefaultLockPath is where PeriphBackend's advisory lock file lives.
// The bus is a single physical resource; two processes driving it at
// once corrupts whatever transaction either of them is mid-way
// through, so every process that wants the pins waits here first.
const DefaultLockPath = "/var/run/fomu-flash.lock"

// PeriphBackend drives GPIO pins through periph.io/x/periph's host
// drivers. periph's own host.Init() probes the running kernel (CPU
// revision on Linux, board tables elsewhere) and registers whichever
// platform driver actually memory-maps the peripheral registers, so
// this backend never needs to know what SoC it's running on: it asks
// host.Init() to pick one, then resolves pins by number through
// gpioreg.
type PeriphBackend struct {
	// LockPath overrides DefaultLockPath. Leave empty to use the
	// default.
	LockPath string

	mu    sync.Mutex
	lock  *flock.Flock
	pins  map[int]periphgpio.PinIO
	ready bool
}

// Init implements Backend.
func (p *PeriphBackend) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}

	path := p.LockPath
	if path == "" {
		path = DefaultLockPath
	}
	p.lock = flock.New(path)
	ok, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("gpio: acquire lock %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("gpio: %s already held by another process", path)
	}

	if _, err := host.Init(); err != nil {
		p.lock.Unlock()
		return fmt.Errorf("gpio: host.Init: %w", err)
	}

	p.pins = map[int]periphgpio.PinIO{}
	p.ready = true
	return nil
}

func (p *PeriphBackend) pin(n int) (periphgpio.PinIO, error) {
	if pin, ok := p.pins[n]; ok {
		return pin, nil
	}
	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if pin == nil {
		return nil, fmt.Errorf("gpio: no such pin GPIO%d", n)
	}
	p.pins[n] = pin
	return pin, nil
}

// SetMode implements Backend.
func (p *PeriphBackend) SetMode(n int, mode Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, err := p.pin(n)
	if err != nil {
		return err
	}
	switch mode {
	case Input:
		return pin.In(periphgpio.PullNoChange, periphgpio.NoEdge)
	case Output:
		return pin.Out(periphgpio.Low)
	default:
		return fmt.Errorf("gpio: unknown mode %v", mode)
	}
}

// Read implements Backend.
func (p *PeriphBackend) Read(n int) Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, err := p.pin(n)
	if err != nil {
		return Low
	}
	return Level(pin.Read())
}

// Write implements Backend.
func (p *PeriphBackend) Write(n int, level Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, err := p.pin(n)
	if err != nil {
		return
	}
	pin.Out(periphgpio.Level(level))
}

var _ Backend = &PeriphBackend{}
