// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// fomu-flash drives a SPI NOR flash chip and an attached iCE40 FPGA
// from a host's raw GPIO pins: identify the chip, read/write/verify
// its contents, peek at a page, manage its security registers, and
// load (optionally ROM-patched) FPGA bitstreams.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"

	"github.com/im-tomu/fomu-flash-go/bitstream"
	"github.com/im-tomu/fomu-flash-go/flash"
	"github.com/im-tomu/fomu-flash-go/fpga"
	"github.com/im-tomu/fomu-flash-go/gpio"
	"github.com/im-tomu/fomu-flash-go/spibus"
)

// Default BCM pin numbers, unchanged from the reference tool's
// hard-wired Raspberry Pi header assignment.
const (
	pinMOSI  = 10
	pinMISO  = 9
	pinCLK   = 11
	pinCS    = 8
	pinHold  = 25
	pinWP    = 24
	pinReset = 27
	pinDone  = 17
)

const unlockCmd = 0x98

// pinspecTable maps a -g pinspec's single-character name to the pin
// it remaps, matching original_source/fomu-flash.c's
// pinspec_to_pinname table.
var pinspecTable = map[byte]func(spiPins *spibus.Pins, fpgaPins *fpga.Pins, n int){
	'0': func(s *spibus.Pins, _ *fpga.Pins, n int) { s.D0 = n },
	'1': func(s *spibus.Pins, _ *fpga.Pins, n int) { s.D1 = n },
	'2': func(s *spibus.Pins, _ *fpga.Pins, n int) { s.D2 = n },
	'3': func(s *spibus.Pins, _ *fpga.Pins, n int) { s.D3 = n },
	'o': func(s *spibus.Pins, _ *fpga.Pins, n int) { s.MOSI = n },
	'i': func(s *spibus.Pins, _ *fpga.Pins, n int) { s.MISO = n },
	'w': func(s *spibus.Pins, _ *fpga.Pins, n int) { s.WP = n },
	'h': func(s *spibus.Pins, _ *fpga.Pins, n int) { s.Hold = n },
	'c': func(s *spibus.Pins, _ *fpga.Pins, n int) { s.Clk = n },
	's': func(s *spibus.Pins, f *fpga.Pins, n int) { s.CS = n; f.CS = n },
	'r': func(_ *spibus.Pins, f *fpga.Pins, n int) { f.Reset = n },
	'd': func(_ *spibus.Pins, f *fpga.Pins, n int) { f.Done = n },
}

func printPinspec(w io.Writer) {
	fmt.Fprintln(w, "Pinspec:")
	fmt.Fprintln(w, " Name   Description    Default (BCM pin number)")
	fmt.Fprintf(w, "   0    SPI D0         %d\n", pinMOSI)
	fmt.Fprintf(w, "   1    SPI D1         %d\n", pinMISO)
	fmt.Fprintf(w, "   2    SPI D2         %d\n", pinWP)
	fmt.Fprintf(w, "   3    SPI D3         %d\n", pinHold)
	fmt.Fprintf(w, "   o    SPI MOSI       %d\n", pinMOSI)
	fmt.Fprintf(w, "   i    SPI MISO       %d\n", pinMISO)
	fmt.Fprintf(w, "   w    SPI WP         %d\n", pinWP)
	fmt.Fprintf(w, "   h    SPI HOLD       %d\n", pinHold)
	fmt.Fprintf(w, "   c    SPI CLK        %d\n", pinCLK)
	fmt.Fprintf(w, "   s    SPI CS         %d\n", pinCS)
	fmt.Fprintf(w, "   r    FPGA Reset     %d\n", pinReset)
	fmt.Fprintf(w, "   d    FPGA Done      %d\n", pinDone)
	fmt.Fprintln(w, "For example: -g i:23    or -g d:27")
}

// pinspecFlag collects repeated -g NAME:NUMBER flags.
type pinspecFlag struct {
	spi  *spibus.Pins
	fpga *fpga.Pins
}

func (p *pinspecFlag) String() string { return "" }

func (p *pinspecFlag) Set(s string) error {
	if len(s) < 3 || s[1] != ':' {
		return errors.New("pinspec must be of the form NAME:NUMBER, e.g. i:23")
	}
	set, ok := pinspecTable[s[0]]
	if !ok {
		return fmt.Errorf("unrecognized pinspec name %q", s[0:1])
	}
	n, err := strconv.Atoi(s[2:])
	if err != nil {
		return fmt.Errorf("bad pin number in pinspec %q: %w", s, err)
	}
	set(p.spi, p.fpga, n)
	return nil
}

// hexDump writes a 16-bytes-per-line hex+ASCII dump starting at start,
// color-highlighting non-zero bytes when w is a real terminal.
func hexDump(w io.Writer, block []byte, start uint32) {
	color := false
	cw := w
	if f, ok := w.(*os.File); ok && f == os.Stdout {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		cw = colorable.NewColorableStdout()
	}

	for offset := 0; offset < len(block); offset += 16 {
		fmt.Fprintf(cw, "%08x", start+uint32(offset))
		for b := 0; b < 16; b++ {
			if b == 8 {
				fmt.Fprint(cw, " ")
			}
			fmt.Fprint(cw, " ")
			if offset+b < len(block) {
				v := block[offset+b]
				if color && v != 0 {
					fmt.Fprintf(cw, "\x1b[33m%02x\x1b[0m", v)
				} else {
					fmt.Fprintf(cw, "%02x", v)
				}
			} else {
				fmt.Fprint(cw, "  ")
			}
		}
		fmt.Fprint(cw, "  |")
		for b := 0; b < 16 && offset+b < len(block); b++ {
			c := block[offset+b]
			if c >= 32 && c < 127 {
				fmt.Fprintf(cw, "%c", c)
			} else {
				fmt.Fprint(cw, ".")
			}
		}
		fmt.Fprintln(cw, "|")
	}
}

func splitEnvArgs() ([]string, error) {
	env := os.Getenv("FOMU_FLASH_ARGS")
	if env == "" {
		return nil, nil
	}
	return shlex.Split(env)
}

func mainImpl() error {
	envArgs, err := splitEnvArgs()
	if err != nil {
		return fmt.Errorf("FOMU_FLASH_ARGS: %w", err)
	}
	args := append(envArgs, os.Args[1:]...)

	spiPins := spibus.Pins{
		Clk: pinCLK, CS: pinCS, MOSI: pinMOSI, MISO: pinMISO,
		WP: pinWP, Hold: pinHold, D0: pinMOSI, D1: pinMISO, D2: pinWP, D3: pinHold,
	}
	fpgaPins := fpga.Pins{Reset: pinReset, Done: pinDone, CS: pinCS}

	fs := flag.NewFlagSet("fomu-flash", flag.ContinueOnError)
	reset := fs.Bool("r", false, "Reset the FPGA and have it boot from SPI")
	identify := fs.Bool("i", false, "Print out the SPI ID code")
	quiet := fs.Bool("q", false, "Quiet operation")
	peek := fs.String("p", "", "Peek at 256 bytes of SPI flash at the specified offset")
	fpgaBoot := fs.String("f", "", "Load this bitstream directly into the FPGA")
	replacementROM := fs.String("l", "", "Replace the ROM in the bitstream with this file")
	writeFile := fs.String("w", "", "Write this binary into the SPI flash chip")
	addr := fs.String("a", "0", "Change the address to write/read from")
	verifyFile := fs.String("v", "", "Verify the SPI flash contains this data")
	saveFile := fs.String("s", "", "Save the SPI flash contents to this file")
	security := fs.String("k", "", "Read security register [n], or update it with the contents of file [n:f]")
	setQE := fs.Bool("4", false, "Sets the QE enable bit")
	spiType := fs.String("t", "1", "Set the number of bits to use for SPI (1, 2, 4, or q)")
	unlock := fs.Bool("u", false, "Unlock the SPI Global Block Protect with a 0x98 command")
	sizeOverride := fs.String("b", "", "Override the size of the SPI flash, in bytes")
	fs.Var(&pinspecFlag{&spiPins, &fpgaPins}, "g", "Set the pin assignment with the given pinspec (NAME:NUMBER)")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Fomu Raspberry Pi Flash Utilities")
		fmt.Fprintln(fs.Output(), "Usage: fomu-flash (-[hri] | [-p offset] | [-f bitstream] |")
		fmt.Fprintln(fs.Output(), "                   [-w bin] | [-v bin] | [-s out] | [-k n[:f]])")
		fmt.Fprintln(fs.Output(), "                  [-g pinspec] [-t spitype] [-b bytes] [-a addr] [-u]")
		fs.PrintDefaults()
		printPinspec(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("unexpected argument %q, try -help", fs.Arg(0))
	}

	opCount := 0
	for _, set := range []bool{*reset, *identify, *peek != "", *fpgaBoot != "", *writeFile != "", *verifyFile != "", *saveFile != "", *security != "", *setQE} {
		if set {
			opCount++
		}
	}
	if opCount == 0 {
		fs.Usage()
		return errors.New("no program mode specified")
	}
	if opCount > 1 {
		return errors.New("you must only specify one program mode")
	}

	backend := &gpio.PeriphBackend{}
	if err := backend.Init(); err != nil {
		return err
	}

	bus := spibus.New(backend, spiPins)
	dev := fpga.New(backend, fpgaPins)
	chip := flash.New(bus, flash.EraseSize4K)

	if *unlock {
		chip.SetUnlockCmd(unlockCmd)
	}
	if *sizeOverride != "" {
		n, err := strconv.ParseInt(*sizeOverride, 0, 64)
		if err != nil {
			return fmt.Errorf("-b: %w", err)
		}
		chip.SetSizeOverride(n)
	}

	var typ spibus.Type
	switch (*spiType)[0] {
	case '1':
		typ = spibus.Single
	case '2':
		typ = spibus.Dual
	case '4':
		typ = spibus.Quad
	case 'q', 'Q':
		typ = spibus.QPI
	default:
		return fmt.Errorf("unrecognized SPI width %q: valid types are 1, 2, 4, or q", *spiType)
	}

	if err := dev.Init(); err != nil {
		return err
	}
	if err := dev.Reset(); err != nil {
		return err
	}

	addrVal, err := strconv.ParseUint(*addr, 0, 32)
	if err != nil {
		return fmt.Errorf("-a: %w", err)
	}

	switch {
	case *identify:
		return runIdentify(chip)
	case *security != "":
		return runSecurity(chip, *security)
	case *saveFile != "":
		return runRead(chip, typ, *saveFile, uint32(addrVal))
	case *writeFile != "":
		return runWrite(chip, typ, *writeFile, uint32(addrVal), *quiet)
	case *verifyFile != "":
		return runVerify(chip, typ, *verifyFile, uint32(addrVal), *quiet)
	case *peek != "":
		return runPeek(chip, typ, *peek)
	case *fpgaBoot != "":
		return runFPGABoot(bus, dev, *fpgaBoot, *replacementROM)
	case *reset:
		fmt.Println("resetting fpga")
		return dev.ResetMaster()
	case *setQE:
		if _, err := chip.Identify(); err != nil {
			return err
		}
		return chip.SetType(spibus.Quad)
	}
	return nil
}

func identifyAndSetType(chip *flash.Chip, typ spibus.Type) (flash.Identity, error) {
	id, err := chip.Identify()
	if err != nil {
		return id, err
	}
	if err := chip.SetType(typ); err != nil {
		return id, err
	}
	return id, nil
}

func runIdentify(chip *flash.Chip) error {
	id, err := chip.Identify()
	if err != nil {
		return err
	}
	fmt.Printf("Manufacturer ID: %s (%02x)\n", id.Manufacturer, id.ManufacturerID)
	if id.ManufacturerID != id.JEDECManufacturerID {
		fmt.Printf("!! JEDEC Manufacturer ID: %02x\n", id.JEDECManufacturerID)
	}
	fmt.Printf("Memory model: %s (%02x)\n", id.Model, id.MemoryType)
	fmt.Printf("Memory size: %s (%02x)\n", id.Capacity, id.MemorySize)
	fmt.Printf("Device ID: %02x\n", id.DeviceID)
	if id.DeviceID != id.ElectronicSignature {
		fmt.Printf("!! Electronic Signature: %02x\n", id.ElectronicSignature)
	}
	fmt.Printf("Serial number: %02x %02x %02x %02x\n", id.Serial[0], id.Serial[1], id.Serial[2], id.Serial[3])
	sr1, err := chip.ReadStatus(1)
	if err != nil {
		return err
	}
	sr2, err := chip.ReadStatus(2)
	if err != nil {
		return err
	}
	sr3, err := chip.ReadStatus(3)
	if err != nil {
		return err
	}
	fmt.Printf("Status 1: %02x\n", sr1)
	fmt.Printf("Status 2: %02x\n", sr2)
	fmt.Printf("Status 3: %02x\n", sr3)
	return nil
}

func runSecurity(chip *flash.Chip, spec string) error {
	parts := strings.SplitN(spec, ":", 2)
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("-k: bad security register %q: %w", parts[0], err)
	}
	if _, err := chip.Identify(); err != nil {
		return err
	}
	if len(parts) == 2 {
		raw, err := ioutil.ReadFile(parts[1])
		if err != nil {
			return err
		}
		buf := make([]byte, 256)
		copy(buf, raw)
		fmt.Printf("Updating security register %d.\n", n)
		return chip.WriteSecurity(n, buf)
	}
	buf := make([]byte, 256)
	fmt.Printf("Security register %d contents:\n", n)
	if err := chip.ReadSecurity(n, buf); err != nil {
		return err
	}
	hexDump(os.Stdout, buf, 0)
	return nil
}

func runRead(chip *flash.Chip, typ spibus.Type, outPath string, addr uint32) error {
	id, err := identifyAndSetType(chip, typ)
	if err != nil {
		return err
	}
	if id.Bytes < 0 {
		return errors.New("unknown spi flash size -- specify with -b")
	}
	buf := make([]byte, id.Bytes)
	if err := chip.Read(addr, buf); err != nil {
		return err
	}
	return ioutil.WriteFile(outPath, buf, 0o666)
}

func runWrite(chip *flash.Chip, typ spibus.Type, inPath string, addr uint32, quiet bool) error {
	data, err := ioutil.ReadFile(inPath)
	if err != nil {
		return err
	}
	if _, err := identifyAndSetType(chip, typ); err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("writing %d bytes at %#x\n", len(data), addr)
	}
	return chip.Write(addr, data)
}

func runVerify(chip *flash.Chip, typ spibus.Type, inPath string, addr uint32, quiet bool) error {
	want, err := ioutil.ReadFile(inPath)
	if err != nil {
		return err
	}
	if _, err := identifyAndSetType(chip, typ); err != nil {
		return err
	}
	ok, mismatches, err := chip.Verify(addr, want)
	if err != nil {
		return err
	}
	if !ok {
		if !quiet {
			fmt.Printf("%d bytes mismatched starting at offset %#x\n", mismatches, addr)
		}
		return fmt.Errorf("verify failed: %d mismatches", mismatches)
	}
	return nil
}

func runPeek(chip *flash.Chip, typ spibus.Type, offsetStr string) error {
	offset, err := strconv.ParseUint(offsetStr, 0, 32)
	if err != nil {
		return fmt.Errorf("-p: %w", err)
	}
	if _, err := identifyAndSetType(chip, typ); err != nil {
		return err
	}
	page := make([]byte, 256)
	if err := chip.Read(uint32(offset), page); err != nil {
		return err
	}
	hexDump(os.Stdout, page, 0)
	return nil
}

// fomuBus adapts spibus.Bus's raw Tx/Rx to bitstream.BusStream's
// busConn for the slave-boot-and-patch path, matching the reference
// tool's irw_open_fake hook.
type fomuBus struct {
	bus *spibus.Bus
}

func (f fomuBus) Tx(b byte) error   { return f.bus.Tx(b) }
func (f fomuBus) Rx() (byte, error) { return f.bus.Rx() }

func runFPGABoot(bus *spibus.Bus, dev *fpga.Device, bitstreamPath, romPath string) error {
	bus.Hold()
	bus.SwapTxRx()
	if err := dev.ResetSlave(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "FPGA Done? %v\n", dev.Done())
	bus.Begin()

	bsFile, err := os.Open(bitstreamPath)
	if err != nil {
		return err
	}
	defer bsFile.Close()

	if romPath != "" {
		romFile, err := os.Open(romPath)
		if err != nil {
			return err
		}
		defer romFile.Close()

		src := bitstream.NewFileStream(bsFile, nil)
		rom := bitstream.NewFileStream(romFile, nil)
		out := bitstream.NewBusStream(fomuBus{bus})
		if _, err := bitstream.Patch(src, rom, out, 8192); err != nil {
			return err
		}
	} else {
		buf := make([]byte, 32*1024)
		for {
			n, rerr := bsFile.Read(buf)
			for i := 0; i < n; i++ {
				if err := bus.Tx(buf[i]); err != nil {
					return err
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return rerr
			}
		}
	}

	for i := 0; i < 500; i++ {
		if err := bus.Tx(0xff); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "FPGA Done? %v\n", dev.Done())
	bus.End()

	bus.SwapTxRx()
	bus.Unhold()
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "fomu-flash: %s.\n", err)
		os.Exit(1)
	}
}
