// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bitstream patches an iCE40 FPGA configuration bitstream's
// embedded BRAM initial-contents block so it matches a companion ROM
// image, without re-synthesizing the bitstream. It streams byte by
// byte from a source to a sink, so it can run either against files on
// disk or directly against a SPI flash chip's read/write channel.
package bitstream

import (
	"io"

	"github.com/sigurn/crc16"
)

var crcTable = crc16.MakeTable(crc16.CCITT_FALSE)

// Stream is the minimal capability Patch needs from its source and
// sink: read or write one byte, and report the running CRC-16-CCITT
// over every byte that has passed through it so far. The two concrete
// implementations below (file-backed and bus-backed) are the "file-
// like or bus-like output" the original tool expressed as a pair of
// function pointers plus an opaque cookie.
type Stream interface {
	ReadByte() (byte, error)
	WriteByte(b byte) error
	CRC() uint16
	ResetCRC()
}

type crcTracker struct {
	crc uint16
}

// CRC returns the running CRC-16-CCITT over every byte read or
// written through this stream since construction or the last
// ResetCRC.
func (c *crcTracker) CRC() uint16 { return c.crc }

// ResetCRC reinitializes the running CRC to 0xFFFF, matching the
// bitstream's own CRC-reset command.
func (c *crcTracker) ResetCRC() { c.crc = 0xffff }

func (c *crcTracker) touch(b byte) {
	c.crc = crc16.Update(c.crc, []byte{b}, crcTable)
}

// FileStream streams bitstream bytes through an io.Reader/io.Writer
// pair, such as a bitstream image and its patched copy on disk.
type FileStream struct {
	crcTracker
	R io.Reader
	W io.Writer
}

// NewFileStream returns a FileStream with its CRC initialized.
func NewFileStream(r io.Reader, w io.Writer) *FileStream {
	fs := &FileStream{R: r, W: w}
	fs.ResetCRC()
	return fs
}

// ReadByte implements Stream.
func (f *FileStream) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(f.R, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	f.touch(buf[0])
	return buf[0], nil
}

// WriteByte implements Stream.
func (f *FileStream) WriteByte(b byte) error {
	if _, err := f.W.Write([]byte{b}); err != nil {
		return err
	}
	f.touch(b)
	return nil
}

// busConn is the slice of spibus.Bus that BusStream needs: shift one
// byte out, or shift one byte in, at the bus's current width.
type busConn interface {
	Tx(word byte) error
	Rx() (byte, error)
}

// BusStream streams bitstream bytes directly over a bit-banged SPI
// bus, so a bitstream can be patched on the fly as it moves between
// the host and the attached flash chip instead of staging it through
// a file.
type BusStream struct {
	crcTracker
	Bus busConn
}

// NewBusStream returns a BusStream with its CRC initialized.
func NewBusStream(bus busConn) *BusStream {
	bs := &BusStream{Bus: bus}
	bs.ResetCRC()
	return bs
}

// ReadByte implements Stream.
func (b *BusStream) ReadByte() (byte, error) {
	v, err := b.Bus.Rx()
	if err != nil {
		return 0, err
	}
	b.touch(v)
	return v, nil
}

// WriteByte implements Stream.
func (b *BusStream) WriteByte(v byte) error {
	if err := b.Bus.Tx(v); err != nil {
		return err
	}
	b.touch(v)
	return nil
}

var (
	_ Stream = &FileStream{}
	_ Stream = &BusStream{}
)
