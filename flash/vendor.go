// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package flash

import "github.com/im-tomu/fomu-flash-go/spibus"

// vendorEntry describes one (manufacturer, memory type, memory size)
// JEDEC ID triple and the quirks that manufacturer's parts need.
type vendorEntry struct {
	manufacturer string
	model        string
	capacity     string
	bytes        int64
	quirks       spibus.Quirks
}

const (
	mfgWinbond    = 0xef
	mfgMacronix   = 0xc2
	mfgGigaDevice = 0xc8
)

// vendorTable maps manufacturerID -> memoryType -> memorySize -> entry.
// It covers the families large enough to exercise both quirk paths
// (Winbond, Macronix) plus a third vendor that needs neither
// (GigaDevice), so identification tests can assert a clean default.
var vendorTable = map[byte]map[byte]map[byte]vendorEntry{
	mfgWinbond: {
		0x70: {
			0x15: {"Winbond", "W25Q16JV", "16 Mbit", 2 * 1024 * 1024, quirksWinbond},
			0x16: {"Winbond", "W25Q32JV", "32 Mbit", 4 * 1024 * 1024, quirksWinbond},
			0x17: {"Winbond", "W25Q64JV", "64 Mbit", 8 * 1024 * 1024, quirksWinbond},
			0x18: {"Winbond", "W25Q128JV", "128 Mbit", 16 * 1024 * 1024, quirksWinbond},
			0x19: {"Winbond", "W25Q256JV", "256 Mbit", 32 * 1024 * 1024, quirksWinbond},
		},
	},
	mfgMacronix: {
		0x20: {
			0x16: {"Macronix", "MX25L3233F", "32 Mbit", 4 * 1024 * 1024, quirksMacronix},
			0x17: {"Macronix", "MX25L6433F", "64 Mbit", 8 * 1024 * 1024, quirksMacronix},
			0x18: {"Macronix", "MX25L12833F", "128 Mbit", 16 * 1024 * 1024, quirksMacronix},
		},
	},
	mfgGigaDevice: {
		0x40: {
			0x18: {"GigaDevice", "GD25Q127C", "128 Mbit", 16 * 1024 * 1024, 0},
		},
	},
}

const (
	quirksWinbond  = spibus.SkipSRWel | spibus.SecurityNybbleShift
	quirksMacronix = spibus.QEInSR1 | spibus.SR2FromSR3
)

func lookupVendor(manufacturerID, memoryType, memorySize byte) (vendorEntry, bool) {
	byType, ok := vendorTable[manufacturerID]
	if !ok {
		return vendorEntry{}, false
	}
	bySize, ok := byType[memoryType]
	if !ok {
		return vendorEntry{}, false
	}
	entry, ok := bySize[memorySize]
	return entry, ok
}
