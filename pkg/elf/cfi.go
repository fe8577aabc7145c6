package elf

import (
	"encoding/binary"
)

const (
	cieID         = 0xffffffff
	dwarf64Marker = 0xffffffff
)

// downgradeCIEs rewrites version 4 CIEs of a .debug_frame section into the
// version 3 layout in place. Version 4 adds address_size and
// segment_selector_size after the augmentation; for 32-bit targets without
// segments they carry no information. Dropping them and padding the initial
// instructions with DW_CFA_nop keeps every entry length and offset intact.
func downgradeCIEs(data []byte, order binary.ByteOrder) []byte {
	for off := 0; off+8 <= len(data); {
		length := order.Uint32(data[off:])
		if length == dwarf64Marker || length == 0 {
			break
		}
		end := off + 4 + int(length)
		if end > len(data) {
			break
		}
		// version, empty augmentation, address_size 4, segment size 0
		if order.Uint32(data[off+4:]) == cieID && end-off >= 12 &&
			data[off+8] == 4 && data[off+9] == 0 && data[off+10] == 4 && data[off+11] == 0 {
			data[off+8] = 3
			copy(data[off+10:end], data[off+12:end])
			data[end-2] = 0
			data[end-1] = 0
		}
		off = end
	}
	return data
}
