package elf

import (
	"encoding/binary"
)

// Exception numbers of the fault vectors in an ARMv7-M / ARMv8-M vector table.
const (
	vecHardFault   = 3
	vecSecureFault = 7
)

// faultHandlerNames are handler symbols that are entered on a fault even
// when they are reached through a trampoline instead of the vector itself.
var faultHandlerNames = map[string]bool{
	"HardFault":        true,
	"HardFault_":       true,
	"MemoryManagement": true,
	"MemManage":        true,
	"BusFault":         true,
	"UsageFault":       true,
	"SecureFault":      true,
}

// parseFaultVectors returns the handler addresses of the fault vectors,
// Thumb bit cleared.
func parseFaultVectors(table []byte, order binary.ByteOrder) map[uint64]bool {
	handlers := map[uint64]bool{}
	for n := vecHardFault; n <= vecSecureFault; n++ {
		off := 4 * n
		if off+4 > len(table) {
			break
		}
		addr := uint64(order.Uint32(table[off:]))
		if addr == 0 {
			continue
		}
		handlers[addr&^1] = true
	}
	return handlers
}
