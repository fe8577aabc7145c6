// Package target describes the capabilities the unwinder needs from a halted
// core and provides a snapshot backed implementation.
package target

import (
	"github.com/pkg/errors"
)

// Core register numbers, identical to the DWARF numbering for ARM.
const (
	R0  uint16 = 0
	R7  uint16 = 7
	R12 uint16 = 12
	SP  uint16 = 13
	LR  uint16 = 14
	PC  uint16 = 15
)

// NumCoreRegs is the number of general purpose registers, r0..r15.
const NumCoreRegs = 16

// ErrUnmapped is returned for accesses outside the captured memory.
var ErrUnmapped = errors.New("address not mapped")

// Core is a halted core that registers and memory can be read from.
type Core interface {
	// ReadCoreReg reads one core register.
	ReadCoreReg(reg uint16) (uint32, error)
	// ReadMemory fills buf with target memory starting at addr.
	ReadMemory(addr uint32, buf []byte) error
}

// RAMRegion is the address range the stack may occupy. Both ends are
// inclusive: the initial stack pointer usually equals End.
type RAMRegion struct {
	Start uint64
	End   uint64
}

// Contains reports whether addr lies in [Start, End].
func (r *RAMRegion) Contains(addr uint64) bool {
	return r.Start <= addr && addr <= r.End
}

// Size returns the region size in bytes.
func (r *RAMRegion) Size() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}
