package backtrace

import (
	"github.com/go-delve/delve/pkg/dwarf/frame"

	"github.com/didi/halttrace/pkg/symtab"
)

// Image is the program-image model the pipeline reads debug metadata from.
type Image interface {
	// EntryPoint returns the reset entry address.
	EntryPoint() uint64
	// IsCode reports whether addr is in an executable range.
	IsCode(addr uint64) bool
	// UnwindContext returns the CFI row for pc, or nil when no CFI covers pc.
	UnwindContext(pc uint64) (*frame.FrameContext, error)
	// IsFaultHandler reports whether pc lies in a fault exception handler.
	IsFaultHandler(pc uint64) bool
	// Symbols returns the function symbol table.
	Symbols() *symtab.Table
	// Lines returns the line-number table.
	Lines() *symtab.LineTable
	// InlineChain returns the inline calls active at pc, innermost first.
	InlineChain(pc uint64) []symtab.InlineCall
}
