package backtrace

import (
	"fmt"

	"github.com/samber/lo"
)

// RawFrame is one step of the call stack walk.
type RawFrame struct {
	PC uint64
	SP uint64
	LR uint64
	// FP is r7, the Thumb frame pointer.
	FP uint64
	// IsExceptionFrame is set when the frame was entered by a hardware
	// exception rather than a call.
	IsExceptionFrame bool
	// Fault is set on exception frames whose handler is a fault handler.
	Fault bool
}

// FrameStore is the result of one unwind, innermost frame first.
type FrameStore struct {
	Frames []RawFrame
	// Corrupted is set when unwinding stopped before reaching the entry
	// point because of an invalid address, a stale frame pointer or the
	// iteration cap.
	Corrupted bool
	// ProcessingError is the failure that truncated unwinding. Frames
	// gathered before it are valid.
	ProcessingError error
}

// HasException reports whether any frame was entered by an exception.
func (s *FrameStore) HasException() bool {
	return lo.SomeBy(s.Frames, func(f RawFrame) bool {
		return f.IsExceptionFrame
	})
}

// LastSP returns the stack pointer of the outermost unwound frame.
func (s *FrameStore) LastSP() (uint64, bool) {
	if len(s.Frames) == 0 {
		return 0, false
	}
	return s.Frames[len(s.Frames)-1].SP, true
}

// SymbolicatedFrame is a source level frame. One raw frame expands to one
// or more symbolicated frames when calls were inlined.
type SymbolicatedFrame struct {
	Index    int
	Function string
	File     string
	Line     int
	// Column is 0 when unknown.
	Column int
	// PC is the raw frame's program counter.
	PC          uint64
	IsInline    bool
	IsException bool
	// Unknown is set when no symbol covers PC.
	Unknown bool
	// RawIndex is the index of the raw frame this frame was expanded from.
	RawIndex int
}

// Location formats the source position, or "" when unknown.
func (f *SymbolicatedFrame) Location() string {
	if f.File == "" {
		return ""
	}
	if f.Line <= 0 {
		return f.File
	}
	if f.Column <= 0 {
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return fmt.Sprintf("%s:%d:%d", f.File, f.Line, f.Column)
}

// String converts to string
func (f *SymbolicatedFrame) String() string {
	if f == nil {
		return "nil"
	}
	name := f.Function
	if f.IsInline {
		name = "[inline] " + name
	}
	if loc := f.Location(); loc != "" {
		return fmt.Sprintf("frame %02d: %s - %s", f.Index, name, loc)
	}
	return fmt.Sprintf("frame %02d: %s - 0x%08x", f.Index, name, f.PC)
}
