// Package elf loads the program-image model of an ARM Cortex-M firmware
// image: symbols, line numbers, inline chains, call frame information and
// the exception vector table.
package elf

import (
	"debug/elf"
	"encoding/binary"

	"github.com/go-delve/delve/pkg/dwarf/frame"
	"github.com/pkg/errors"

	"github.com/didi/halttrace/pkg/symtab"
)

// Image is a loaded firmware image.
type Image struct {
	path   string
	entry  uint64
	order  binary.ByteOrder
	code   [][2]uint64
	syms   *symtab.Table
	lines  *symtab.LineTable
	fdes   frame.FrameDescriptionEntries
	faults map[uint64]bool
	debug  *debugInfo
	size   uint64
}

// Open loads the image at path.
func Open(path string) (*Image, error) {
	f, e, err := openExe(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	defer e.Close()

	img := &Image{
		path:  path,
		entry: e.Entry &^ 1,
		order: e.ByteOrder,
		code:  codeRanges(e),
	}
	if st, err := f.Stat(); err == nil {
		img.size = uint64(st.Size())
	}

	img.syms, err = loadSymbols(e)
	if err != nil {
		return nil, err
	}

	if err := img.loadVectorTable(e); err != nil {
		return nil, err
	}
	if err := img.loadDebugFrame(e); err != nil {
		return nil, err
	}

	// Stripped images still unwind through the frame pointer chain and
	// symbolicate from the symbol table.
	d, err := e.DWARF()
	if err == nil {
		img.debug = newDebugInfo(d)
		img.lines, err = img.debug.lineTable(img.IsCode)
		if err != nil {
			return nil, err
		}
	} else {
		img.lines = symtab.NewLineTable(nil)
	}
	return img, nil
}

func loadSymbols(e *elf.File) (*symtab.Table, error) {
	symbols, err := e.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, errors.Wrap(err, "read symbols")
	}
	syms := make([]*symtab.Symbol, 0, len(symbols))
	for _, s := range symbols {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
			continue
		}
		syms = append(syms, &symtab.Symbol{
			Type: symtab.Function,
			// bit 0 of a Thumb function address is the Thumb bit
			Addr: s.Value &^ 1,
			Size: s.Size,
			Name: demangleName(s.Name),
		})
	}
	return symtab.New(syms), nil
}

func (img *Image) loadVectorTable(e *elf.File) error {
	data, err := sectionData(e, ".vector_table")
	if err != nil {
		return err
	}
	if data != nil {
		img.faults = parseFaultVectors(data, e.ByteOrder)
	}
	return nil
}

func (img *Image) loadDebugFrame(e *elf.File) error {
	data, err := sectionData(e, ".debug_frame")
	if err != nil || data == nil {
		return err
	}
	img.fdes, err = frame.Parse(downgradeCIEs(data, e.ByteOrder), e.ByteOrder, 0, 4, 0)
	if err != nil {
		return errors.Wrap(err, "parse .debug_frame")
	}
	return nil
}

// Path returns the file the image was loaded from.
func (img *Image) Path() string {
	return img.path
}

// FileSize returns the size of the image file in bytes.
func (img *Image) FileSize() uint64 {
	return img.size
}

// EntryPoint returns the reset entry address.
func (img *Image) EntryPoint() uint64 {
	return img.entry
}

// IsCode reports whether addr lies in an executable segment.
func (img *Image) IsCode(addr uint64) bool {
	for _, r := range img.code {
		if r[0] <= addr && addr < r[1] {
			return true
		}
	}
	return false
}

// Symbols returns the function symbol table.
func (img *Image) Symbols() *symtab.Table {
	return img.syms
}

// Lines returns the line-number table.
func (img *Image) Lines() *symtab.LineTable {
	return img.lines
}

// HasVectorTable reports whether the image carries a .vector_table section.
func (img *Image) HasVectorTable() bool {
	return img.faults != nil
}

// IsFaultHandler reports whether pc lies in a fault exception handler.
// Without a vector table every handler is treated as a fault handler.
func (img *Image) IsFaultHandler(pc uint64) bool {
	if img.faults == nil {
		return true
	}
	sym := img.syms.Lookup(pc)
	if sym == nil {
		return img.faults[pc&^1]
	}
	return img.faults[sym.Addr] || faultHandlerNames[sym.Name]
}

// UnwindContext returns the call frame information row for pc. Both return
// values are nil when the image has no CFI covering pc.
func (img *Image) UnwindContext(pc uint64) (ctx *frame.FrameContext, err error) {
	if len(img.fdes) == 0 {
		return nil, nil
	}
	fde, err := img.fdes.FDEForPC(pc)
	if err != nil {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			ctx = nil
			err = errors.Errorf("malformed call frame information at 0x%08x: %v", pc, r)
		}
	}()
	return fde.EstablishFrame(pc), nil
}

// InlineChain returns the inline calls active at pc, innermost first.
func (img *Image) InlineChain(pc uint64) []symtab.InlineCall {
	if img.debug == nil {
		return nil
	}
	return img.debug.inlineChain(pc)
}
