package backtrace

import (
	"github.com/go-delve/delve/pkg/dwarf/frame"

	"github.com/didi/halttrace/pkg/symtab"
	"github.com/didi/halttrace/pkg/target"
)

const (
	testEntry   = 0x400
	testCodeLo  = 0x100
	testCodeHi  = 0x10000
	testRAMLo   = 0x20000000
	testRAMHi   = 0x20010000
	testMainPC  = 0x1000
	testFooPC   = 0x2000
	testFaultPC = 0x3000
)

var testRAM = &target.RAMRegion{Start: testRAMLo, End: testRAMHi}

type cfiRange struct {
	lo, hi uint64
	ctx    *frame.FrameContext
}

// fakeImage is an in-memory program image.
type fakeImage struct {
	entry   uint64
	cfi     []cfiRange
	faults  [][2]uint64
	syms    *symtab.Table
	lines   *symtab.LineTable
	inlines map[uint64][]symtab.InlineCall
	cfiErr  error
}

func newFakeImage() *fakeImage {
	return &fakeImage{
		entry: testEntry,
		syms: symtab.New([]*symtab.Symbol{
			{Type: symtab.Function, Addr: testEntry, Size: 0x100, Name: "Reset"},
			{Type: symtab.Function, Addr: testMainPC, Size: 0x100, Name: "main"},
			{Type: symtab.Function, Addr: testFooPC, Size: 0x100, Name: "foo"},
			{Type: symtab.Function, Addr: testFaultPC, Size: 0x100, Name: "HardFault"},
		}),
		lines:   symtab.NewLineTable(nil),
		inlines: map[uint64][]symtab.InlineCall{},
		faults:  [][2]uint64{{testFaultPC, testFaultPC + 0x100}},
	}
}

func (img *fakeImage) addCFI(lo, hi uint64, ctx *frame.FrameContext) {
	img.cfi = append(img.cfi, cfiRange{lo: lo, hi: hi, ctx: ctx})
}

func (img *fakeImage) EntryPoint() uint64 { return img.entry }

func (img *fakeImage) IsCode(addr uint64) bool {
	return addr >= testCodeLo && addr < testCodeHi
}

func (img *fakeImage) UnwindContext(pc uint64) (*frame.FrameContext, error) {
	if img.cfiErr != nil {
		return nil, img.cfiErr
	}
	for _, r := range img.cfi {
		if pc >= r.lo && pc < r.hi {
			return r.ctx, nil
		}
	}
	return nil, nil
}

func (img *fakeImage) IsFaultHandler(pc uint64) bool {
	for _, r := range img.faults {
		if pc >= r[0] && pc < r[1] {
			return true
		}
	}
	return false
}

func (img *fakeImage) Symbols() *symtab.Table { return img.syms }
func (img *fakeImage) Lines() *symtab.LineTable { return img.lines }
func (img *fakeImage) InlineChain(pc uint64) []symtab.InlineCall {
	return img.inlines[pc]
}

// cfiRow builds a row with CFA = sp + cfaOffset and the given registers
// saved at CFA-relative offsets.
func cfiRow(cfaOffset int64, saved map[uint64]int64) *frame.FrameContext {
	ctx := &frame.FrameContext{
		CFA:        frame.DWRule{Rule: frame.RuleCFA, Reg: regSP, Offset: cfaOffset},
		Regs:       map[uint64]frame.DWRule{},
		RetAddrReg: regLR,
	}
	for reg, off := range saved {
		ctx.Regs[reg] = frame.DWRule{Rule: frame.RuleOffset, Offset: off}
	}
	return ctx
}

// newCore returns a snapshot with every core register captured.
func newCore(pc, sp, lr, fp uint32) *target.Snapshot {
	s := target.NewSnapshot()
	for reg := uint16(0); reg < target.NumCoreRegs; reg++ {
		s.SetReg(reg, 0)
	}
	s.SetReg(target.PC, pc)
	s.SetReg(target.SP, sp)
	s.SetReg(target.LR, lr)
	s.SetReg(target.R7, fp)
	return s
}

// callChain builds foo <- main <- reset: foo halted at 0x2010, called from
// main at 0x1020.
func callChain() (*target.Snapshot, *fakeImage) {
	img := newFakeImage()
	img.addCFI(testFooPC, testFooPC+0x100, cfiRow(8, map[uint64]int64{regR7: -8, regLR: -4}))
	img.addCFI(testMainPC, testMainPC+0x100, cfiRow(8, map[uint64]int64{regLR: -4}))

	core := newCore(testFooPC+0x10, 0x2000fff0, testMainPC+0x21, 0x2000fff8)
	core.AddWords(0x2000fff0, 0x2000fff8, testMainPC+0x21)
	core.AddWords(0x2000fff8, 0, resetLR)
	return core, img
}

// faultChain builds HardFault <- foo <- main <- reset, where foo was
// interrupted at 0x2010.
func faultChain() (*target.Snapshot, *fakeImage) {
	img := newFakeImage()
	img.addCFI(testFaultPC, testFaultPC+0x100, cfiRow(0, nil))
	img.addCFI(testFooPC, testFooPC+0x100, cfiRow(8, map[uint64]int64{regLR: -4}))
	img.addCFI(testMainPC, testMainPC+0x100, cfiRow(8, map[uint64]int64{regLR: -4}))

	core := newCore(testFaultPC+0x10, 0x2000ffc0, 0xFFFFFFF9, 0)
	// r0-r3, r12, lr, pc, xpsr
	core.AddWords(0x2000ffc0, 1, 2, 3, 4, 12, testMainPC+0x21, testFooPC+0x11, 0x01000000)
	core.AddWords(0x2000ffe0, 0, testMainPC+0x21)
	core.AddWords(0x2000ffe8, 0, resetLR)
	return core, img
}
