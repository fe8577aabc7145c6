package elf

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-delve/delve/pkg/dwarf/frame"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didi/halttrace/pkg/symtab"
)

func TestParseFaultVectors(t *testing.T) {
	table := make([]byte, 16*4)
	words := []uint32{0x20010000, 0x101, 0x201, 0x301, 0x401, 0x401, 0, 0}
	for i, w := range words {
		binary.LittleEndian.PutUint32(table[4*i:], w)
	}

	handlers := parseFaultVectors(table, binary.LittleEndian)
	assert.Equal(t, map[uint64]bool{0x300: true, 0x400: true}, handlers)

	assert.Empty(t, parseFaultVectors(table[:8], binary.LittleEndian))
}

func TestDemangleName(t *testing.T) {
	assert.Equal(t, "main", demangleName("main"))
	assert.Equal(t, "", demangleName(""))
	assert.Equal(t, "cortex_m::asm::udf", demangleName("_ZN8cortex_m3asm3udf17h0123456789abcdefE"))
	assert.Equal(t, "foo::hbar", trimRustHash("foo::hbar"))
	assert.Equal(t, "foo::h0123456789abcdeg", trimRustHash("foo::h0123456789abcdeg"))
}

func testImage() *Image {
	return &Image{
		entry: 0x100,
		code:  [][2]uint64{{0x0, 0x1000}},
		syms: symtab.New([]*symtab.Symbol{
			{Type: symtab.Function, Addr: 0x100, Size: 0x40, Name: "Reset"},
			{Type: symtab.Function, Addr: 0x300, Size: 0x20, Name: "HardFaultTrampoline"},
			{Type: symtab.Function, Addr: 0x340, Size: 0x20, Name: "HardFault_"},
			{Type: symtab.Function, Addr: 0x400, Size: 0x20, Name: "SysTick"},
		}),
		lines: symtab.NewLineTable(nil),
	}
}

func TestIsFaultHandler(t *testing.T) {
	img := testImage()
	assert.True(t, img.IsFaultHandler(0x404), "no vector table: every handler faults")
	assert.False(t, img.HasVectorTable())

	img.faults = map[uint64]bool{0x300: true}
	assert.True(t, img.HasVectorTable())
	assert.True(t, img.IsFaultHandler(0x310))
	assert.True(t, img.IsFaultHandler(0x344), "reached through the trampoline")
	assert.False(t, img.IsFaultHandler(0x404))
	assert.False(t, img.IsFaultHandler(0x900))
}

func TestIsCode(t *testing.T) {
	img := testImage()
	assert.True(t, img.IsCode(0x0))
	assert.True(t, img.IsCode(0xfff))
	assert.False(t, img.IsCode(0x1000))
	assert.False(t, img.IsCode(0x20000000))
	assert.Equal(t, uint64(0x100), img.EntryPoint())
}

func TestNoDebugInfo(t *testing.T) {
	img := testImage()
	ctx, err := img.UnwindContext(0x104)
	assert.NoError(t, err)
	assert.Nil(t, ctx)
	assert.Nil(t, img.InlineChain(0x104))
	assert.Equal(t, "Reset", img.Symbols().Lookup(0x104).Name)
}

func TestOpenRejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firmware.bin")
	require.NoError(t, os.WriteFile(path, []byte("this is not an elf file"), 0o644))

	_, err := Open(path)
	assert.True(t, errors.Is(err, errNotELF))
}

func TestOpenRejectsHostBinary(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	_, err = Open(exe)
	var machineErr *UnsupportedMachineError
	if !errors.As(err, &machineErr) {
		t.Skipf("host executable is not a foreign ELF image: %v", err)
	}
	assert.Contains(t, machineErr.Error(), "unsupported machine")
}

// testdata/firmware.elf is built from testdata/firmware.ll, see the header
// of that file. Layout: Reset 0x00, work 0x0c, main 0x20 with bump()
// inlined at 0x2a..0x38, HardFault 0x3e.
func openFirmware(t *testing.T) *Image {
	t.Helper()
	img, err := Open(filepath.Join("testdata", "firmware.elf"))
	require.NoError(t, err)
	return img
}

func TestOpenFirmware(t *testing.T) {
	img := openFirmware(t)

	assert.Equal(t, uint64(0), img.EntryPoint())
	assert.True(t, img.IsCode(0x41))
	assert.False(t, img.IsCode(0x42))
	assert.NotZero(t, img.FileSize())

	names := map[string]uint64{}
	for _, sym := range img.Symbols().Symbols() {
		names[sym.Name] = sym.Addr
	}
	assert.Equal(t, map[string]uint64{"Reset": 0x0, "work": 0xc, "main": 0x20, "HardFault": 0x3e}, names)
	assert.Equal(t, "main", img.Symbols().Lookup(0x2c).Name)
}

func TestFirmwareVectorTable(t *testing.T) {
	img := openFirmware(t)

	require.True(t, img.HasVectorTable())
	assert.True(t, img.IsFaultHandler(0x40))
	assert.False(t, img.IsFaultHandler(0x2c))
	assert.False(t, img.IsFaultHandler(0x4))
}

func TestFirmwareLines(t *testing.T) {
	img := openFirmware(t)

	tests := []struct {
		addr   uint64
		file   string
		line   int
		column int
	}{
		{0x06, "/work/fw/src/main.c", 22, 5},
		{0x12, "/work/fw/src/main.c", 7, 3},
		{0x2c, "/work/fw/src/bump.h", 3, 13},
		{0x36, "/work/fw/src/bump.h", 3, 11},
		{0x3a, "/work/fw/src/main.c", 13, 3},
		// two rows at 0x3e, the later one wins
		{0x3e, "/work/fw/src/main.c", 31, 3},
	}
	for _, tt := range tests {
		le, ok := img.Lines().Lookup(tt.addr)
		require.True(t, ok, "%#x", tt.addr)
		assert.Equal(t, tt.file, le.File, "%#x", tt.addr)
		assert.Equal(t, tt.line, le.Line, "%#x", tt.addr)
		assert.Equal(t, tt.column, le.Column, "%#x", tt.addr)
	}

	_, ok := img.Lines().Lookup(0x42)
	assert.False(t, ok, "end of sequence")
}

func TestFirmwareInlineChain(t *testing.T) {
	img := openFirmware(t)

	assert.Equal(t, []symtab.InlineCall{
		{Name: "bump", CallFile: "/work/fw/src/main.c", CallLine: 12, CallColumn: 7},
	}, img.InlineChain(0x2c))
	assert.Empty(t, img.InlineChain(0x26))
	assert.Empty(t, img.InlineChain(0x38))
	assert.Empty(t, img.InlineChain(0x12))
}

func TestFirmwareUnwindContext(t *testing.T) {
	img := openFirmware(t)

	// after push {r7, lr}
	ctx, err := img.UnwindContext(0x22)
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.Equal(t, frame.RuleCFA, ctx.CFA.Rule)
	assert.Equal(t, uint64(13), ctx.CFA.Reg)
	assert.Equal(t, int64(8), ctx.CFA.Offset)
	assert.Equal(t, uint64(14), ctx.RetAddrReg)

	// after mov r7, sp
	ctx, err = img.UnwindContext(0x2c)
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.Equal(t, uint64(7), ctx.CFA.Reg)
	assert.Equal(t, int64(8), ctx.CFA.Offset)
	assert.Equal(t, frame.DWRule{Rule: frame.RuleOffset, Offset: -4}, ctx.Regs[14])
	assert.Equal(t, frame.DWRule{Rule: frame.RuleOffset, Offset: -8}, ctx.Regs[7])

	// HardFault spins without touching the stack
	ctx, err = img.UnwindContext(0x40)
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.Equal(t, uint64(13), ctx.CFA.Reg)
	assert.Equal(t, int64(0), ctx.CFA.Offset)

	ctx, err = img.UnwindContext(0x1000)
	assert.NoError(t, err)
	assert.Nil(t, ctx)
}

func TestDowngradeCIEs(t *testing.T) {
	cie := []byte{
		0x10, 0x00, 0x00, 0x00, // length
		0xff, 0xff, 0xff, 0xff, // CIE id
		0x04, 0x00, 0x04, 0x00, // version, augmentation, address size, segment size
		0x01, 0x7c, 0x0e, // code align, data align, return address register
		0x0c, 0x0d, 0x00, // def_cfa sp+0
		0x00, 0x00, // nop
	}
	fde := []byte{
		0x0c, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x3e, 0x00, 0x00, 0x00,
		0x04, 0x00, 0x00, 0x00,
	}
	data := append(append([]byte{}, cie...), fde...)

	out := downgradeCIEs(data, binary.LittleEndian)
	assert.Equal(t, []byte{
		0x10, 0x00, 0x00, 0x00,
		0xff, 0xff, 0xff, 0xff,
		0x03, 0x00,
		0x01, 0x7c, 0x0e,
		0x0c, 0x0d, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}, out[:len(cie)])
	assert.Equal(t, fde, out[len(cie):])

	v3 := append([]byte{}, out...)
	assert.Equal(t, v3, downgradeCIEs(out, binary.LittleEndian))
}
