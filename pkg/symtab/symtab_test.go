package symtab

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() *Table {
	return New([]*Symbol{
		{Type: Function, Addr: 0x200, Size: 0x40, Name: "main"},
		{Type: Function, Addr: 0x100, Size: 0x20, Name: "Reset"},
		{Type: Function, Addr: 0x300, Size: 0, Name: "HardFaultTrampoline"},
		{Type: Function, Addr: 0x400, Size: 0x10, Name: "HardFault"},
	})
}

func TestLookup(t *testing.T) {
	table := testTable()
	require.Equal(t, 4, table.Len())

	tests := []struct {
		addr uint64
		want string
	}{
		{0x100, "Reset"},
		{0x11f, "Reset"},
		{0x120, ""},
		{0x234, "main"},
		{0x23f, "main"},
		{0x240, ""},
		{0x300, "HardFaultTrampoline"},
		{0x3ff, "HardFaultTrampoline"},
		{0x40f, "HardFault"},
		{0x410, ""},
		{0x0ff, ""},
	}
	for _, tt := range tests {
		sym := table.Lookup(tt.addr)
		if tt.want == "" {
			assert.Nil(t, sym, "addr %#x", tt.addr)
			continue
		}
		require.NotNil(t, sym, "addr %#x", tt.addr)
		assert.Equal(t, tt.want, sym.Name, "addr %#x", tt.addr)
	}
}

func TestLookupNilTable(t *testing.T) {
	var table *Table
	assert.Nil(t, table.Lookup(0x100))
	assert.Nil(t, table.Symbols())
}

func TestSymbolsSorted(t *testing.T) {
	syms := testTable().Symbols()
	for i := 1; i < len(syms); i++ {
		assert.LessOrEqual(t, syms[i-1].Addr, syms[i].Addr)
	}
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, Function, TypeOf(elf.STT_FUNC))
	assert.Equal(t, Object, TypeOf(elf.STT_OBJECT))
	assert.Equal(t, Unknown, TypeOf(elf.STT_NOTYPE))
	assert.Equal(t, "func", Function.String())
}

func TestLineTableLookup(t *testing.T) {
	lt := NewLineTable([]LineEntry{
		{Addr: 0x120, File: "src/main.rs", Line: 20},
		{Addr: 0x100, File: "src/main.rs", Line: 10, Column: 5},
		{Addr: 0x140, EndSequence: true},
		{Addr: 0x200, File: "src/lib.rs", Line: 3},
	})
	require.Equal(t, 4, lt.Len())

	_, ok := lt.Lookup(0xff)
	assert.False(t, ok)

	e, ok := lt.Lookup(0x100)
	require.True(t, ok)
	assert.Equal(t, 10, e.Line)
	assert.Equal(t, 5, e.Column)

	e, ok = lt.Lookup(0x13f)
	require.True(t, ok)
	assert.Equal(t, 20, e.Line)

	_, ok = lt.Lookup(0x150)
	assert.False(t, ok, "gap between sequences")

	e, ok = lt.Lookup(0x1000)
	require.True(t, ok)
	assert.Equal(t, "src/lib.rs", e.File)
}
