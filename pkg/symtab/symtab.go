package symtab

import (
	"sort"
)

// Table saves the symbols of a program image, sorted by address.
type Table struct {
	symbols []*Symbol
}

// Symbol represents a symbol in a program image.
type Symbol struct {
	Type SymbolType
	Addr uint64
	Size uint64
	Name string
}

// New creates a table from syms. syms is copied and sorted by address.
func New(syms []*Symbol) *Table {
	t := &Table{symbols: make([]*Symbol, 0, len(syms))}
	for _, sym := range syms {
		if sym == nil {
			continue
		}
		t.symbols = append(t.symbols, sym)
	}
	sort.Stable(t)
	return t
}

// Contains reports whether addr lies in the symbol's range.
// Symbols without size never contain an address on their own.
func (s *Symbol) Contains(addr uint64) bool {
	return s.Size > 0 && s.Addr <= addr && addr-s.Addr < s.Size
}

// Len return the count of symbols.
func (t *Table) Len() int {
	return len(t.symbols)
}

// Less compares the addresses of symbols with subscripts i and j.
func (t *Table) Less(i, j int) bool {
	return t.symbols[i].Addr < t.symbols[j].Addr
}

// Swap swaps symbols with subscripts i and j.
func (t *Table) Swap(i, j int) {
	sym := t.symbols[i]
	t.symbols[i] = t.symbols[j]
	t.symbols[j] = sym
}

// Lookup finds the symbol whose range contains addr.
//
// Sized symbols are matched by containment. An unsized symbol covers the
// addresses up to the next symbol, which is how hand written assembly
// labels usually show up.
func (t *Table) Lookup(addr uint64) *Symbol {
	if t == nil {
		return nil
	}
	// first symbol starting after addr
	i := sort.Search(len(t.symbols), func(i int) bool {
		return t.symbols[i].Addr > addr
	})
	for j := i - 1; j >= 0; j-- {
		sym := t.symbols[j]
		if sym.Contains(addr) {
			return sym
		}
		if sym.Size == 0 && j == i-1 {
			return sym
		}
		// Sized symbols may nest or overlap (aliases), keep scanning
		// downwards while a candidate could still reach addr.
		if addr-sym.Addr > maxSymbolSpan {
			break
		}
	}
	return nil
}

// Symbols returns all symbols in address order.
func (t *Table) Symbols() []*Symbol {
	if t == nil {
		return nil
	}
	out := make([]*Symbol, len(t.symbols))
	copy(out, t.symbols)
	return out
}

// maxSymbolSpan bounds the backwards scan in Lookup.
const maxSymbolSpan = 1 << 20
