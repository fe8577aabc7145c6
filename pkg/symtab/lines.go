package symtab

import "sort"

// LineEntry is one row of the line-number program.
type LineEntry struct {
	Addr   uint64
	File   string
	Line   int
	Column int
	// EndSequence marks the first address after a contiguous run of code.
	EndSequence bool
}

// LineTable maps addresses to source positions.
type LineTable struct {
	entries []LineEntry
}

// NewLineTable creates a line table. entries is copied and sorted by address;
// rows with equal addresses keep their input order and the last one wins.
func NewLineTable(entries []LineEntry) *LineTable {
	lt := &LineTable{entries: make([]LineEntry, len(entries))}
	copy(lt.entries, entries)
	sort.SliceStable(lt.entries, func(i, j int) bool {
		return lt.entries[i].Addr < lt.entries[j].Addr
	})
	return lt
}

// Len returns the number of rows.
func (lt *LineTable) Len() int {
	if lt == nil {
		return 0
	}
	return len(lt.entries)
}

// Lookup returns the nearest row whose address is not greater than addr.
// ok is false when addr precedes the table or falls in a gap between
// sequences.
func (lt *LineTable) Lookup(addr uint64) (LineEntry, bool) {
	if lt == nil {
		return LineEntry{}, false
	}
	i := sort.Search(len(lt.entries), func(i int) bool {
		return lt.entries[i].Addr > addr
	})
	if i == 0 {
		return LineEntry{}, false
	}
	e := lt.entries[i-1]
	if e.EndSequence {
		return LineEntry{}, false
	}
	return e, true
}
