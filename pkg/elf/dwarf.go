package elf

import (
	"debug/dwarf"
	"io"

	"github.com/go-delve/delve/pkg/dwarf/godwarf"
	"github.com/go-delve/delve/pkg/dwarf/reader"
	"github.com/pkg/errors"

	"github.com/didi/halttrace/pkg/symtab"
)

// debugInfo answers per-address questions from DWARF. Compilation units are
// indexed on first use.
type debugInfo struct {
	data  *dwarf.Data
	units map[dwarf.Offset]*unitInfo
	names map[dwarf.Offset]string
}

type unitInfo struct {
	files       []*dwarf.LineFile
	subprograms []*godwarf.Tree
}

func newDebugInfo(d *dwarf.Data) *debugInfo {
	return &debugInfo{
		data:  d,
		units: map[dwarf.Offset]*unitInfo{},
		names: map[dwarf.Offset]string{},
	}
}

// lineTable reads the line programs of all compilation units. Sequences
// that do not start in code are dropped, linkers leave discarded functions
// at address zero.
func (di *debugInfo) lineTable(isCode func(uint64) bool) (*symtab.LineTable, error) {
	var rows []symtab.LineEntry
	r := di.data.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return nil, errors.Wrap(err, "read compilation units")
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		r.SkipChildren()

		lr, err := di.data.LineReader(cu)
		if err != nil {
			return nil, errors.Wrap(err, "create line reader")
		}
		if lr == nil {
			continue
		}

		var seq []symtab.LineEntry
		for {
			var le dwarf.LineEntry
			err := lr.Next(&le)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.Wrap(err, "read line entry")
			}
			row := symtab.LineEntry{
				Addr:        le.Address,
				Line:        le.Line,
				Column:      le.Column,
				EndSequence: le.EndSequence,
			}
			if le.File != nil {
				row.File = le.File.Name
			}
			seq = append(seq, row)
			if le.EndSequence {
				if isCode(seq[0].Addr) {
					rows = append(rows, seq...)
				}
				seq = seq[:0]
			}
		}
	}
	return symtab.NewLineTable(rows), nil
}

// unit returns the index of the compilation unit covering pc.
func (di *debugInfo) unit(pc uint64) *unitInfo {
	r := di.data.Reader()
	cu, err := r.SeekPC(pc)
	if err != nil || cu == nil {
		return nil
	}
	if u, ok := di.units[cu.Offset]; ok {
		return u
	}

	u := &unitInfo{}
	if lr, err := di.data.LineReader(cu); err == nil && lr != nil {
		u.files = lr.Files()
	}

	r.Seek(cu.Offset)
	if _, err := r.Next(); err != nil {
		return nil
	}
	for {
		entry, err := r.Next()
		if err != nil || entry == nil || entry.Tag == dwarf.TagCompileUnit {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		// abstract instances carry no code
		if _, ok := entry.Val(dwarf.AttrInline).(int64); ok {
			continue
		}
		tree, err := godwarf.LoadTree(entry.Offset, di.data, 0)
		if err != nil {
			continue
		}
		u.subprograms = append(u.subprograms, tree)
	}
	di.units[cu.Offset] = u
	return u
}

func (u *unitInfo) subprogram(pc uint64) *godwarf.Tree {
	for _, tree := range u.subprograms {
		if tree.ContainsPC(pc) {
			return tree
		}
	}
	return nil
}

func (u *unitInfo) file(idx int64) string {
	if idx < 0 || int(idx) >= len(u.files) || u.files[idx] == nil {
		return ""
	}
	return u.files[idx].Name
}

func (di *debugInfo) inlineChain(pc uint64) []symtab.InlineCall {
	u := di.unit(pc)
	if u == nil {
		return nil
	}
	tree := u.subprogram(pc)
	if tree == nil {
		return nil
	}

	stack := reader.InlineStack(tree, pc)
	calls := make([]symtab.InlineCall, 0, len(stack))
	for _, inl := range stack {
		if inl.Tag != dwarf.TagInlinedSubroutine {
			continue
		}
		call := symtab.InlineCall{Name: di.treeName(inl)}
		if v, ok := inl.Val(dwarf.AttrCallFile).(int64); ok {
			call.CallFile = u.file(v)
		}
		if v, ok := inl.Val(dwarf.AttrCallLine).(int64); ok {
			call.CallLine = int(v)
		}
		if v, ok := inl.Val(dwarf.AttrCallColumn).(int64); ok {
			call.CallColumn = int(v)
		}
		calls = append(calls, call)
	}
	return calls
}

func (di *debugInfo) treeName(tree *godwarf.Tree) string {
	if tree == nil {
		return ""
	}
	if name := entryName(tree); name != "" {
		return name
	}
	for _, attr := range []dwarf.Attr{dwarf.AttrAbstractOrigin, dwarf.AttrSpecification} {
		if off, ok := tree.Val(attr).(dwarf.Offset); ok {
			if name := di.nameAt(off); name != "" {
				return name
			}
		}
	}
	return ""
}

// nameAt resolves the name of the entry at off, following abstract origins
// and specifications.
func (di *debugInfo) nameAt(off dwarf.Offset) string {
	if name, ok := di.names[off]; ok {
		return name
	}
	// guards against reference cycles in broken debug info
	di.names[off] = ""

	r := di.data.Reader()
	r.Seek(off)
	entry, err := r.Next()
	if err != nil || entry == nil {
		return ""
	}
	name := entryName(entry)
	if name == "" {
		for _, attr := range []dwarf.Attr{dwarf.AttrAbstractOrigin, dwarf.AttrSpecification} {
			if ref, ok := entry.Val(attr).(dwarf.Offset); ok {
				if name = di.nameAt(ref); name != "" {
					break
				}
			}
		}
	}
	di.names[off] = name
	return name
}

type valuer interface {
	Val(dwarf.Attr) interface{}
}

func entryName(e valuer) string {
	if name, ok := e.Val(dwarf.AttrLinkageName).(string); ok && name != "" {
		return demangleName(name)
	}
	if name, ok := e.Val(dwarf.AttrName).(string); ok {
		return name
	}
	return ""
}
