package elf

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// UnsupportedMachineError is returned for images built for an architecture
// the unwinder does not know the calling convention of.
type UnsupportedMachineError struct {
	Machine elf.Machine
}

func (e *UnsupportedMachineError) Error() string {
	return fmt.Sprintf("unsupported machine %v, only ARM (Cortex-M) images can be unwound", e.Machine)
}

var errNotELF = errors.New("unrecognized executable format")

// openExe opens name and checks it is a 32-bit ARM ELF file.
func openExe(name string) (*os.File, *elf.File, error) {
	f, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, nil, err
	}

	buf := make([]byte, 16)
	_, err = io.ReadFull(f, buf)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !bytes.HasPrefix(buf, []byte(elf.ELFMAG)) {
		f.Close()
		return nil, nil, errNotELF
	}

	_, err = f.Seek(0, io.SeekStart)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	e, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if e.Machine != elf.EM_ARM || e.Class != elf.ELFCLASS32 {
		machine := e.Machine
		e.Close()
		f.Close()
		return nil, nil, &UnsupportedMachineError{Machine: machine}
	}
	return f, e, nil
}

// codeRanges returns the executable PT_LOAD segments.
func codeRanges(e *elf.File) [][2]uint64 {
	var out [][2]uint64
	for _, prog := range e.Progs {
		// Skip uninteresting segments.
		if prog.Type != elf.PT_LOAD || (prog.Flags&elf.PF_X) == 0 || prog.Memsz == 0 {
			continue
		}
		out = append(out, [2]uint64{prog.Vaddr, prog.Vaddr + prog.Memsz})
	}
	return out
}

// sectionData returns the contents of the named section, or nil when the
// image has no such section.
func sectionData(e *elf.File, name string) ([]byte, error) {
	sec := e.Section(name)
	if sec == nil || sec.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, errors.Wrapf(err, "read section %s", name)
	}
	return data, nil
}
