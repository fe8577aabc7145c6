package symtab

import "debug/elf"

// SymbolType symbol type
type SymbolType int

const (
	// Unknown unknown type
	Unknown SymbolType = iota
	// Function code symbol
	Function
	// Object data symbol
	Object
	// Section section symbol
	Section
)

// TypeOf maps an ELF symbol type to SymbolType.
func TypeOf(t elf.SymType) SymbolType {
	switch t {
	case elf.STT_FUNC, elf.STT_LOOS: // STT_LOOS == STT_GNU_IFUNC (10); the latter name needs Go 1.22
		return Function
	case elf.STT_OBJECT, elf.STT_COMMON, elf.STT_TLS:
		return Object
	case elf.STT_SECTION:
		return Section
	default:
	}
	return Unknown
}

func (t SymbolType) String() string {
	switch t {
	case Function:
		return "func"
	case Object:
		return "object"
	case Section:
		return "section"
	}
	return "unknown"
}
