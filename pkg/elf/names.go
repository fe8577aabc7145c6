package elf

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// demangleName turns a linkage name into a readable path. Names that are not
// mangled are returned unchanged.
func demangleName(name string) string {
	if name == "" {
		return name
	}
	return trimRustHash(demangle.Filter(name))
}

// trimRustHash drops the "::h0123456789abcdef" disambiguator of legacy Rust
// symbols.
func trimRustHash(name string) string {
	i := strings.LastIndex(name, "::h")
	if i < 0 || len(name)-i != 3+16 {
		return name
	}
	for _, c := range name[i+3:] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return name
		}
	}
	return name[:i]
}
