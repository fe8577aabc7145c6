package backtrace

import (
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// UnknownFunction names frames no symbol covers.
const UnknownFunction = "<unknown>"

type location struct {
	function string
	file     string
	line     int
	column   int
	inline   bool
	unknown  bool
}

// Symbolicator maps raw frames to source level frames.
type Symbolicator struct {
	img      Image
	settings Settings
	cache    *lru.Cache[uint64, []location]
}

// NewSymbolicator creates a symbolicator. A cacheSize of 0 disables caching.
func NewSymbolicator(img Image, settings Settings, cacheSize int) *Symbolicator {
	s := &Symbolicator{img: img, settings: settings}
	if cacheSize > 0 {
		s.cache, _ = lru.New[uint64, []location](cacheSize)
	}
	return s
}

// Symbolicate expands every raw frame into one or more symbolicated frames,
// keeping the innermost-first order.
func (s *Symbolicator) Symbolicate(store *FrameStore) []SymbolicatedFrame {
	out := make([]SymbolicatedFrame, 0, len(store.Frames))
	for i, raw := range store.Frames {
		for _, loc := range s.resolve(lookupAddr(store.Frames, i)) {
			out = append(out, SymbolicatedFrame{
				Index:       len(out),
				Function:    loc.function,
				File:        s.normalizePath(loc.file),
				Line:        loc.line,
				Column:      loc.column,
				PC:          raw.PC,
				IsInline:    loc.inline,
				IsException: raw.IsExceptionFrame,
				Unknown:     loc.unknown,
				RawIndex:    i,
			})
		}
	}
	return out
}

// lookupAddr returns the address used to symbolicate frame i. Return
// addresses point after the call instruction, so they are moved back into
// it. The innermost frame and frames interrupted by an exception hold the
// exact pc.
func lookupAddr(frames []RawFrame, i int) uint64 {
	pc := frames[i].PC
	if i == 0 || frames[i-1].IsExceptionFrame || pc == 0 {
		return pc
	}
	return pc - 1
}

func (s *Symbolicator) resolve(addr uint64) []location {
	if s.cache != nil {
		if locs, ok := s.cache.Get(addr); ok {
			return locs
		}
	}

	var (
		locs   []location
		file   string
		line   int
		column int
	)
	if le, ok := s.img.Lines().Lookup(addr); ok {
		file, line, column = le.File, le.Line, le.Column
	}
	// Each inlined function is reported where its body is executing; the
	// function it was inlined into continues at the call site.
	for _, call := range s.img.InlineChain(addr) {
		name := call.Name
		if name == "" {
			name = UnknownFunction
		}
		locs = append(locs, location{
			function: name,
			file:     file,
			line:     line,
			column:   column,
			inline:   true,
		})
		file, line, column = call.CallFile, call.CallLine, call.CallColumn
	}

	outer := location{file: file, line: line, column: column}
	if sym := s.img.Symbols().Lookup(addr); sym != nil && sym.Name != "" {
		outer.function = sym.Name
	} else {
		outer.function = UnknownFunction
		outer.unknown = true
	}
	locs = append(locs, outer)

	if s.cache != nil {
		s.cache.Add(addr, locs)
	}
	return locs
}

// normalizePath rewrites paths under the working directory relative to it
// when path shortening is enabled. Other paths are left unchanged.
func (s *Symbolicator) normalizePath(path string) string {
	wd := s.settings.WorkingDir
	if !s.settings.ShortenPaths || wd == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}
