package backtrace

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

const exceptionEntry = "      <exception entry>"

type renderer struct {
	w         io.Writer
	err       error
	exception *color.Color
	location  *color.Color
	unknown   *color.Color
}

func newRenderer(w io.Writer, enableColor bool) *renderer {
	r := &renderer{
		w:         w,
		exception: color.New(color.FgYellow),
		location:  color.New(color.Faint),
		unknown:   color.New(color.FgRed),
	}
	for _, c := range []*color.Color{r.exception, r.location, r.unknown} {
		if enableColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

func (r *renderer) printf(format string, args ...interface{}) {
	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintf(r.w, format, args...)
}

// Render writes at most limit frames, innermost first.
func Render(w io.Writer, frames []SymbolicatedFrame, limit int, enableColor bool) error {
	r := newRenderer(w, enableColor)
	if limit > len(frames) {
		limit = len(frames)
	}

	r.printf("stack backtrace:\n")
	if len(frames) == 0 {
		r.printf("   (no frames)\n")
	}
	for i := 0; i < limit; i++ {
		f := &frames[i]
		r.frame(f)
		lastOfRaw := i+1 == len(frames) || frames[i+1].RawIndex != f.RawIndex
		if f.IsException && lastOfRaw {
			r.printf("%s\n", r.exception.Sprint(exceptionEntry))
		}
	}
	if dropped := len(frames) - limit; dropped > 0 {
		r.printf("   ... %d more frames, raise the backtrace limit to see them\n", dropped)
	}
	return r.err
}

func (r *renderer) frame(f *SymbolicatedFrame) {
	name := f.Function
	if f.Unknown {
		name = r.unknown.Sprint(name)
	}
	if f.IsInline {
		r.printf("%4d: [inline] %s\n", f.Index, name)
	} else {
		r.printf("%4d: 0x%08x @ %s\n", f.Index, f.PC, name)
	}
	if loc := f.Location(); loc != "" {
		r.printf("%s\n", r.location.Sprint("        at "+loc))
	}
}
