package backtrace

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Mode selects when the backtrace is displayed.
type Mode int

const (
	// ModeAuto displays the backtrace when the run ended abnormally.
	ModeAuto Mode = iota
	// ModeNever is currently gated exactly like ModeAuto: faults, stack
	// overflows and corrupted stacks are still displayed.
	ModeNever
	// ModeAlways always displays the backtrace.
	ModeAlways
)

// DefaultFrameLimit is the number of frames displayed when not configured.
const DefaultFrameLimit = 50

var (
	// ErrInvalidMode is wrapped by InvalidModeError.
	ErrInvalidMode = errors.New("invalid backtrace mode")
	// ErrNegativeLimit rejects negative frame limits.
	ErrNegativeLimit = errors.New("backtrace limit must not be negative")
)

// InvalidModeError reports an unrecognized display mode.
type InvalidModeError struct {
	Value string
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("%v %q: options for `--backtrace` are `auto`, `never`, `always`", ErrInvalidMode, e.Value)
}

// Unwrap allows errors.Is(err, ErrInvalidMode).
func (e *InvalidModeError) Unwrap() error {
	return ErrInvalidMode
}

// ParseMode parses a display mode, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "auto":
		return ModeAuto, nil
	case "never":
		return ModeNever, nil
	case "always":
		return ModeAlways, nil
	}
	return ModeAuto, &InvalidModeError{Value: s}
}

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeNever:
		return "never"
	case ModeAlways:
		return "always"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Settings controls how a backtrace is displayed. It is passed by value and
// never written back to.
type Settings struct {
	Mode Mode
	// FrameLimit caps the displayed frames, 0 means unlimited.
	FrameLimit   int
	ShortenPaths bool
	WorkingDir   string
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Mode:       ModeAuto,
		FrameLimit: DefaultFrameLimit,
	}
}

// Validate checks the settings before any target access.
func (s Settings) Validate() error {
	if s.Mode < ModeAuto || s.Mode > ModeAlways {
		return &InvalidModeError{Value: s.Mode.String()}
	}
	if s.FrameLimit < 0 {
		return errors.Wrapf(ErrNegativeLimit, "got %d", s.FrameLimit)
	}
	return nil
}
