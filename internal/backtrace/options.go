package backtrace

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Option sets option for Backtracer
type Option func(opts *Options)

// Options saves options for Backtracer
type Options struct {
	Logger    zerolog.Logger
	Output    io.Writer
	Color     bool
	MaxFrames int
	CacheSize int
}

// NewDefaultOptions create a default options.
func NewDefaultOptions() *Options {
	return &Options{
		Logger:    zerolog.Nop(),
		Output:    os.Stdout,
		MaxFrames: MaxFrames,
		CacheSize: 1024,
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithOutput sets the writer the backtrace is rendered to.
func WithOutput(w io.Writer) Option {
	return func(opts *Options) {
		opts.Output = w
	}
}

// WithColor enables colored output.
func WithColor(color bool) Option {
	return func(opts *Options) {
		opts.Color = color
	}
}

// WithMaxFrames sets the unwind iteration cap.
func WithMaxFrames(n int) Option {
	return func(opts *Options) {
		opts.MaxFrames = n
	}
}

// WithCacheSize sets the number of symbolicated addresses kept.
func WithCacheSize(size int) Option {
	return func(opts *Options) {
		opts.CacheSize = size
	}
}
