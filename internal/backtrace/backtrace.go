// Package backtrace unwinds the call stack of a halted Cortex-M core,
// symbolicates it, classifies the run and prints the backtrace.
package backtrace

import (
	"github.com/didi/halttrace/pkg/target"
)

// Report is the result of one backtrace run.
type Report struct {
	Outcome Outcome
	Store   *FrameStore
	Frames  []SymbolicatedFrame
	// Rendered is set when the backtrace was printed.
	Rendered bool
	// Limit is the number of frames the render step was allowed to print.
	Limit int
}

// Backtracer runs the unwind, symbolicate, classify and print pipeline.
type Backtracer struct {
	opts *Options
}

// New creates a Backtracer.
func New(options ...Option) *Backtracer {
	opts := NewDefaultOptions()
	for _, opt := range options {
		opt(opts)
	}
	return &Backtracer{opts: opts}
}

// Run virtually unwinds the halted core and prints its backtrace when the
// settings or the outcome ask for it. The returned error is either a
// settings error, reported before the core is touched, or a failure to
// write the backtrace; the report is valid in the latter case.
func (b *Backtracer) Run(core target.Core, img Image, ram *target.RAMRegion, settings Settings) (*Report, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	logger := b.opts.Logger

	store := Unwind(core, img, ram, WithLogger(logger), WithMaxFrames(b.opts.MaxFrames))
	frames := NewSymbolicator(img, settings, b.opts.CacheSize).Symbolicate(store)
	report := &Report{
		Outcome: Classify(store, ram),
		Store:   store,
		Frames:  frames,
	}

	if !ShouldRender(settings.Mode, report.Outcome, store.Corrupted, store.HasException()) {
		if store.ProcessingError != nil {
			logger.Debug().Err(store.ProcessingError).Msg("backtrace suppressed")
		}
		return report, nil
	}

	report.Rendered = true
	report.Limit = ResolveLimit(settings.FrameLimit, len(frames))
	err := Render(b.opts.Output, frames, report.Limit, b.opts.Color)

	if store.Corrupted {
		logger.Warn().Msg("call stack was corrupted; unwinding could not be completed")
	}
	if store.ProcessingError != nil {
		logger.Error().Err(store.ProcessingError).
			Msg("error occurred during backtrace creation; the backtrace may be incomplete")
	}
	return report, err
}
