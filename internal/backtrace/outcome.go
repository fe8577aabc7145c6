package backtrace

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/didi/halttrace/pkg/target"
)

// Outcome classifies how the target program ended.
type Outcome int

const (
	// Ok means the device halted without error.
	Ok Outcome = iota
	// HardFault means the device halted in a fault handler.
	HardFault
	// StackOverflow means the stack grew past the RAM region.
	StackOverflow
)

// AbnormalExitCode is the process exit code of a faulted run, the shell
// convention for SIGABRT.
const AbnormalExitCode = 134

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case HardFault:
		return "hard fault"
	case StackOverflow:
		return "stack overflow"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Classify derives the outcome from an unwind. A nil ram disables stack
// overflow detection.
func Classify(store *FrameStore, ram *target.RAMRegion) Outcome {
	if sp, ok := store.LastSP(); ok && ram != nil && !ram.Contains(sp) {
		return StackOverflow
	}
	faulted := lo.SomeBy(store.Frames, func(f RawFrame) bool {
		return f.IsExceptionFrame && f.Fault
	})
	if faulted {
		return HardFault
	}
	return Ok
}

// ExitCode maps an outcome to a process exit code.
func ExitCode(o Outcome) int {
	switch o {
	case HardFault, StackOverflow:
		return AbnormalExitCode
	}
	return 0
}

// LogLine returns the severity and message logged for an outcome.
func LogLine(o Outcome) (zerolog.Level, string) {
	switch o {
	case StackOverflow:
		return zerolog.ErrorLevel, "the program has overflowed its stack"
	case HardFault:
		return zerolog.ErrorLevel, "the program panicked"
	}
	return zerolog.InfoLevel, "device halted without error"
}

// LogOutcome emits the outcome's log line.
func LogOutcome(logger zerolog.Logger, o Outcome) {
	level, msg := LogLine(o)
	logger.WithLevel(level).Msg(msg)
}
