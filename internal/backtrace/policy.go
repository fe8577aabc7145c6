package backtrace

// ShouldRender decides whether the backtrace is displayed. Only ModeAlways
// changes the decision; ModeAuto and ModeNever both give way to stack
// overflows, corrupted stacks and exception frames.
func ShouldRender(mode Mode, outcome Outcome, corrupted, hasException bool) bool {
	return mode == ModeAlways ||
		outcome == StackOverflow ||
		corrupted ||
		hasException
}

// ResolveLimit returns the number of frames to render. A requested limit of
// 0 means all of them.
func ResolveLimit(requested, total int) int {
	if requested <= 0 || requested > total {
		return total
	}
	return requested
}
