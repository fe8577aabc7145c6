package symtab

// InlineCall is one level of an inline-call chain.
//
// Name is the inlined function. CallFile, CallLine and CallColumn locate
// the call site in the function it was inlined into.
type InlineCall struct {
	Name       string
	CallFile   string
	CallLine   int
	CallColumn int
}
