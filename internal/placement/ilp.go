package placement

// ILPStrategy is a pluggable alternative honoring the same Strategy
// contract as BottomUp/TopDown; spec.md §4.9 treats it as "out of detail
// scope" — this stub lets callers wire a Strategy-typed slot today and
// swap in a real integer-linear-programming solver later without
// changing any caller.
type ILPStrategy struct{}

// Place always fails: no ILP solver is wired in this build.
func (ILPStrategy) Place(Request) error {
	return ErrUnsupportedStrategy
}
