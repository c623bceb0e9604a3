package american

// attempt is one link of a fallback chain. It reports whether its value is usable.
type attempt[T any] func() (T, bool)

// firstValid runs the attempts in order and returns the first usable value with
// its position in the chain. If no attempt succeeds it returns the zero value
// and -1.
func firstValid[T any](attempts ...attempt[T]) (T, int) {
	for i, a := range attempts {
		if v, ok := a(); ok {
			return v, i
		}
	}

	var zero T
	return zero, -1
}

// finite wraps a float producer as an attempt that accepts finite values only
func finite(f func() float64) attempt[float64] {
	return func() (float64, bool) {
		v := f()
		return v, isFinite(v)
	}
}
