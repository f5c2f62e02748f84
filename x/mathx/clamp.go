package mathx

import "golang.org/x/exp/constraints"

// Clamp pins v into the closed range spanned by lo and hi, in either order.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	lo, hi = min(lo, hi), max(lo, hi)
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// Between reports whether v lies in the closed range spanned by lo and hi.
func Between[T constraints.Ordered](v, lo, hi T) bool {
	return Clamp(v, lo, hi) == v
}

func Min[T constraints.Ordered](a, b T) T {
	if b < a {
		return b
	}
	return a
}
