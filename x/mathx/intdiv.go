package mathx

// RoundDiv returns a/b rounded half away from zero. b == 0 yields 0.
func RoundDiv[T ~int | ~int16 | ~int32 | ~int64](a, b T) T {
	if b == 0 {
		return 0
	}
	if b < 0 {
		a, b = -a, -b
	}
	if a < 0 {
		return -((-a + b/2) / b)
	}
	return (a + b/2) / b
}

