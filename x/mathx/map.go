package mathx

// LinearQ16 maps a 16-bit raw reading onto span*raw/65536 + offset, the
// usual shape of a sensor transfer function. Choose span and offset in the
// output resolution (e.g. milli-units).
func LinearQ16(raw uint16, span, offset int64) int64 {
	return (span*int64(raw))>>16 + offset
}

// Pow2Floor returns the largest power of two <= n, or 0 for n < 1.
func Pow2Floor(n int) int {
	if n < 1 {
		return 0
	}
	p := 1
	for p <= n/2 {
		p <<= 1
	}
	return p
}
