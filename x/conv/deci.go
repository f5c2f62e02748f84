package conv

// AppendDeci appends a fixed-point value given in tenths, e.g. 723 -> "72.3"
// and -5 -> "-0.5".
func AppendDeci(dst []byte, tenths int32) []byte {
	v := int64(tenths)
	if v < 0 {
		dst = append(dst, '-')
		v = -v
	}
	dst = AppendUint(dst, uint64(v/10))
	return append(dst, '.', byte('0'+v%10))
}

// AppendUint appends the decimal digits of n without allocating.
func AppendUint(dst []byte, n uint64) []byte {
	var buf [20]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(dst, buf[i:]...)
}
