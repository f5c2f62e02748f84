package conv

const hexd = "0123456789ABCDEF"

// AppendHex8 appends "0x" and two uppercase hex digits.
func AppendHex8(dst []byte, b byte) []byte {
	return append(dst, '0', 'x', hexd[b>>4], hexd[b&0xF])
}
